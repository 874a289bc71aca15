package claimload

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/okian/claimgate/pkg/logger"
)

// generateWallets creates n fresh wallet addresses.
func generateWallets(n int) ([]string, error) {
	wallets := make([]string, n)
	for i := range wallets {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate wallet key: %w", err)
		}
		wallets[i] = strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	}
	return wallets, nil
}

// originFor returns a distinct synthetic IPv4 address for index i.
func originFor(i int) string {
	return fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xff, (i>>8)&0xff, i&0xff)
}

// generateClaims fires ClaimsPerWallet claims for each wallet, each from its
// own origin, shuffled so that claims of one wallet interleave.
func generateClaims(ctx context.Context, config *Config) ([]Claim, error) {
	wallets, err := generateWallets(config.Wallets)
	if err != nil {
		return nil, err
	}
	claims := make([]Claim, 0, config.Wallets*config.ClaimsPerWallet)
	for _, w := range wallets {
		for j := 0; j < config.ClaimsPerWallet; j++ {
			claims = append(claims, Claim{Wallet: w, Score: config.Score, Origin: originFor(len(claims))})
		}
	}
	rand.Shuffle(len(claims), func(i, j int) { claims[i], claims[j] = claims[j], claims[i] })

	logger.Get().Info(ctx, "claims generated",
		logger.Int("wallets", config.Wallets),
		logger.Int("claims", len(claims)))
	return claims, nil
}
