package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/okian/claimgate/pkg/logger"
	"github.com/shopspring/decimal"
)

const erc20ABI = `[
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const (
	defaultMaxFeeGwei      = 50
	defaultPriorityFeeGwei = 30
	defaultTokenDecimals   = 18
	defaultPollInterval    = 2 * time.Second
	gasHeadroomPercent     = 20
)

var gwei = big.NewInt(1_000_000_000)

// Backend is the subset of an Ethereum JSON-RPC client the EVM transmitter
// needs. *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVMConfig describes the treasury and the token contract.
type EVMConfig struct {
	RPCURL          string
	PrivateKey      string
	TokenAddress    string
	MaxFeeGwei      int64
	PriorityFeeGwei int64
	// Decimals of the token; zero means ask the contract.
	Decimals     uint8
	PollInterval time.Duration
}

// EVM transfers an ERC-20 token with EIP-1559 transactions signed by the
// treasury key and waits for the receipt.
type EVM struct {
	backend  Backend
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	token    common.Address
	chainID  *big.Int
	maxFee   *big.Int
	tip      *big.Int
	decimals uint8
	poll     time.Duration
	logger   logger.Logger

	// nonceMu serializes signing and broadcast so concurrent transfers take
	// consecutive nonces. nonce is valid only while haveNonce is set.
	nonceMu   sync.Mutex
	nonce     uint64
	haveNonce bool
}

// DialEVM connects to cfg.RPCURL and builds an EVM transmitter.
func DialEVM(ctx context.Context, cfg EVMConfig, l logger.Logger) (*EVM, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, errors.Join(ErrNetwork, err))
	}
	return NewEVM(ctx, client, cfg, l)
}

// NewEVM builds an EVM transmitter over backend.
func NewEVM(ctx context.Context, backend Backend, cfg EVMConfig, l logger.Logger) (*EVM, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("treasury key: %w", err)
	}
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("token address %q is not a hex address", cfg.TokenAddress)
	}
	if l == nil {
		l = logger.Get().Named("chain")
	}

	e := &EVM{
		backend:  backend,
		abi:      parsed,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		token:    common.HexToAddress(cfg.TokenAddress),
		maxFee:   new(big.Int).Mul(big.NewInt(orDefault(cfg.MaxFeeGwei, defaultMaxFeeGwei)), gwei),
		tip:      new(big.Int).Mul(big.NewInt(orDefault(cfg.PriorityFeeGwei, defaultPriorityFeeGwei)), gwei),
		decimals: cfg.Decimals,
		poll:     cfg.PollInterval,
		logger:   l,
	}
	if e.poll <= 0 {
		e.poll = defaultPollInterval
	}

	if e.chainID, err = backend.ChainID(ctx); err != nil {
		return nil, fmt.Errorf("chain id: %w", errors.Join(ErrNetwork, err))
	}
	if e.decimals == 0 {
		d, err := e.tokenDecimals(ctx)
		if err != nil {
			l.Warn(ctx, "could not read token decimals, assuming 18", logger.Error(err))
			d = defaultTokenDecimals
		}
		e.decimals = d
	}

	l.Info(ctx, "evm transmitter ready",
		logger.String("treasury", e.from.Hex()),
		logger.String("token", e.token.Hex()),
		logger.String("chain_id", e.chainID.String()),
		logger.Int("decimals", int(e.decimals)),
	)
	return e, nil
}

// Treasury returns the sending address.
func (e *EVM) Treasury() common.Address { return e.from }

// Transfer implements Transmitter.
func (e *EVM) Transfer(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("recipient %q: %w", to, ErrRejectedByChain)
	}
	units, err := e.toUnits(amount)
	if err != nil {
		return "", err
	}
	data, err := e.abi.Pack("transfer", common.HexToAddress(to), units)
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", errors.Join(ErrRejectedByChain, err))
	}

	signed, err := e.broadcast(ctx, data)
	if err != nil {
		if signed == nil {
			return "", err
		}
		return signed.Hash().Hex(), err
	}
	txRef := signed.Hash().Hex()
	e.logger.Info(ctx, "transfer broadcast", logger.String("tx", txRef), logger.String("to", to), logger.String("amount", amount.String()))

	return txRef, e.waitMined(ctx, signed.Hash())
}

// broadcast signs and sends one transfer call with the next treasury nonce.
// The nonce is read from the node once and then kept locally; any failure
// drops it so the next transfer reads it again. A non-nil transaction is
// returned with the error when the send itself may have reached the node.
func (e *EVM) broadcast(ctx context.Context, data []byte) (*types.Transaction, error) {
	e.nonceMu.Lock()
	defer e.nonceMu.Unlock()

	if !e.haveNonce {
		n, err := e.backend.PendingNonceAt(ctx, e.from)
		if err != nil {
			return nil, fmt.Errorf("nonce: %w", errors.Join(ErrNetwork, err))
		}
		e.nonce, e.haveNonce = n, true
	}

	gas, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: e.from, To: &e.token, Data: data})
	if err != nil {
		e.haveNonce = false
		// A revert during estimation means the transfer itself would revert.
		if isRPCError(err) {
			return nil, fmt.Errorf("estimate gas: %w", errors.Join(ErrRejectedByChain, err))
		}
		return nil, fmt.Errorf("estimate gas: %w", errors.Join(ErrNetwork, err))
	}
	gas += gas * gasHeadroomPercent / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     e.nonce,
		GasTipCap: e.tip,
		GasFeeCap: e.maxFee,
		Gas:       gas,
		To:        &e.token,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		e.haveNonce = false
		return nil, fmt.Errorf("sign: %w", errors.Join(ErrRejectedByChain, err))
	}

	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		e.haveNonce = false
		if isRPCError(err) {
			// The node answered and refused it: nothing was broadcast.
			return nil, fmt.Errorf("send: %w", errors.Join(ErrRejectedByChain, err))
		}
		// Transport failure mid-send: the node may or may not have the tx.
		return signed, fmt.Errorf("send %s: %w", signed.Hash().Hex(), err)
	}
	e.nonce++
	return signed, nil
}

func (e *EVM) waitMined(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("tx %s reverted: %w", hash.Hex(), ErrRejectedByChain)
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			e.logger.Debug(ctx, "receipt poll failed", logger.String("tx", hash.Hex()), logger.Error(err))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("tx %s: %w", hash.Hex(), errors.Join(ErrTimeout, ctx.Err()))
		case <-ticker.C:
		}
	}
}

// BalanceOf implements Transmitter.
func (e *EVM) BalanceOf(ctx context.Context, owner string) (decimal.Decimal, error) {
	addr := e.from
	if owner != "" {
		if !common.IsHexAddress(owner) {
			return decimal.Zero, fmt.Errorf("owner %q is not a hex address", owner)
		}
		addr = common.HexToAddress(owner)
	}
	data, err := e.abi.Pack("balanceOf", addr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf: %w", errors.Join(ErrNetwork, err))
	}
	vals, err := e.abi.Unpack("balanceOf", out)
	if err != nil || len(vals) != 1 {
		return decimal.Zero, fmt.Errorf("unpack balanceOf: %w", err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("unpack balanceOf: unexpected %T", vals[0])
	}
	return decimal.NewFromBigInt(bal, -int32(e.decimals)), nil
}

func (e *EVM) tokenDecimals(ctx context.Context) (uint8, error) {
	data, err := e.abi.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.token, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	vals, err := e.abi.Unpack("decimals", out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unpack decimals: unexpected %T", vals[0])
	}
	return d, nil
}

// toUnits scales amount to the token's smallest unit.
func (e *EVM) toUnits(amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount %s: %w", amount, ErrRejectedByChain)
	}
	scaled := amount.Shift(int32(e.decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals: %w", amount, e.decimals, ErrRejectedByChain)
	}
	return scaled.BigInt(), nil
}

func isRPCError(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

func orDefault(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
