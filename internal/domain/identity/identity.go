// Package identity normalizes claimant and origin identities.
package identity

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel kinds for identity errors.
var (
	ErrEmptyAddress   = errors.New("empty wallet address")
	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrInvalidProxy   = errors.New("invalid trusted proxy")
)

// NormalizeAddress validates a hex wallet address and returns its lower-case
// 0x-prefixed form, so that checksummed and plain spellings share one record.
func NormalizeAddress(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptyAddress
	}
	if !common.IsHexAddress(s) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// TrustAll makes a Resolver honour X-Forwarded-For from any peer.
const TrustAll = "*"

// DefaultTrustedProxies trusts forwarding headers only from the local host,
// i.e. a reverse proxy on the same machine.
var DefaultTrustedProxies = []string{"127.0.0.0/8", "::1/128"}

// Resolver extracts request origins. X-Forwarded-For is honoured only when
// the connecting peer is a trusted proxy; the origin is then the nearest
// untrusted hop.
type Resolver struct {
	trusted  []netip.Prefix
	trustAll bool
}

// NewResolver builds a Resolver trusting the given CIDRs or addresses.
// TrustAll trusts every peer; no entries ignore the header entirely.
func NewResolver(proxies ...string) (*Resolver, error) {
	r := &Resolver{}
	for _, raw := range proxies {
		p := strings.TrimSpace(raw)
		switch {
		case p == "":
			continue
		case p == TrustAll:
			r.trustAll = true
		case strings.Contains(p, "/"):
			prefix, err := netip.ParsePrefix(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, p)
			}
			r.trusted = append(r.trusted, prefix.Masked())
		default:
			addr, err := netip.ParseAddr(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, p)
			}
			r.trusted = append(r.trusted, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
		}
	}
	return r, nil
}

var defaultResolver, _ = NewResolver(DefaultTrustedProxies...)

// Origin resolves the origin of r with DefaultTrustedProxies.
func Origin(r *http.Request) string {
	return defaultResolver.Origin(r)
}

// Origin returns the request origin: the peer address, or, when the peer is
// a trusted proxy, the right-most X-Forwarded-For hop that is not trusted.
func (res *Resolver) Origin(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !res.isTrusted(peer) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !res.isTrusted(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

func (res *Resolver) isTrusted(host string) bool {
	if res.trustAll {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
