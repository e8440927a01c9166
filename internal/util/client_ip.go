package util

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies is the set of reverse proxies whose forwarding headers are
// believed when resolving the caller address. A nil value trusts nobody.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses CIDR or bare IP entries. Empty input yields nil.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil, nil
	}
	return &TrustedProxies{prefixes: prefixes}, nil
}

func (t *TrustedProxies) contains(addr netip.Addr) bool {
	if t == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the caller address used for rate limiting and audit logs.
// X-Forwarded-For is walked right to left only when the direct peer is trusted.
func (t *TrustedProxies) ClientIP(r *http.Request) string {
	remote, err := netip.ParseAddrPort(strings.TrimSpace(r.RemoteAddr))
	var peer netip.Addr
	if err == nil {
		peer = remote.Addr()
	} else if addr, perr := netip.ParseAddr(strings.TrimSpace(r.RemoteAddr)); perr == nil {
		peer = addr
	} else {
		return strings.TrimSpace(r.RemoteAddr)
	}
	peer = peer.Unmap()
	if !t.contains(peer) {
		return peer.String()
	}
	var chain []netip.Addr
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if addr, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
			chain = append(chain, addr.Unmap())
		}
	}
	if len(chain) == 0 {
		return peer.String()
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if !t.contains(chain[i]) {
			return chain[i].String()
		}
	}
	return chain[0].String()
}
