package proxyuri

import (
	"net/netip"
	"strings"
)

var documentation = []netip.Prefix{
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("2001:db8::/32"),
}

var reservedSuffixes = []string{".localhost", ".invalid", ".test", ".example", ".local"}

var placeholders = map[string]struct{}{
	"00000000-0000-0000-0000-000000000000": {},

	"uuid":          {},
	"your-uuid":     {},
	"yourpassword":  {},
	"your-password": {},
	"password":      {},
	"changeme":      {},
	"xxxx":          {},
	"xxxxxxxx":      {},
}

// IsProbablyFake flags links that cannot be a real server: loopback,
// unspecified and documentation addresses, reserved host names, and
// placeholder credentials. No network access is made.
func IsProbablyFake(line string) (bool, string) {
	n, err := Parse(line)
	if err != nil {
		return false, ""
	}
	if reason := fakeHost(n.Host); reason != "" {
		return true, reason
	}
	switch n.Scheme {
	case "socks", "http":
	default:
		if n.User == "" && n.Password == "" {
			return true, "missing credentials"
		}
	}
	for _, cred := range []string{n.User, n.Password} {
		if _, ok := placeholders[strings.ToLower(cred)]; ok {
			return true, "placeholder credentials"
		}
	}
	return false, ""
}

func fakeHost(host string) string {
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		addr = addr.Unmap()
		switch {
		case addr.IsLoopback():
			return "loopback address"
		case addr.IsUnspecified():
			return "unspecified address"
		}
		for _, p := range documentation {
			if p.Contains(addr) {
				return "documentation address"
			}
		}
		return ""
	}
	if host == "localhost" {
		return "localhost"
	}
	for _, suffix := range reservedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return "reserved domain"
		}
	}
	for _, domain := range []string{"example.com", "example.net", "example.org"} {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return "reserved domain"
		}
	}
	return ""
}
