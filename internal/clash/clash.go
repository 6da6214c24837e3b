// Package clash exports the live server list as a Clash "proxies:" document.
package clash

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/projectdiscovery/gologger"
	"gopkg.in/yaml.v3"

	"github.com/justVisiting992/subkeeper/internal/proxyuri"
	"github.com/justVisiting992/subkeeper/internal/store"
)

// Proxy is one entry of the proxies list.
type Proxy struct {
	Name           string       `yaml:"name"`
	Type           string       `yaml:"type"`
	Server         string       `yaml:"server"`
	Port           int          `yaml:"port"`
	UUID           string       `yaml:"uuid,omitempty"`
	Username       string       `yaml:"username,omitempty"`
	Password       string       `yaml:"password,omitempty"`
	Cipher         string       `yaml:"cipher,omitempty"`
	AlterID        *int         `yaml:"alterId,omitempty"`
	Flow           string       `yaml:"flow,omitempty"`
	UDP            bool         `yaml:"udp"`
	TLS            bool         `yaml:"tls,omitempty"`
	SkipCertVerify bool         `yaml:"skip-cert-verify"`
	ServerName     string       `yaml:"servername,omitempty"`
	SNI            string       `yaml:"sni,omitempty"`
	Network        string       `yaml:"network,omitempty"`
	WSOpts         *WSOpts      `yaml:"ws-opts,omitempty"`
	GRPCOpts       *GRPCOpts    `yaml:"grpc-opts,omitempty"`
	RealityOpts    *RealityOpts `yaml:"reality-opts,omitempty"`
}

type WSOpts struct {
	Path    string            `yaml:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type GRPCOpts struct {
	ServiceName string `yaml:"grpc-service-name,omitempty"`
}

type RealityOpts struct {
	PublicKey string `yaml:"public-key"`
	ShortID   string `yaml:"short-id,omitempty"`
}

type Document struct {
	Proxies []Proxy `yaml:"proxies"`
}

// FromNode maps a parsed link to a Clash proxy.
func FromNode(n proxyuri.Node) (Proxy, error) {
	p := Proxy{
		Name:           sanitizeString(n.Remark),
		Server:         n.Host,
		Port:           n.Port,
		UDP:            true,
		SkipCertVerify: true,
	}
	q := n.Query
	switch n.Scheme {
	case "vless":
		p.Type, p.UUID, p.Flow = "vless", n.User, q.Get("flow")
		switch q.Get("security") {
		case "tls":
			p.TLS, p.ServerName = true, q.Get("sni")
		case "reality":
			p.TLS, p.ServerName = true, q.Get("sni")
			p.RealityOpts = &RealityOpts{PublicKey: q.Get("pbk"), ShortID: q.Get("sid")}
		}
		transport(&p, q.Get("type"), q.Get("path"), q.Get("host"), q.Get("serviceName"))
	case "vmess":
		v := func(key string) string { return vmessField(n.VMess, key) }
		p.Type, p.UUID = "vmess", n.User
		p.Cipher = v("scy")
		if p.Cipher == "" {
			p.Cipher = "auto"
		}
		aid, _ := strconv.Atoi(v("aid"))
		p.AlterID = &aid
		if v("tls") == "tls" {
			p.TLS, p.ServerName = true, v("sni")
		}
		transport(&p, v("net"), v("path"), v("host"), v("path"))
	case "trojan":
		p.Type, p.Password, p.SNI = "trojan", n.User, q.Get("sni")
		transport(&p, q.Get("type"), q.Get("path"), q.Get("host"), q.Get("serviceName"))
	case "ss":
		p.Type, p.Cipher, p.Password = "ss", n.Method, n.Password
	case "hysteria2":
		p.Type, p.SNI = "hysteria2", q.Get("sni")
		p.Password = n.User
		if n.Password != "" {
			p.Password = n.User + ":" + n.Password
		}
	case "tuic":
		p.Type, p.UUID, p.Password, p.SNI = "tuic", n.User, n.Password, q.Get("sni")
	case "socks":
		p.Type, p.Username, p.Password = "socks5", n.User, n.Password
	case "http":
		p.Type, p.Username, p.Password = "http", n.User, n.Password
		p.TLS = n.Raw == "https"
	default:
		return Proxy{}, fmt.Errorf("%w: %s", proxyuri.ErrUnsupported, n.Scheme)
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("%s-%s", p.Type, n.Address())
	}
	return p, nil
}

func transport(p *Proxy, network, path, host, service string) {
	switch network {
	case "ws":
		p.Network = "ws"
		p.WSOpts = &WSOpts{Path: path}
		if host != "" {
			p.WSOpts.Headers = map[string]string{"Host": host}
		}
	case "grpc":
		p.Network = "grpc"
		p.GRPCOpts = &GRPCOpts{ServiceName: service}
	}
}

func vmessField(v map[string]any, key string) string {
	switch val := v[key].(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return ""
}

// Build converts lines, skipping what cannot be expressed. Names are made
// unique with a numeric suffix.
func Build(lines []string) ([]Proxy, int) {
	var proxies []Proxy
	skipped := 0
	used := make(map[string]int)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		n, err := proxyuri.Parse(line)
		if err != nil {
			skipped++
			continue
		}
		p, err := FromNode(n)
		if err != nil {
			skipped++
			continue
		}
		base := p.Name
		for used[p.Name] > 0 {
			used[base]++
			p.Name = fmt.Sprintf("%s-%d", base, used[base])
		}
		used[p.Name]++
		proxies = append(proxies, p)
	}
	return proxies, skipped
}

func Render(proxies []Proxy) ([]byte, error) {
	if proxies == nil {
		proxies = []Proxy{}
	}
	return yaml.Marshal(Document{Proxies: proxies})
}

// Export writes the document for lines to path and returns the proxy count.
func Export(path string, lines []string) (int, error) {
	proxies, skipped := Build(lines)
	out, err := Render(proxies)
	if err != nil {
		return 0, fmt.Errorf("render clash: %w", err)
	}
	if err := store.WriteText(path, string(out)); err != nil {
		return 0, err
	}
	gologger.Info().Msgf("✅ Wrote %d proxies to %s (%d skipped)", len(proxies), path, skipped)
	return len(proxies), nil
}

// sanitizeString drops invalid UTF-8 and control characters, which Clash rejects.
func sanitizeString(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.Map(func(r rune) rune {
		if r >= 32 && r != 127 {
			return r
		}
		return -1
	}, s)
}
