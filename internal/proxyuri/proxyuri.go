// Package proxyuri reads the share links found in subscription lists. Only the
// parts needed for dedupe, probing and export are interpreted; everything else
// is carried through untouched.
package proxyuri

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnsupported = errors.New("unsupported scheme")
	ErrMalformed   = errors.New("malformed proxy uri")
)

var aliases = map[string]string{
	"vmess":     "vmess",
	"vless":     "vless",
	"trojan":    "trojan",
	"ss":        "ss",
	"hy2":       "hysteria2",
	"hysteria2": "hysteria2",
	"tuic":      "tuic",
	"socks":     "socks",
	"socks5":    "socks",
	"http":      "http",
	"https":     "http",
}

var defaultPorts = map[string]int{
	"ss":     8388,
	"socks":  1080,
	"socks5": 1080,
	"http":   80,
}

// Node is a parsed share link.
type Node struct {
	// Scheme is the normalized protocol name, e.g. "hysteria2" for hy2 links.
	Scheme string
	// Raw is the scheme as written, lowercased.
	Raw      string
	Host     string
	Port     int
	User     string
	Password string
	// Method is the shadowsocks cipher.
	Method string
	Path   string
	Query  url.Values
	Remark string
	// VMess holds the decoded vmess payload.
	VMess map[string]any
}

// Address is host:port suitable for dialing.
func (n Node) Address() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// DefaultPort returns the port assumed when a link for scheme omits it.
func DefaultPort(scheme string) int {
	if p, ok := defaultPorts[strings.ToLower(scheme)]; ok {
		return p
	}
	return 443
}

// Scheme returns the lowercased scheme of line, or "".
func Scheme(line string) string {
	i := strings.Index(line, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(line[:i]))
}

func Parse(line string) (Node, error) {
	line = strings.TrimSpace(line)
	raw := Scheme(line)
	scheme, ok := aliases[raw]
	if !ok {
		return Node{}, fmt.Errorf("%w: %q", ErrUnsupported, raw)
	}
	var (
		n   Node
		err error
	)
	switch scheme {
	case "vmess":
		n, err = parseVmess(line)
	case "ss":
		n, err = parseSS(line)
	default:
		n, err = parseURL(line)
	}
	if err != nil {
		return Node{}, err
	}
	n.Scheme, n.Raw = scheme, raw
	n.Host = strings.ToLower(strings.TrimSuffix(n.Host, "."))
	if n.Host == "" {
		return Node{}, fmt.Errorf("%w: missing host", ErrMalformed)
	}
	if n.Port == 0 {
		n.Port = DefaultPort(raw)
	}
	return n, nil
}

func parseURL(line string) (Node, error) {
	// remarks are free text and may not survive url.Parse
	body, remark := splitFragment(line)
	u, err := url.Parse(body)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := Node{
		Host:   u.Hostname(),
		Path:   strings.TrimSuffix(u.Path, "/"),
		Query:  u.Query(),
		Remark: remark,
	}
	if u.User != nil {
		n.User = u.User.Username()
		n.Password, _ = u.User.Password()
	}
	if n.Port, err = parsePort(u.Port()); err != nil {
		return Node{}, err
	}
	return n, nil
}

// parseSS accepts SIP002 links with a plain or base64 userinfo and legacy
// links that base64 the whole "method:password@host:port" part.
func parseSS(line string) (Node, error) {
	body, remark := splitFragment(strings.TrimSpace(line[len("ss://"):]))
	if !strings.Contains(body, "@") {
		payload, query := body, ""
		if i := strings.IndexByte(body, '?'); i >= 0 {
			payload, query = body[:i], body[i:]
		}
		decoded, err := DecodeBase64(payload)
		if err != nil {
			return Node{}, fmt.Errorf("%w: legacy ss payload: %v", ErrMalformed, err)
		}
		method, rest, ok := strings.Cut(string(decoded), ":")
		at := strings.LastIndex(rest, "@")
		if !ok || at < 0 {
			return Node{}, fmt.Errorf("%w: legacy ss payload", ErrMalformed)
		}
		body = url.UserPassword(method, rest[:at]).String() + "@" + rest[at+1:] + query
	}
	u, err := url.Parse("ss://" + body)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := Node{Host: u.Hostname(), Query: u.Query(), Remark: remark}
	if u.User == nil {
		return Node{}, fmt.Errorf("%w: ss without credentials", ErrMalformed)
	}
	if pass, ok := u.User.Password(); ok {
		n.Method, n.Password = u.User.Username(), pass
	} else {
		decoded, err := DecodeBase64(u.User.Username())
		if err != nil {
			return Node{}, fmt.Errorf("%w: ss userinfo: %v", ErrMalformed, err)
		}
		method, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			return Node{}, fmt.Errorf("%w: ss userinfo", ErrMalformed)
		}
		n.Method, n.Password = method, pass
	}
	n.User = n.Method
	if n.Port, err = parsePort(u.Port()); err != nil {
		return Node{}, err
	}
	return n, nil
}

func parseVmess(line string) (Node, error) {
	body, remark := splitFragment(strings.TrimSpace(line[len("vmess://"):]))
	payload := []byte(body)
	if !strings.HasPrefix(body, "{") {
		var err error
		if payload, err = DecodeBase64(body); err != nil {
			return Node{}, fmt.Errorf("%w: vmess payload: %v", ErrMalformed, err)
		}
	}
	var v map[string]any
	if err := json.Unmarshal(payload, &v); err != nil {
		return Node{}, fmt.Errorf("%w: vmess json: %v", ErrMalformed, err)
	}
	n := Node{
		Host:  stringField(v, "add"),
		User:  stringField(v, "id"),
		VMess: v,
	}
	n.Remark = stringField(v, "ps")
	if n.Remark == "" {
		n.Remark = remark
	}
	port, err := parsePort(stringField(v, "port"))
	if err != nil {
		return Node{}, err
	}
	n.Port = port
	return n, nil
}

// Canonicalize renders line without its remark, with a lowercased scheme and
// host, an explicit port, sorted query parameters and sorted vmess keys. Two
// links for the same server and credentials canonicalize to the same string.
func Canonicalize(line string) (string, error) {
	n, err := Parse(line)
	if err != nil {
		return "", err
	}
	if n.Scheme == "vmess" {
		v := make(map[string]any, len(n.VMess))
		for k, val := range n.VMess {
			v[k] = val
		}
		delete(v, "ps")
		v["add"] = n.Host
		v["port"] = strconv.Itoa(n.Port)
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return "vmess://" + string(data), nil
	}
	var sb strings.Builder
	sb.WriteString(n.Scheme)
	sb.WriteString("://")
	switch {
	case n.Scheme == "ss":
		sb.WriteString(url.UserPassword(n.Method, n.Password).String())
		sb.WriteString("@")
	case n.Password != "":
		sb.WriteString(url.UserPassword(n.User, n.Password).String())
		sb.WriteString("@")
	case n.User != "":
		sb.WriteString(url.User(n.User).String())
		sb.WriteString("@")
	}
	sb.WriteString(n.Address())
	sb.WriteString(n.Path)
	if q := sortedQuery(n.Query); q != "" {
		sb.WriteString("?")
		sb.WriteString(q)
	}
	return sb.String(), nil
}

func sortedQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	sorted := make(url.Values, len(q))
	for k, vs := range q {
		vs = append([]string(nil), vs...)
		sort.Strings(vs)
		sorted[k] = vs
	}
	// Encode sorts by key.
	return sorted.Encode()
}

// Remark returns the display name carried by line.
func Remark(line string) string {
	if Scheme(line) == "vmess" {
		if n, err := parseVmess(line); err == nil {
			return n.Remark
		}
		return ""
	}
	_, frag := splitFragment(line)
	return frag
}

// SetRemark replaces the display name of line. vmess links keep it in the
// payload, all others in the fragment.
func SetRemark(line, remark string) (string, error) {
	line = strings.TrimSpace(line)
	if Scheme(line) == "vmess" {
		n, err := parseVmess(line)
		if err != nil {
			return "", err
		}
		n.VMess["ps"] = remark
		data, err := json.Marshal(n.VMess)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return "vmess://" + base64.StdEncoding.EncodeToString(data), nil
	}
	if Scheme(line) == "" {
		return "", fmt.Errorf("%w: no scheme", ErrMalformed)
	}
	body, _ := splitFragment(line)
	if remark == "" {
		return body, nil
	}
	return body + "#" + url.PathEscape(remark), nil
}

// DecodeBase64 accepts standard and URL-safe alphabets, with or without padding.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// splitFragment cuts line at the first '#' and unescapes the remark.
func splitFragment(line string) (string, string) {
	body, frag, ok := strings.Cut(line, "#")
	if !ok {
		return line, ""
	}
	if unescaped, err := url.PathUnescape(frag); err == nil {
		frag = unescaped
	}
	return body, frag
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("%w: port %q", ErrMalformed, s)
	}
	return p, nil
}

func stringField(v map[string]any, key string) string {
	switch val := v[key].(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
