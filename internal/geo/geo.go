// Package geo maps server hosts to ISO country codes. Lookups never fail
// loudly: an unknown country is reported as "".
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/oschwald/geoip2-golang"
	"github.com/projectdiscovery/gologger"
	"golang.org/x/time/rate"
)

type Locator interface {
	Country(ctx context.Context, host string) string
}

// LookupFunc resolves a host name to addresses.
type LookupFunc func(ctx context.Context, network, host string) ([]netip.Addr, error)

func resolve(ctx context.Context, lookup LookupFunc, host string) (netip.Addr, bool) {
	host = strings.Trim(host, "[]")
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), true
	}
	if lookup == nil {
		lookup = net.DefaultResolver.LookupNetIP
	}
	addrs, err := lookup(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		gologger.Debug().Msgf("geo: cannot resolve %s: %v", host, err)
		return netip.Addr{}, false
	}
	return addrs[0].Unmap(), true
}

// MMDB looks countries up in a local MaxMind database.
type MMDB struct {
	db     *geoip2.Reader
	Lookup LookupFunc
}

func OpenMMDB(path string) (*MMDB, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &MMDB{db: db}, nil
}

func (m *MMDB) Close() error { return m.db.Close() }

func (m *MMDB) Country(ctx context.Context, host string) string {
	addr, ok := resolve(ctx, m.Lookup, host)
	if !ok {
		return ""
	}
	record, err := m.db.Country(net.IP(addr.AsSlice()))
	if err != nil || record == nil {
		return ""
	}
	return strings.ToUpper(record.Country.IsoCode)
}

// API queries an ip-api.com compatible JSON endpoint. "{ip}" in URL is
// replaced by the resolved address.
type API struct {
	URL     string
	Lookup  LookupFunc
	client  *resty.Client
	limiter *rate.Limiter
}

type apiResponse struct {
	Status      string `json:"status"`
	CountryCode string `json:"countryCode"`
}

func NewAPI(url string, perMinute int, timeout time.Duration, retries int) *API {
	if perMinute <= 0 {
		perMinute = 40
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond)
	return &API{
		URL:     url,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (a *API) Country(ctx context.Context, host string) string {
	addr, ok := resolve(ctx, a.Lookup, host)
	if !ok {
		return ""
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return ""
	}
	resp, err := a.client.R().SetContext(ctx).Get(strings.Replace(a.URL, "{ip}", addr.String(), 1))
	if err != nil {
		gologger.Warning().Msgf("geo lookup for %s failed: %s", addr, err)
		return ""
	}
	if resp.IsError() {
		gologger.Warning().Msgf("geo lookup for %s failed: %s", addr, resp.Status())
		return ""
	}
	var out apiResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil || out.Status != "success" {
		return ""
	}
	return strings.ToUpper(out.CountryCode)
}

// Chain asks each locator in turn and returns the first answer.
type Chain []Locator

func (c Chain) Country(ctx context.Context, host string) string {
	for _, l := range c {
		if l == nil {
			continue
		}
		if code := l.Country(ctx, host); code != "" {
			return code
		}
	}
	return ""
}

// Cache remembers answers, including misses, for the lifetime of one run.
type Cache struct {
	Next Locator

	mu   sync.Mutex
	seen map[string]string
}

func (c *Cache) Country(ctx context.Context, host string) string {
	key := strings.ToLower(host)
	c.mu.Lock()
	if code, ok := c.seen[key]; ok {
		c.mu.Unlock()
		return code
	}
	c.mu.Unlock()

	code := ""
	if c.Next != nil {
		code = c.Next.Country(ctx, host)
	}
	c.mu.Lock()
	if c.seen == nil {
		c.seen = make(map[string]string)
	}
	c.seen[key] = code
	c.mu.Unlock()
	return code
}

// Flag turns a two-letter country code into its regional indicator pair.
func Flag(code string) string {
	if len(code) != 2 {
		return "🏴"
	}
	code = strings.ToUpper(code)
	for i := 0; i < 2; i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return "🏴"
		}
	}
	return string(rune(0x1F1E6)+rune(code[0]-'A')) + string(rune(0x1F1E6)+rune(code[1]-'A'))
}
