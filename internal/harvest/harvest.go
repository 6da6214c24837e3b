// Package harvest collects share links from public Telegram channel previews.
package harvest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/projectdiscovery/gologger"
	"golang.org/x/time/rate"

	"github.com/justVisiting992/subkeeper/internal/store"
)

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`\bss://[A-Za-z0-9./:=?#-_@!%]+`),
	regexp.MustCompile(`\bvmess://[A-Za-z0-9./:=?#-_@!%]+`),
	regexp.MustCompile(`\btrojan://[A-Za-z0-9./:=?#-_@!%]+`),
	regexp.MustCompile(`\bvless://[A-Za-z0-9./:=?#-_@!%]+`),
	regexp.MustCompile(`\b(?:hysteria2|hy2)://[A-Za-z0-9./:=?#-_@!%]+`),
}

type Options struct {
	BaseURL   string
	UserAgent string
	Interval  time.Duration
	Timeout   time.Duration
}

type Harvester struct {
	opts    Options
	client  *resty.Client
	limiter *rate.Limiter
}

// Stat is the outcome for one channel.
type Stat struct {
	Channel string
	Found   int
	Err     error
}

func New(opts Options) *Harvester {
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	every := rate.Inf
	if opts.Interval > 0 {
		every = rate.Every(opts.Interval)
	}
	return &Harvester{
		opts:    opts,
		client:  resty.New().SetTimeout(opts.Timeout).SetHeader("User-Agent", opts.UserAgent),
		limiter: rate.NewLimiter(every, 1),
	}
}

// LoadChannels reads channel URLs from the first CSV column. Rows whose first
// field is not a URL (headers, notes) are skipped.
func LoadChannels(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, store.ErrMissing)
		}
		return nil, err
	}
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	var channels []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if len(record) > 0 && strings.HasPrefix(strings.TrimSpace(record[0]), "http") {
			channels = append(channels, strings.TrimSpace(record[0]))
		}
	}
	return channels, nil
}

// ChannelName returns the last path element of a channel URL.
func ChannelName(channelURL string) string {
	parts := strings.Split(strings.TrimSuffix(channelURL, "/"), "/")
	return strings.TrimPrefix(parts[len(parts)-1], "@")
}

// Extract returns every share link found in text, in order of protocol then position.
func Extract(text string) []string {
	var links []string
	for _, re := range patterns {
		links = append(links, re.FindAllString(text, -1)...)
	}
	return links
}

// Channel fetches one channel preview page and extracts the links in its messages.
func (h *Harvester) Channel(ctx context.Context, name string) ([]string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := h.client.R().SetContext(ctx).Get(h.opts.BaseURL + name)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch %s: %s", name, resp.Status())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	var links []string
	doc.Find(".tgme_widget_message_text").Each(func(_ int, s *goquery.Selection) {
		links = append(links, Extract(s.Text())...)
	})
	return links, nil
}

// Run harvests every channel. A failing channel is logged and skipped.
func (h *Harvester) Run(ctx context.Context, channels []string) ([]string, []Stat) {
	var all []string
	stats := make([]Stat, 0, len(channels))
	for _, channelURL := range channels {
		name := ChannelName(channelURL)
		links, err := h.Channel(ctx, name)
		if err != nil {
			gologger.Error().Msgf("Failed: %s (%s)", name, err)
		} else {
			gologger.Info().Msgf("Collected %d from [%s]", len(links), name)
		}
		stats = append(stats, Stat{Channel: name, Found: len(links), Err: err})
		all = append(all, links...)
		if ctx.Err() != nil {
			break
		}
	}
	return all, stats
}
