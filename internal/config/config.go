package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvFastMode = "FAST_MODE"
	EnvLogLevel = "SUBKEEPER_LOG_LEVEL"
)

type Config struct {
	Paths      Paths      `yaml:"paths"`
	Quarantine Quarantine `yaml:"quarantine"`
	Probe      Probe      `yaml:"probe"`
	Geo        Geo        `yaml:"geo"`
	Harvest    Harvest    `yaml:"harvest"`

	// Decoy is published to blocked users instead of the live list.
	Decoy []string `yaml:"decoy"`
	// Unmanaged are glob patterns for hand-made subscription files. Matching
	// files are never adopted into the registry and their names are not reused.
	Unmanaged    []string `yaml:"unmanaged"`
	Discover     *bool    `yaml:"discover"`
	Decorate     *bool    `yaml:"decorate"`
	HistoryLimit int      `yaml:"historyLimit"`

	Fast     bool   `yaml:"fast"`
	LogLevel string `yaml:"logLevel"`
}

type Paths struct {
	UserList      string `yaml:"userList"`
	BlockedUsers  string `yaml:"blockedUsers"`
	Servers       string `yaml:"servers"`
	NonWorking    string `yaml:"nonWorking"`
	Subscriptions string `yaml:"subscriptions"`
	History       string `yaml:"history"`
	Channels      string `yaml:"channels"`
	GeoDB         string `yaml:"geoDB"`
	Clash         string `yaml:"clash"`
}

type Quarantine struct {
	Days int `yaml:"days"`
}

type Probe struct {
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	// Retries is the number of extra dials after a failure. Unset means one.
	Retries *int `yaml:"retries"`
}

type Geo struct {
	APIURL    string        `yaml:"apiURL"`
	PerMinute int           `yaml:"perMinute"`
	Timeout   time.Duration `yaml:"timeout"`
	Retries   int           `yaml:"retries"`
}

type Harvest struct {
	BaseURL   string        `yaml:"baseURL"`
	UserAgent string        `yaml:"userAgent"`
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"`
}

var DefaultDecoy = []string{
	"vless://00000000-0000-0000-0000-000000000000@127.0.0.1:443?encryption=none&security=none&type=tcp#⛔ Subscription disabled",
	"trojan://blocked@127.0.0.1:443?security=none#📩 Contact the administrator",
}

// Default returns a configuration with every field filled.
func Default() *Config {
	c := &Config{}
	c.fill()
	return c
}

func (c *Config) fill() {
	p := &c.Paths
	p.UserList = orDefault(p.UserList, "user_list.txt")
	p.BlockedUsers = orDefault(p.BlockedUsers, "blocked_users.txt")
	p.Servers = orDefault(p.Servers, "main.txt")
	p.NonWorking = orDefault(p.NonWorking, "non_working.txt")
	p.Subscriptions = orDefault(p.Subscriptions, "subscriptions")
	p.History = orDefault(p.History, "history.log")
	p.Channels = orDefault(p.Channels, "channels.csv")
	p.GeoDB = orDefault(p.GeoDB, "Country.mmdb")
	p.Clash = orDefault(p.Clash, "clash.yaml")

	if c.Quarantine.Days <= 0 {
		c.Quarantine.Days = 7
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = 3 * time.Second
	}
	if c.Probe.Concurrency <= 0 {
		c.Probe.Concurrency = 50
	}
	if c.Probe.Retries == nil || *c.Probe.Retries < 0 {
		c.Probe.Retries = intPtr(1)
	}
	if c.Geo.APIURL == "" {
		c.Geo.APIURL = "http://ip-api.com/json/{ip}?fields=status,countryCode"
	}
	if c.Geo.PerMinute <= 0 {
		c.Geo.PerMinute = 40
	}
	if c.Geo.Timeout <= 0 {
		c.Geo.Timeout = 5 * time.Second
	}
	if c.Geo.Retries <= 0 {
		c.Geo.Retries = 2
	}
	if c.Harvest.BaseURL == "" {
		c.Harvest.BaseURL = "https://t.me/s/"
	}
	if c.Harvest.UserAgent == "" {
		c.Harvest.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	if c.Harvest.Interval <= 0 {
		c.Harvest.Interval = 1200 * time.Millisecond
	}
	if c.Harvest.Timeout <= 0 {
		c.Harvest.Timeout = 10 * time.Second
	}
	if len(c.Decoy) == 0 {
		c.Decoy = append([]string(nil), DefaultDecoy...)
	}
	if c.Discover == nil {
		c.Discover = boolPtr(true)
	}
	if c.Decorate == nil {
		c.Decorate = boolPtr(true)
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 500
	}
}

func (c *Config) DiscoverOrphans() bool { return c.Discover != nil && *c.Discover }

func (c *Config) DecorateRemarks() bool { return c.Decorate != nil && *c.Decorate }

func (c *Config) ProbeRetries() int {
	if c.Probe.Retries == nil {
		return 0
	}
	return *c.Probe.Retries
}

// Parse decodes YAML and fills defaults. An empty document yields Default().
func Parse(r io.Reader) (*Config, error) {
	c := &Config{}
	if err := yaml.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.fill()
	return c, nil
}

// Load reads the YAML file at path (a missing file means defaults), then applies
// .env and process environment overrides.
func Load(path string) (*Config, error) {
	var c *Config
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if c, err = Parse(f); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		c = Default()
	default:
		return nil, fmt.Errorf("open config: %w", err)
	}
	// .env is optional
	_ = godotenv.Overload()
	c.ApplyEnv(os.Getenv)
	return c, nil
}

// ApplyEnv overrides fields from the environment. getenv is injected for tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvFastMode); v != "" {
		c.Fast = Truthy(v)
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Truthy reports whether a boolean-like flag value is set.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func boolPtr(b bool) *bool { return &b }

func intPtr(n int) *int { return &n }
