// Package pipeline runs one maintenance pass end to end.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/projectdiscovery/gologger"

	"github.com/justVisiting992/subkeeper/internal/clash"
	"github.com/justVisiting992/subkeeper/internal/config"
	"github.com/justVisiting992/subkeeper/internal/geo"
	"github.com/justVisiting992/subkeeper/internal/harvest"
	"github.com/justVisiting992/subkeeper/internal/publish"
	"github.com/justVisiting992/subkeeper/internal/registry"
	"github.com/justVisiting992/subkeeper/internal/servers"
	"github.com/justVisiting992/subkeeper/internal/store"
)

// seedUser is created when neither the registry nor the subscription
// directory has any user.
const seedUser = "default"

type Runner struct {
	cfg        *config.Config
	dir        store.SubscriptionDir
	maintainer *servers.Maintainer
	now        func() time.Time
	mmdb       *geo.MMDB
	// harvestStats is filled by the harvest hook during a run.
	harvestStats []harvest.Stat
}

type Option func(*Runner)

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithMaintainer replaces the server maintainer built from the configuration.
func WithMaintainer(m *servers.Maintainer) Option {
	return func(r *Runner) { r.maintainer = m }
}

func New(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg: cfg,
		dir: store.SubscriptionDir{Root: cfg.Paths.Subscriptions},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maintainer == nil && !cfg.Fast {
		r.maintainer = r.defaultMaintainer()
	}
	return r
}

func (r *Runner) defaultMaintainer() *servers.Maintainer {
	cfg := r.cfg
	m := &servers.Maintainer{
		Servers:    cfg.Paths.Servers,
		NonWorking: cfg.Paths.NonWorking,
		Window:     time.Duration(cfg.Quarantine.Days) * 24 * time.Hour,
		Prober: &servers.Prober{
			Timeout:     cfg.Probe.Timeout,
			Concurrency: cfg.Probe.Concurrency,
			Retries:     cfg.ProbeRetries(),
		},
		Now: r.now,
	}
	if cfg.DecorateRemarks() {
		var chain geo.Chain
		if db, err := geo.OpenMMDB(cfg.Paths.GeoDB); err != nil {
			gologger.Warning().Msg("GeoIP database not found. Falling back to the online lookup.")
		} else {
			r.mmdb = db
			chain = append(chain, db)
		}
		chain = append(chain, geo.NewAPI(cfg.Geo.APIURL, cfg.Geo.PerMinute, cfg.Geo.Timeout, cfg.Geo.Retries))
		m.Locator = &geo.Cache{Next: chain}
	}
	m.Harvest = r.harvest
	return m
}

func (r *Runner) harvest(ctx context.Context) []string {
	channels, err := harvest.LoadChannels(r.cfg.Paths.Channels)
	if errors.Is(err, store.ErrMissing) {
		gologger.Debug().Msgf("No channel list at %s, harvest skipped", r.cfg.Paths.Channels)
		return nil
	}
	if err != nil {
		gologger.Error().Msgf("Could not read channels: %s", err)
		return nil
	}
	gologger.Info().Msg("Starting Scraper Engine...")
	h := harvest.New(harvest.Options{
		BaseURL:   r.cfg.Harvest.BaseURL,
		UserAgent: r.cfg.Harvest.UserAgent,
		Interval:  r.cfg.Harvest.Interval,
		Timeout:   r.cfg.Harvest.Timeout,
	})
	links, stats := h.Run(ctx, channels)
	r.harvestStats = stats
	return links
}

func (r *Runner) Close() error {
	if r.mmdb != nil {
		return r.mmdb.Close()
	}
	return nil
}

// Summary collects what one pass did.
type Summary struct {
	Users        int
	Blocked      int
	Changed      []string
	Events       []registry.Event
	Servers      servers.Report
	ServersRan   bool
	Harvest      []harvest.Stat
	Publish      publish.Report
	ClashProxies int
}

// Run processes the registry, applies subscription file changes, maintains
// the server list unless in fast mode, publishes every subscription and
// exports the Clash list. A failing step is logged and reported in the
// joined error; later steps still run.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	var errs []error
	now := r.now()

	res, err := r.processRegistry(now)
	if err != nil {
		// without a consistent registry nothing downstream is safe
		return sum, err
	}
	sum.Users, sum.Blocked = len(res.Users), len(res.BlockedNames())
	sum.Changed, sum.Events = res.Changed, res.Events

	if err := r.applyEffects(res.Effects); err != nil {
		errs = append(errs, err)
	}
	if err := r.recordHistory(res.Events, now); err != nil {
		gologger.Error().Msgf("History not written: %s", err)
		errs = append(errs, err)
	}

	if r.cfg.Fast {
		gologger.Info().Msg("⚡ Fast mode: server maintenance skipped")
	} else if r.maintainer != nil {
		rep, err := r.maintainer.Run(ctx)
		sum.Servers, sum.ServersRan, sum.Harvest = rep, err == nil, r.harvestStats
		if err != nil {
			gologger.Error().Msgf("Server maintenance failed: %s", err)
			errs = append(errs, fmt.Errorf("maintain servers: %w", err))
		}
	}

	pub := &publish.Publisher{Dir: r.dir, Servers: r.cfg.Paths.Servers, Decoy: r.cfg.Decoy}
	sum.Publish, err = pub.Publish(res.Users, res.BlockedNames())
	if err != nil {
		gologger.Error().Msgf("%s", err)
		errs = append(errs, err)
	}

	if r.cfg.Paths.Clash != "" {
		if live, err := store.ReadLines(r.cfg.Paths.Servers); err == nil {
			if sum.ClashProxies, err = clash.Export(r.cfg.Paths.Clash, servers.Dedupe(live)); err != nil {
				gologger.Error().Msgf("Clash export failed: %s", err)
				errs = append(errs, err)
			}
		}
	}

	printSummary(sum)
	return sum, errors.Join(errs...)
}

func (r *Runner) processRegistry(now time.Time) (registry.Result, error) {
	paths := r.cfg.Paths
	lines, err := store.ReadOptional(paths.UserList)
	if err != nil {
		return registry.Result{}, err
	}
	blocked, err := store.ReadOptional(paths.BlockedUsers)
	if err != nil {
		return registry.Result{}, err
	}
	subs, err := r.dir.Names()
	if err != nil {
		return registry.Result{}, err
	}
	if len(lines) == 0 && len(subs) == 0 {
		gologger.Info().Msgf("No users yet, creating [%s]", seedUser)
		lines = []string{seedUser + " ---c"}
	}
	rendered := store.ModTime(paths.UserList)
	if rendered.IsZero() || rendered.After(now) {
		rendered = now
	}
	res := registry.Process(registry.Input{
		Lines:         lines,
		Blocked:       blocked,
		Subscriptions: subs,
		Unmanaged:     r.unmanaged,
		Discover:      r.cfg.DiscoverOrphans(),
		Now:           now,
		Rendered:      rendered,
	})

	linesChanged := store.JoinLines(res.Lines) != store.JoinLines(lines)
	blockedChanged := store.JoinLines(res.Blocked) != store.JoinLines(blocked)
	if !linesChanged && !blockedChanged {
		return res, nil
	}
	tx := store.Begin()
	if linesChanged {
		if err := tx.StageLines(paths.UserList, res.Lines); err != nil {
			tx.Rollback()
			return res, err
		}
	}
	if blockedChanged {
		if err := tx.StageLines(paths.BlockedUsers, res.Blocked); err != nil {
			tx.Rollback()
			return res, err
		}
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	gologger.Info().Msgf("📝 Registry updated: %d users, %d blocked", len(res.Users), len(res.BlockedNames()))
	return res, nil
}

// unmanaged reports whether name matches one of the configured globs.
func (r *Runner) unmanaged(name string) bool {
	for _, pattern := range r.cfg.Unmanaged {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (r *Runner) applyEffects(effects []registry.Effect) error {
	var errs []error
	for _, e := range effects {
		if !registry.ValidName(e.Name) || (e.Kind == registry.RenameFile && !registry.ValidName(e.NewName)) {
			gologger.Warning().Msgf("Skipping subscription file change for [%s]: not usable as a file name", e.Name)
			continue
		}
		var err error
		switch e.Kind {
		case registry.CreateFile:
			_, err = r.dir.Create(e.Name)
		case registry.RenameFile:
			err = r.dir.Rename(e.Name, e.NewName)
		case registry.DeleteFile:
			err = r.dir.Remove(e.Name)
		}
		if err != nil {
			gologger.Error().Msgf("Subscription file update failed: %s", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) recordHistory(events []registry.Event, now time.Time) error {
	records := make([]store.HistoryRecord, 0, len(events))
	for _, e := range events {
		records = append(records, store.HistoryRecord{Fields: []string{e.Action, e.User, e.Detail}, At: now})
	}
	return store.PrependHistory(r.cfg.Paths.History, records, r.cfg.HistoryLimit)
}
