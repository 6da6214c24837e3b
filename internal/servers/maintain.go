package servers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/samber/lo"

	"github.com/justVisiting992/subkeeper/internal/geo"
	"github.com/justVisiting992/subkeeper/internal/proxyuri"
	"github.com/justVisiting992/subkeeper/internal/store"
)

type Maintainer struct {
	Servers    string
	NonWorking string
	Window     time.Duration
	Prober     *Prober
	// Locator labels live servers with their country. Nil disables decoration.
	Locator geo.Locator
	// Harvest returns extra candidates to merge into the master list.
	Harvest func(ctx context.Context) []string
	Now     func() time.Time
}

// Report summarizes one maintenance pass.
type Report struct {
	Harvested   int
	Fake        int
	Duplicates  int
	Live        int
	Quarantined int
	Restored    int
	Expired     int
	Waiting     int
	Malformed   int
}

func (m *Maintainer) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Run merges harvested candidates into the master list, probes every server,
// moves failures to the non-working list, restores recovered entries, drops
// entries quarantined for longer than Window, decorates remarks and writes
// both lists in one transaction.
func (m *Maintainer) Run(ctx context.Context) (Report, error) {
	var rep Report
	now := m.now()

	master, err := store.ReadLines(m.Servers)
	missing := errors.Is(err, store.ErrMissing)
	if err != nil && !missing {
		return rep, err
	}
	var harvested []string
	if m.Harvest != nil {
		harvested = m.Harvest(ctx)
		rep.Harvested = len(harvested)
	}
	if missing && len(harvested) == 0 {
		return rep, err
	}
	rawQuarantine, err := store.ReadOptional(m.NonWorking)
	if err != nil {
		return rep, err
	}

	var candidates []string
	for _, line := range append(master, harvested...) {
		if fake, reason := proxyuri.IsProbablyFake(line); fake {
			rep.Fake++
			gologger.Warning().Msgf("🎭 Dropping fake server (%s): %s", reason, line)
			continue
		}
		candidates = append(candidates, line)
	}
	unique := Dedupe(candidates)
	rep.Duplicates = lo.CountBy(candidates, isServerLine) - len(unique)

	var probeable, malformed []string
	for _, line := range unique {
		if _, err := proxyuri.Parse(line); err != nil {
			gologger.Warning().Msgf("Keeping unparseable server line as is: %s", err)
			malformed = append(malformed, line)
			continue
		}
		probeable = append(probeable, line)
	}
	rep.Malformed = len(malformed)
	liveKeys := lo.SliceToMap(probeable, func(l string) (string, struct{}) { return Key(l), struct{}{} })

	var waiting, expired []Entry
	var keptRaw []string
	for _, line := range rawQuarantine {
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, ok := ParseEntry(line, now.Location())
		if !ok {
			keptRaw = append(keptRaw, line)
			continue
		}
		if _, ok := liveKeys[Key(e.URI)]; ok {
			continue
		}
		if e.Expired(now, m.Window) {
			expired = append(expired, e)
			continue
		}
		waiting = append(waiting, e)
	}

	toProbe := append(append([]string(nil), probeable...), lo.Map(waiting, func(e Entry, _ int) string { return e.URI })...)
	ok := m.Prober.CheckAll(ctx, toProbe)
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if len(toProbe) > 0 && !lo.Contains(ok, true) {
		gologger.Warning().Msgf("No server answered out of %d probed", len(toProbe))
	}

	source := filepath.Base(m.Servers)
	var live []string
	var quarantine []string
	for i, line := range probeable {
		if ok[i] {
			live = append(live, line)
			continue
		}
		rep.Quarantined++
		gologger.Info().Msgf("🚑 Quarantined: %s", line)
		quarantine = append(quarantine, NewEntry(line, source, now).String())
	}
	for i, e := range waiting {
		if ok[len(probeable)+i] {
			rep.Restored++
			gologger.Info().Msgf("♻️ Restored: %s", e.URI)
			live = append(live, e.URI)
			continue
		}
		quarantine = append(quarantine, e.String())
	}
	rep.Waiting = len(quarantine)
	quarantine = append(quarantine, keptRaw...)

	if m.Locator != nil {
		live = m.decorate(ctx, live)
	}
	rep.Live = len(live)

	tx := store.Begin()
	if err := tx.StageLines(m.Servers, append(live, malformed...)); err != nil {
		tx.Rollback()
		return rep, err
	}
	if err := tx.StageLines(m.NonWorking, quarantine); err != nil {
		tx.Rollback()
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	rep.Expired = len(expired)
	for _, e := range expired {
		gologger.Info().Msgf("🗑️ Permanently removed after %s in quarantine: %s", m.Window, e.URI)
	}
	return rep, nil
}

func isServerLine(line string) bool {
	line = strings.TrimSpace(line)
	return line != "" && !strings.HasPrefix(line, "#")
}

// decorate renumbers live servers as "<flag> <CC> | Node-<n>".
func (m *Maintainer) decorate(ctx context.Context, live []string) []string {
	out := make([]string, len(live))
	for i, line := range live {
		out[i] = line
		n, err := proxyuri.Parse(line)
		if err != nil {
			continue
		}
		labeled, err := proxyuri.SetRemark(line, Label(m.Locator.Country(ctx, n.Host), i+1))
		if err != nil {
			continue
		}
		out[i] = labeled
	}
	return out
}

// Label is the remark given to the index-th live server.
func Label(code string, index int) string {
	if code == "" {
		return fmt.Sprintf("🏴 Dynamic | Node-%d", index)
	}
	return fmt.Sprintf("%s %s | Node-%d", geo.Flag(code), code, index)
}
