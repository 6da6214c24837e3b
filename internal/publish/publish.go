// Package publish renders each user's subscription payload.
package publish

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/projectdiscovery/gologger"

	"github.com/justVisiting992/subkeeper/internal/registry"
	"github.com/justVisiting992/subkeeper/internal/servers"
	"github.com/justVisiting992/subkeeper/internal/store"
)

type Publisher struct {
	Dir store.SubscriptionDir
	// Servers is the master list. Publishing fails when it is missing.
	Servers string
	Decoy   []string
}

type Report struct {
	Live      int
	Blocked   int
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
}

// Encode is the subscription payload for lines.
func Encode(lines []string) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(lines, "\n")))
}

// Publish writes the live list to every user not in blocked and the decoy
// list to the rest. Files of users missing from users are never touched.
func (p *Publisher) Publish(users []string, blocked map[string]struct{}) (Report, error) {
	var rep Report
	master, err := store.ReadLines(p.Servers)
	if err != nil {
		return rep, fmt.Errorf("publish aborted: %w", err)
	}
	live := servers.Dedupe(master)
	livePayload := Encode(live)
	decoyPayload := Encode(servers.Dedupe(p.Decoy))

	var errs []error
	for _, name := range users {
		if !registry.ValidName(name) {
			rep.Skipped++
			gologger.Warning().Msgf("Not publishing for [%s]: not usable as a file name", name)
			continue
		}
		payload := livePayload
		if _, ok := blocked[name]; ok {
			payload = decoyPayload
			rep.Blocked++
		} else {
			rep.Live++
		}
		existed := p.Dir.Exists(name)
		changed, err := p.Dir.Write(name, payload)
		switch {
		case err != nil:
			errs = append(errs, err)
			gologger.Error().Msgf("Could not publish for [%s]: %s", name, err)
		case !existed:
			rep.Created++
		case changed:
			rep.Updated++
		default:
			rep.Unchanged++
		}
	}
	gologger.Info().Msgf("📦 Published %d servers to %d users (%d blocked)", len(live), rep.Live+rep.Blocked, rep.Blocked)
	return rep, errors.Join(errs...)
}
