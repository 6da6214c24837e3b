package servers

import (
	"context"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/justVisiting992/subkeeper/internal/proxyuri"
)

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober checks that a server accepts TCP connections.
type Prober struct {
	Timeout     time.Duration
	Concurrency int
	// Retries is the number of extra attempts after a failed dial.
	Retries int
	Dial    DialFunc
}

func (p *Prober) dial() DialFunc {
	if p.Dial != nil {
		return p.Dial
	}
	var d net.Dialer
	return d.DialContext
}

// Check reports whether the server behind line is reachable. Unparseable
// lines are unreachable.
func (p *Prober) Check(ctx context.Context, line string) bool {
	n, err := proxyuri.Parse(line)
	if err != nil {
		return false
	}
	dial := p.dial()
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if p.try(ctx, dial, n.Address()) {
			return true
		}
	}
	return false
}

func (p *Prober) try(ctx context.Context, dial DialFunc, address string) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := dial(ctx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// CheckAll probes lines concurrently, at most Concurrency at a time. The
// result slice is in input order.
func (p *Prober) CheckAll(ctx context.Context, lines []string) []bool {
	results := make([]bool, len(lines))
	limit := p.Concurrency
	if limit <= 0 {
		limit = 50
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, line := range lines {
		g.Go(func() error {
			results[i] = p.Check(ctx, line)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
