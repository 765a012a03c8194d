package backend

import (
	"context"
	"log/slog"

	"github.com/avolkoff/inferelay/internal/ollama"
)

// Prober tests candidate endpoints for liveness, strictly in order.
type Prober struct {
	// ping tests one base URL; swapped out in tests.
	ping    func(ctx context.Context, baseURL string) bool
	verbose bool
}

// NewProber creates a Prober backed by the Ollama version endpoint.
func NewProber(verbose bool) *Prober {
	return &Prober{
		ping: func(ctx context.Context, baseURL string) bool {
			return ollama.New(baseURL).Ping(ctx)
		},
		verbose: verbose,
	}
}

// Probe iterates candidates in order and returns the first one that answers
// the liveness check. Probing is sequential: later candidates are never
// attempted once one succeeds, which bounds worst-case latency and keeps the
// socket count low on networks full of unreachable guesses. Any failure
// (timeout, refused, bad status, malformed body) advances to the next
// candidate. Returns false when the list is exhausted.
func (p *Prober) Probe(ctx context.Context, candidates []string) (string, bool) {
	for _, url := range candidates {
		if ctx.Err() != nil {
			return "", false
		}
		if p.verbose {
			slog.Info("probing backend candidate", "url", url)
		}
		if p.ping(ctx, url) {
			slog.Info("backend endpoint found", "url", url)
			return url, true
		}
		if p.verbose {
			slog.Info("candidate not reachable", "url", url)
		}
	}
	return "", false
}
