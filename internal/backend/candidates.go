package backend

import (
	"fmt"
	"strings"

	"github.com/avolkoff/inferelay/internal/config"
)

const defaultPort = 11434

// loopback and container-gateway guesses, probed in this order after the
// operator-configured endpoint and before remote fallbacks.
var (
	loopbackCandidates = []string{
		fmt.Sprintf("http://127.0.0.1:%d", defaultPort),
		fmt.Sprintf("http://localhost:%d", defaultPort),
	}
	gatewayCandidates = []string{
		fmt.Sprintf("http://172.17.0.1:%d", defaultPort),
		fmt.Sprintf("http://host.docker.internal:%d", defaultPort),
	}
)

// Candidates builds the ordered probe list: explicit configuration first,
// then the last endpoint that worked (if any), loopback, the LAN-derived
// address, container gateways, and remote fallbacks last. Entries are
// deduplicated and empties removed. The result is immutable for the process
// lifetime.
func Candidates(cfg config.DiscoveryConfig, lastGood string) []string {
	var urls []string
	urls = append(urls, cfg.Endpoint, lastGood)
	urls = append(urls, loopbackCandidates...)
	if cfg.LANAddr != "" {
		urls = append(urls, fmt.Sprintf("http://%s:%d", cfg.LANAddr, defaultPort))
	}
	urls = append(urls, gatewayCandidates...)
	urls = append(urls, cfg.Fallbacks...)

	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
