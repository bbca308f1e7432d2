// Package main hosts the linkcrawler entrypoint.
//
// Architecture overview:
//   - URL store & link graph: internal/storage/postgres persists every
//     discovered URL and every referencing→referenced edge as they are
//     found, so a crawl survives restarts and the graph can be queried
//     mid-run.
//   - Frontier: internal/frontier hands each pending URL id to exactly
//     one worker and refuses duplicates while an id is queued or in
//     flight. The memory backend lives in-process; the redis backend
//     keeps the queue itself durable across processes.
//   - Fetch pipeline: internal/worker claims ids, fetches pages through
//     the Colly-based fetcher, extracts outbound links with goquery,
//     and records outcomes. Transport failures and HTTP error statuses
//     are both terminal for the attempt, distinguished in the store.
//   - Orchestration: internal/engine seeds the frontier, re-enqueues
//     URLs left unfinished by earlier runs, and runs the worker pool
//     until the frontier drains. A circuit breaker stops the run when
//     the store becomes unreachable.
//   - Plumbing: Viper populates config from file/env, zap provides
//     structured logging, and Prometheus metrics are exported via the
//     optional ops listener (/healthz, /readyz, /metrics).
package main

import "github.com/webgraph/linkcrawler/cmd"

func main() {
	cmd.Execute()
}
