// Package archive persists timestamped snapshots of crawl output. Every
// cycle dumps the full ticket set so historical runs can be replayed or
// diffed; backends cover the local filesystem, Google Cloud Storage, and a
// no-op for dry runs.
package archive

import (
	"context"
	"fmt"
	"time"
)

// ObjectName builds the snapshot object name for a cycle that started at ts.
func ObjectName(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s_%s.json", prefix, ts.UTC().Format("20060102_150405"))
}

// NoOp discards snapshots. Useful for tests and dry runs.
type NoOp struct{}

// Save does nothing and always returns nil.
func (NoOp) Save(_ context.Context, _ string, _ []byte) error {
	return nil
}
