package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic counter.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // cumulative count of accepted connections
	ClosedConns atomic.Int64 // cumulative count of closed connections
	BytesRecv   atomic.Int64 // packet bytes read from senders
	Enqueued    atomic.Int64 // packets committed to the ring buffer
	Dropped     atomic.Int64 // packets dropped on checksum mismatch
	Processed   atomic.Int64 // packets drained by the processor
}

func (s *stats) AddConn()      { s.TotalConns.Add(1) }
func (s *stats) RemoveConn()   { s.ClosedConns.Add(1) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddEnqueued()  { s.Enqueued.Add(1) }
func (s *stats) AddDropped()   { s.Dropped.Add(1) }
func (s *stats) AddProcessed() { s.Processed.Add(1) }

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	TotalConns  int64 `json:"totalConns"`
	ClosedConns int64 `json:"closedConns"`
	BytesRecv   int64 `json:"bytesRecv"`
	Enqueued    int64 `json:"enqueued"`
	Dropped     int64 `json:"dropped"`
	Processed   int64 `json:"processed"`
}

// Snapshot loads every counter.
func (s *stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalConns:  s.TotalConns.Load(),
		ClosedConns: s.ClosedConns.Load(),
		BytesRecv:   s.BytesRecv.Load(),
		Enqueued:    s.Enqueued.Load(),
		Dropped:     s.Dropped.Load(),
		Processed:   s.Processed.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs throughput every 10
// seconds while there is activity. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prev StatsSnapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()

				inS := float64(cur.BytesRecv-prev.BytesRecv) / 10.0
				inP := cur.Enqueued - prev.Enqueued
				outP := cur.Processed - prev.Processed
				inC := cur.TotalConns - prev.TotalConns
				outC := cur.ClosedConns - prev.ClosedConns

				if inC > 0 || outC > 0 || inP > 0 || outP > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, inP, outP, inC, outC))
				}

				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS float64, inP, outP, inC, outC int64) string {
	return fmt.Sprintf("In: %s/s | Pkts: %3d in %3d out | Conn: %2d↑ %2d↓",
		FormatBytes(inS),
		inP,
		outP,
		inC,
		outC,
	)
}
