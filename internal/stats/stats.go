// Package stats aggregates pipeline counters shared by all stages.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/shredrelay/internal/core"
	"firestige.xyz/shredrelay/internal/metrics"
)

// DefaultReportInterval is how often the daemon drains and logs the counters.
const DefaultReportInterval = 10 * time.Second

// Stats holds lock-free counters. Every counter except the forwarded total is
// reset by Drain, so each report carries deltas.
type Stats struct {
	packets   [core.SourceCount]atomic.Uint64
	invalids  [core.SourceCount]atomic.Uint64
	firsts    [core.SourceCount]atomic.Uint64
	forwarded atomic.Uint64
	nanos     atomic.Uint64

	forwardedTotal atomic.Uint64

	promPackets  [core.SourceCount]prometheus.Counter
	promInvalids [core.SourceCount]prometheus.Counter
	promFirsts   [core.SourceCount]prometheus.Counter
}

// New creates a Stats instance mirrored to the process Prometheus counters.
func New() *Stats {
	s := &Stats{}
	for _, src := range core.Sources {
		s.promPackets[src] = metrics.PacketsTotal.WithLabelValues(src.String())
		s.promInvalids[src] = metrics.InvalidTotal.WithLabelValues(src.String())
		s.promFirsts[src] = metrics.FirstSeenTotal.WithLabelValues(src.String())
	}
	return s
}

func (s *Stats) AddPacket(src core.Source) {
	s.packets[src].Add(1)
	s.promPackets[src].Inc()
}

func (s *Stats) AddInvalid(src core.Source) {
	s.invalids[src].Add(1)
	s.promInvalids[src].Inc()
}

func (s *Stats) AddFirst(src core.Source) {
	s.firsts[src].Add(1)
	s.promFirsts[src].Inc()
}

func (s *Stats) AddForwarded() {
	s.forwarded.Add(1)
	s.forwardedTotal.Add(1)
	metrics.ForwardedTotal.Inc()
}

// AddElapsed accumulates processing time.
func (s *Stats) AddElapsed(d time.Duration) {
	if d < 0 {
		return
	}
	s.nanos.Add(uint64(d))
	metrics.ProcessingSecondsTotal.Add(d.Seconds())
}

// ForwardedTotal is the number of forwarded shreds since start. It is never reset.
func (s *Stats) ForwardedTotal() uint64 {
	return s.forwardedTotal.Load()
}

// Snapshot is the set of counter deltas taken by one Drain.
type Snapshot struct {
	Packets   [core.SourceCount]uint64
	Invalids  [core.SourceCount]uint64
	Firsts    [core.SourceCount]uint64
	Forwarded uint64
	Elapsed   time.Duration
}

// Drain swaps every resettable counter to zero and returns the previous values.
func (s *Stats) Drain() Snapshot {
	var snap Snapshot
	for _, src := range core.Sources {
		snap.Packets[src] = s.packets[src].Swap(0)
		snap.Invalids[src] = s.invalids[src].Swap(0)
		snap.Firsts[src] = s.firsts[src].Swap(0)
	}
	snap.Forwarded = s.forwarded.Swap(0)
	snap.Elapsed = time.Duration(s.nanos.Swap(0))
	return snap
}

// Report drains the counters and formats them as a single line.
func (s *Stats) Report() string {
	return s.Drain().String()
}

func (snap Snapshot) String() string {
	r, ref := core.SourceRelay, core.SourceReference
	return fmt.Sprintf(
		"%s-packet %d, %s-packet %d, %s-invalid %d, %s-invalid %d, %s-first %d, %s-first %d, forwarded %d, ms %.2f",
		r, snap.Packets[r], ref, snap.Packets[ref],
		r, snap.Invalids[r], ref, snap.Invalids[ref],
		r, snap.Firsts[r], ref, snap.Firsts[ref],
		snap.Forwarded,
		float64(snap.Elapsed.Nanoseconds())/1e6,
	)
}
