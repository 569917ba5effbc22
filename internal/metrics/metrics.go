// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shredrelay"

var (
	// PacketsTotal counts datagrams received per relay source
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Total number of datagrams received from relay sources",
		},
		[]string{"source"},
	)

	// InvalidTotal counts datagrams rejected by the normalizer per source
	InvalidTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_total",
			Help:      "Total number of relay datagrams with an invalid shred payload",
		},
		[]string{"source"},
	)

	// FirstSeenTotal counts shreds a source delivered before any other source
	FirstSeenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "first_seen_total",
			Help:      "Total number of shreds first seen from each source",
		},
		[]string{"source"},
	)

	// ForwardedTotal counts relay shreds forwarded to validators
	ForwardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_total",
			Help:      "Total number of relay shreds forwarded to validator addresses",
		},
	)

	// ProcessingSecondsTotal accumulates processor time spent per shred
	ProcessingSecondsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_seconds_total",
			Help:      "Cumulative processor time spent on relay shreds",
		},
	)

	// SendErrorsTotal counts failed UDP sends by stage
	SendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Total number of failed forward sends",
		},
		[]string{"stage"},
	)

	// SnifferFramesTotal counts captured frames by outcome
	SnifferFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sniffer_frames_total",
			Help:      "Total number of captured frames by outcome (forwarded, duplicate, invalid, malformed)",
		},
		[]string{"outcome"},
	)

	// WindowSize tracks the current generation size of each dedup window
	WindowSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_size",
			Help:      "Number of hashes in the current dedup generation",
		},
		[]string{"stage"},
	)
)

// Stage label values
const (
	StageProcessor = "processor"
	StageSniffer   = "sniffer"
)

// Sniffer outcome label values
const (
	OutcomeForwarded = "forwarded"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeMalformed = "malformed"
)
