// Package processor deduplicates relay shreds and forwards first copies to
// the local validators.
package processor

import (
	"context"
	"fmt"
	"net"
	"time"

	"firestige.xyz/shredrelay/internal/core"
	"firestige.xyz/shredrelay/internal/dedup"
	"firestige.xyz/shredrelay/internal/log"
	"firestige.xyz/shredrelay/internal/metrics"
	"firestige.xyz/shredrelay/internal/stats"
)

// Config holds the processor settings.
type Config struct {
	Forwards       []*net.UDPAddr
	RotateInterval time.Duration
}

// Processor is the single owner of the relay dedup window.
type Processor struct {
	forwards []*net.UDPAddr
	rotate   time.Duration
	window   *dedup.Window
	conn     *net.UDPConn
	stats    *stats.Stats
	logger   log.Logger
}

// New binds an ephemeral send socket and returns a ready processor.
func New(cfg Config, st *stats.Stats) (*Processor, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("bind processor send socket: %w", err)
	}
	rotate := cfg.RotateInterval
	if rotate <= 0 {
		rotate = dedup.DefaultRotateInterval
	}
	return &Processor{
		forwards: cfg.Forwards,
		rotate:   rotate,
		window:   dedup.NewWindow(),
		conn:     conn,
		stats:    st,
		logger:   log.GetLogger().WithField("stage", metrics.StageProcessor),
	}, nil
}

// Run consumes packets until ctx is cancelled or in is closed.
func (p *Processor) Run(ctx context.Context, in <-chan core.RelayPacket) error {
	defer p.conn.Close()

	ticker := time.NewTicker(p.rotate)
	defer ticker.Stop()

	gauge := metrics.WindowSize.WithLabelValues(metrics.StageProcessor)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.window.Rotate()
			gauge.Set(float64(p.window.Len()))
		case pkt, ok := <-in:
			if !ok {
				return nil
			}
			p.Process(pkt)
		}
	}
}

// Process handles one packet. Exposed for tests and for callers that drive
// the window themselves.
func (p *Processor) Process(pkt core.RelayPacket) {
	start := time.Now()
	defer func() { p.stats.AddElapsed(time.Since(start)) }()

	if !p.window.Observe(pkt.Hash, pkt.Source) {
		return
	}
	p.stats.AddFirst(pkt.Source)

	if pkt.Source != core.SourceRelay {
		return
	}
	for _, addr := range p.forwards {
		if _, err := p.conn.WriteToUDP(pkt.Data, addr); err != nil {
			metrics.SendErrorsTotal.WithLabelValues(metrics.StageProcessor).Inc()
			p.logger.WithError(err).WithField(core.FieldAddr, addr.String()).Warn("failed to forward shred")
		}
	}
	p.stats.AddForwarded()
}

// WindowLen returns the number of hashes in the current generation.
func (p *Processor) WindowLen() int { return p.window.Len() }

// ParseForwards resolves host:port strings into UDP addresses.
func ParseForwards(addrs []string) ([]*net.UDPAddr, error) {
	out := make([]*net.UDPAddr, 0, len(addrs))
	for _, a := range addrs {
		ua, err := net.ResolveUDPAddr("udp4", a)
		if err != nil {
			return nil, fmt.Errorf("%w: forward address %q: %v", core.ErrConfigInvalid, a, err)
		}
		out = append(out, ua)
	}
	return out, nil
}
