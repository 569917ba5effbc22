// Package sniffer forwards shreds captured off the local interface to the
// relay network, skipping those the relay already delivered.
package sniffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"firestige.xyz/shredrelay/internal/capture"
	"firestige.xyz/shredrelay/internal/core"
	"firestige.xyz/shredrelay/internal/dedup"
	"firestige.xyz/shredrelay/internal/log"
	"firestige.xyz/shredrelay/internal/metrics"
	"firestige.xyz/shredrelay/internal/queue"
	"firestige.xyz/shredrelay/internal/shred"
)

// DefaultReportInterval is the period of the forwarded-count log line.
const DefaultReportInterval = 60 * time.Second

// Config holds the sniffer settings.
type Config struct {
	Destinations   []*net.UDPAddr
	RotateInterval time.Duration
	ReportInterval time.Duration
}

// Sniffer owns the capture handle, its own dedup window and the socket used
// to send captured shreds back to the relay network.
type Sniffer struct {
	handle capture.Handle
	offset int
	dests  []*net.UDPAddr
	rotate time.Duration
	report time.Duration

	window *dedup.Window
	hasher dedup.Hasher
	conn   *net.UDPConn
	sends  conc.WaitGroup

	forwarded uint64
	logger    log.Logger
}

// New creates a sniffer reading from handle. The header offset is derived
// once from the handle's link type.
func New(cfg Config, handle capture.Handle) (*Sniffer, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("bind sniffer send socket: %w", err)
	}
	s := &Sniffer{
		handle: handle,
		offset: capture.HeaderOffset(handle.LinkType()),
		dests:  cfg.Destinations,
		rotate: cfg.RotateInterval,
		report: cfg.ReportInterval,
		window: dedup.NewWindow(),
		hasher: dedup.NewHasher(),
		conn:   conn,
		logger: log.GetLogger().WithField("stage", metrics.StageSniffer),
	}
	if s.rotate <= 0 {
		s.rotate = dedup.DefaultRotateInterval
	}
	if s.report <= 0 {
		s.report = DefaultReportInterval
	}
	return s, nil
}

// Run starts the capture thread and merges its frames with the receiver side
// channel until ctx is cancelled. side may be nil. A non-nil error means the
// capture device failed.
func (s *Sniffer) Run(ctx context.Context, side <-chan []byte) error {
	defer s.conn.Close()
	defer s.sends.Wait()

	s.logger.WithField(core.FieldOffset, s.offset).Infof("packet listener started, send back to: %s", joinAddrs(s.dests))

	frames := queue.NewUnbounded[[]byte]()
	defer frames.Discard()
	capErr := make(chan error, 1)
	go s.captureLoop(ctx, frames, capErr)

	rotate := time.NewTicker(s.rotate)
	defer rotate.Stop()
	report := time.NewTicker(s.report)
	defer report.Stop()

	gauge := metrics.WindowSize.WithLabelValues(metrics.StageSniffer)
	in := frames.Out()
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-side:
			if !ok {
				s.logger.Info("receiver side channel closed")
				side = nil
				continue
			}
			s.handleSide(data)
		case frame, ok := <-in:
			if !ok {
				in = nil
				select {
				case err := <-capErr:
					return err
				default:
				}
				s.logger.Info("capture finished")
				continue
			}
			s.handleFrame(frame)
		case <-rotate.C:
			s.window.Rotate()
			gauge.Set(float64(s.window.Len()))
		case <-report.C:
			s.logger.Infof("total send back count last %s = %d to addrs: %s", s.report, s.forwarded, joinAddrs(s.dests))
			s.forwarded = 0
		}
	}
}

// captureLoop pulls frames on a dedicated OS thread. It owns the handle and
// closes it on exit.
func (s *Sniffer) captureLoop(ctx context.Context, frames *queue.Unbounded[[]byte], errc chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer frames.Close()
	defer s.handle.Close()

	s.logger.Info("sniffer thread started")
	for ctx.Err() == nil {
		data, _, err := s.handle.ReadPacketData()
		if err != nil {
			if capture.IsTransient(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if ctx.Err() == nil {
				s.logger.WithError(err).Error("packet listener error")
				errc <- fmt.Errorf("capture: %w", err)
			}
			return
		}
		frames.In() <- data
	}
	s.logger.Info("sniffer thread terminated")
}

// handleSide records a shred the relay already delivered. The bytes are
// hashed whole.
func (s *Sniffer) handleSide(data []byte) {
	if len(data) == 0 {
		return
	}
	s.window.Observe(s.hasher.Sum64(data), core.SourceRelay)
}

func (s *Sniffer) handleFrame(frame []byte) {
	if len(frame) <= s.offset {
		metrics.SnifferFramesTotal.WithLabelValues(metrics.OutcomeMalformed).Inc()
		return
	}
	payload := frame[s.offset:]

	sh, err := shred.Parse(payload)
	if err != nil {
		metrics.SnifferFramesTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		s.logger.WithError(err).WithField(core.FieldLength, len(payload)).Warn("invalid shred data")
		return
	}
	if s.window.Contains(s.hasher.Sum64(sh.Payload())) {
		metrics.SnifferFramesTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return
	}

	s.forwarded++
	metrics.SnifferFramesTotal.WithLabelValues(metrics.OutcomeForwarded).Inc()
	s.forward(payload)
}

// forward sends payload to every destination, each on its own goroutine.
// payload is not modified after this call.
func (s *Sniffer) forward(payload []byte) {
	for _, addr := range s.dests {
		s.sends.Go(func() {
			if _, err := s.conn.WriteToUDP(payload, addr); err != nil {
				metrics.SendErrorsTotal.WithLabelValues(metrics.StageSniffer).Inc()
				s.logger.WithError(err).WithField(core.FieldAddr, addr.String()).Error("send back failed")
			}
		})
	}
}

func joinAddrs(addrs []*net.UDPAddr) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}
