// Package daemon wires the relay pipeline and manages the process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"firestige.xyz/shredrelay/internal/capture"
	"firestige.xyz/shredrelay/internal/config"
	"firestige.xyz/shredrelay/internal/core"
	"firestige.xyz/shredrelay/internal/dedup"
	"firestige.xyz/shredrelay/internal/log"
	"firestige.xyz/shredrelay/internal/metrics"
	"firestige.xyz/shredrelay/internal/processor"
	"firestige.xyz/shredrelay/internal/queue"
	"firestige.xyz/shredrelay/internal/receiver"
	"firestige.xyz/shredrelay/internal/region"
	"firestige.xyz/shredrelay/internal/sniffer"
	"firestige.xyz/shredrelay/internal/stats"
)

// Option customizes a Daemon.
type Option func(*Daemon)

// WithCaptureOpener replaces the capture device opener.
func WithCaptureOpener(open func(capture.Options) (capture.Handle, error)) Option {
	return func(d *Daemon) { d.openCapture = open }
}

// WithRanker replaces the region ranker used when no static sniffer
// destinations are configured.
func WithRanker(r *region.Ranker) Option {
	return func(d *Daemon) { d.ranker = r }
}

// Daemon runs receivers, processor, sniffer and the periodic reporters.
type Daemon struct {
	config *config.Config
	stats  *stats.Stats
	logger log.Logger

	metricsServer *metrics.Server // nil if metrics disabled
	receivers     []*receiver.Receiver
	processor     *processor.Processor
	sniffer       *sniffer.Sniffer // nil if sniffer disabled

	packets *queue.Unbounded[core.RelayPacket]
	side    *queue.Unbounded[[]byte] // nil if sniffer disabled

	openCapture func(capture.Options) (capture.Handle, error)
	ranker      *region.Ranker

	ctx     context.Context
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	fatal   chan error
	sigChan chan os.Signal
	stopped bool
}

// New creates a daemon for a validated configuration.
func New(cfg *config.Config, opts ...Option) *Daemon {
	d := &Daemon{
		config:      cfg,
		logger:      log.GetLogger(),
		openCapture: capture.Open,
		ranker:      region.NewRanker(cfg.Regions.ProbeCount, cfg.Regions.ProbeTimeout),
		fatal:       make(chan error, 4),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start builds every component and starts them in the background.
func (d *Daemon) Start() error {
	if err := log.Init(&d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	d.logger = log.GetLogger()
	d.logger.WithField(core.FieldPort, d.config.Receiver.Port).Info("starting shredrelay")

	if err := d.writePIDFile(); err != nil {
		return err
	}
	if err := d.startMetrics(); err != nil {
		return err
	}

	d.stats = stats.New()
	d.packets = queue.NewUnbounded[core.RelayPacket]()

	proc, err := processor.New(processor.Config{
		Forwards:       d.config.Processor.ForwardAddrs,
		RotateInterval: d.config.Processor.RotateInterval,
	}, d.stats)
	if err != nil {
		return err
	}
	d.processor = proc

	if d.config.Sniffer.Enabled {
		if err := d.buildSniffer(); err != nil {
			return err
		}
	}
	if err := d.bindReceivers(); err != nil {
		return err
	}

	if d.sniffer != nil {
		d.logger.Info("starting sniffer")
		d.goFatal("sniffer", func(ctx context.Context) error { return d.sniffer.Run(ctx, d.side.Out()) })
	}
	d.logger.Info("starting receivers")
	for _, r := range d.receivers {
		d.goFatal(r.Source().String()+" receiver", r.Run)
	}
	d.logger.Info("starting processor")
	d.goFatal("processor", func(ctx context.Context) error { return d.processor.Run(ctx, d.packets.Out()) })

	d.wg.Go(d.reportLoop)
	d.wg.Go(d.watchdogLoop)

	d.logger.Info("shredrelay started")
	return nil
}

func (d *Daemon) buildSniffer() error {
	dests := d.config.Sniffer.DestinationAddrs
	if len(dests) == 0 {
		var err error
		dests, err = d.ranker.Nearest(d.ctx, d.config.Regions.Hosts, d.config.Regions.Nearest, d.config.Regions.Port)
		if err != nil {
			return fmt.Errorf("resolve sniffer destinations: %w", err)
		}
	}

	handle, err := d.openCapture(d.config.Sniffer.CaptureOptions())
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	sn, err := sniffer.New(sniffer.Config{
		Destinations:   dests,
		RotateInterval: d.config.Sniffer.RotateInterval,
		ReportInterval: d.config.Sniffer.ReportInterval,
	}, handle)
	if err != nil {
		handle.Close()
		return err
	}
	d.sniffer = sn
	d.side = queue.NewUnbounded[[]byte]()
	return nil
}

func (d *Daemon) bindReceivers() error {
	ports := []struct {
		source core.Source
		port   int
		needed bool
	}{
		{core.SourceRelay, d.config.Receiver.Port, true},
		{core.SourceReference, d.config.Receiver.ReferencePort, d.config.Receiver.ReferencePort > 0},
	}

	var side chan<- []byte
	if d.side != nil {
		side = d.side.In()
	}
	// one hasher for both receivers so their hashes agree in the processor window
	hasher := dedup.NewHasher()
	for _, p := range ports {
		if !p.needed {
			continue
		}
		conn, err := receiver.Listen(receiver.Config{
			Source:     p.source,
			Port:       p.port,
			ReadBuffer: d.config.Receiver.ReadBufferBytes,
		})
		if err != nil {
			return err
		}
		d.receivers = append(d.receivers, receiver.New(conn, p.source, hasher, d.stats, d.packets.In(), side))
	}
	return nil
}

// goFatal runs fn until the daemon stops. A non-nil return is fatal.
func (d *Daemon) goFatal(name string, fn func(context.Context) error) {
	d.wg.Go(func() {
		if err := fn(d.ctx); err != nil {
			select {
			case d.fatal <- fmt.Errorf("%s: %w", name, err):
			default:
			}
		}
	})
}

func (d *Daemon) reportLoop() {
	ticker := time.NewTicker(d.config.Stats.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.logger.Infof("stats: %s", d.stats.Report())
		}
	}
}

// watchdogLoop warns when nothing was forwarded for a whole interval.
func (d *Daemon) watchdogLoop() {
	ticker := time.NewTicker(d.config.WatchdogInterval)
	defer ticker.Stop()
	last := d.stats.ForwardedTotal()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			current := d.stats.ForwardedTotal()
			if current == last {
				d.logger.Warn("no recent shreds received")
			}
			last = current
		}
	}
}

// ReceiverAddrs returns the bound receiver addresses, relay first.
func (d *Daemon) ReceiverAddrs() []net.Addr {
	addrs := make([]net.Addr, len(d.receivers))
	for i, r := range d.receivers {
		addrs[i] = r.LocalAddr()
	}
	return addrs
}

// Run blocks until a shutdown signal, a fatal component error, or Shutdown.
// The returned error is the fatal component error, if any.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT)

	d.logger.Info("shredrelay running, waiting for signals")

	select {
	case sig := <-d.sigChan:
		d.logger.WithField("signal", sig.String()).Info("received shutdown signal")
		d.Stop()
		return nil
	case err := <-d.fatal:
		d.logger.WithError(err).Error("component failed")
		d.Stop()
		return err
	case <-d.ctx.Done():
		d.Stop()
		return nil
	}
}

// Shutdown makes Run return.
func (d *Daemon) Shutdown() {
	d.cancel()
}

// Stop cancels every component and releases process resources.
func (d *Daemon) Stop() {
	if d.stopped {
		return
	}
	d.stopped = true
	d.logger.Info("stopping shredrelay")

	d.cancel()
	d.wg.Wait()

	if d.packets != nil {
		d.packets.Discard()
		d.packets.Close()
	}
	if d.side != nil {
		d.side.Discard()
		d.side.Close()
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			d.logger.WithError(err).Error("error stopping metrics server")
		}
	}
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}
	if err := d.removePIDFile(); err != nil {
		d.logger.WithError(err).Error("error removing PID file")
	}
	d.logger.Info("shredrelay stopped")
}

// MetricsAddr returns the metrics listen address, or nil when disabled.
func (d *Daemon) MetricsAddr() net.Addr {
	if d.metricsServer == nil {
		return nil
	}
	return d.metricsServer.Addr()
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		d.logger.Info("metrics server disabled")
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	return nil
}

func (d *Daemon) writePIDFile() error {
	if d.config.PIDFile == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(d.config.PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.config.PIDFile, err)
	}
	d.logger.WithField("path", d.config.PIDFile).WithField("pid", pid).Debug("PID file written")
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.config.PIDFile == "" {
		return nil
	}
	if err := os.Remove(d.config.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.config.PIDFile, err)
	}
	return nil
}
