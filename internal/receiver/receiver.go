// Package receiver listens for shreds pushed by upstream relay sources.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"firestige.xyz/shredrelay/internal/core"
	"firestige.xyz/shredrelay/internal/dedup"
	"firestige.xyz/shredrelay/internal/log"
	"firestige.xyz/shredrelay/internal/shred"
	"firestige.xyz/shredrelay/internal/stats"
)

// maxDatagram is the largest UDP payload, so reads never truncate.
const maxDatagram = 65535

// Config describes one listening source.
type Config struct {
	Source     core.Source
	Port       int
	ReadBuffer int // SO_RCVBUF in bytes, 0 keeps the system default
}

// Receiver reads datagrams from one relay source, hashes their canonical
// prefix and emits them to the processor and to the sniffer side channel.
type Receiver struct {
	source core.Source
	conn   *net.UDPConn
	hasher dedup.Hasher
	stats  *stats.Stats
	out    chan<- core.RelayPacket
	side   chan<- []byte
	logger log.Logger
}

// Listen binds the UDP port from cfg on all interfaces.
func Listen(cfg Config) (*net.UDPConn, error) {
	if !cfg.Source.Valid() {
		return nil, fmt.Errorf("unknown receiver source %d", cfg.Source)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("bind %s receiver on port %d: %w", cfg.Source, cfg.Port, err)
	}
	if cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(cfg.ReadBuffer); err != nil {
			log.GetLogger().WithError(err).WithField(core.FieldSource, cfg.Source.String()).Warn("failed to set receive buffer")
		}
	}
	return conn, nil
}

// New creates a receiver on an already bound socket. side may be nil when
// no sniffer consumes the side channel.
func New(conn *net.UDPConn, source core.Source, hasher dedup.Hasher, st *stats.Stats,
	out chan<- core.RelayPacket, side chan<- []byte) *Receiver {
	return &Receiver{
		source: source,
		conn:   conn,
		hasher: hasher,
		stats:  st,
		out:    out,
		side:   side,
		logger: log.GetLogger().WithField(core.FieldSource, source.String()),
	}
}

// Source returns the source tag of this receiver.
func (r *Receiver) Source() core.Source { return r.source }

// LocalAddr returns the bound address.
func (r *Receiver) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// Run reads until ctx is cancelled or the socket fails. A non-nil error is
// unrecoverable; the caller is expected to terminate the process.
func (r *Receiver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.conn.Close() })
	defer stop()

	r.logger.WithField(core.FieldAddr, r.conn.LocalAddr().String()).Info("ready to receive shreds")

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTransient(err) {
				continue
			}
			return fmt.Errorf("%s receiver: socket recv failed unrecoverably: %w", r.source, err)
		}
		if n == 0 {
			continue
		}
		r.handle(buf[:n])
	}
}

// handle classifies one datagram. data is only valid during the call.
func (r *Receiver) handle(data []byte) {
	r.stats.AddPacket(r.source)
	if len(data) <= shred.SignatureSize {
		return
	}

	canonical, err := shred.Canonical(data)
	if err != nil {
		r.stats.AddInvalid(r.source)
		if r.logger.IsTraceEnabled() {
			r.logger.WithError(err).WithField(core.FieldLength, len(data)).Trace("invalid shred payload")
		}
		return
	}
	hash := r.hasher.Sum64(canonical)

	r.out <- core.RelayPacket{Source: r.source, Data: clone(data), Hash: hash}
	if r.side != nil {
		r.side <- clone(data)
	}
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

func isTransient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR)
}
