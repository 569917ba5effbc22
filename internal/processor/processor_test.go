package processor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/shredrelay/internal/core"
	"firestige.xyz/shredrelay/internal/stats"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readOne(t *testing.T, conn *net.UDPConn, wait time.Duration) ([]byte, bool) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	buf := make([]byte, 4096)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, false
	}
	return buf[:n], true
}

func newProcessor(t *testing.T, sinks ...*net.UDPConn) (*Processor, *stats.Stats) {
	t.Helper()
	var forwards []*net.UDPAddr
	for _, s := range sinks {
		forwards = append(forwards, s.LocalAddr().(*net.UDPAddr))
	}
	st := stats.New()
	p, err := New(Config{Forwards: forwards}, st)
	require.NoError(t, err)
	t.Cleanup(func() { p.conn.Close() })
	return p, st
}

func TestProcessForwardsFirstRelayCopy(t *testing.T) {
	a, b := listenLoopback(t), listenLoopback(t)
	p, st := newProcessor(t, a, b)

	data := []byte("shred payload bytes")
	p.Process(core.RelayPacket{Source: core.SourceRelay, Data: data, Hash: 42})

	for _, sink := range []*net.UDPConn{a, b} {
		got, ok := readOne(t, sink, time.Second)
		require.True(t, ok)
		assert.Equal(t, data, got)
	}

	snap := st.Drain()
	assert.Equal(t, uint64(1), snap.Firsts[core.SourceRelay])
	assert.Equal(t, uint64(1), snap.Forwarded)
	assert.Greater(t, snap.Elapsed, time.Duration(0))
}

func TestProcessDropsDuplicates(t *testing.T) {
	sink := listenLoopback(t)
	p, st := newProcessor(t, sink)

	p.Process(core.RelayPacket{Source: core.SourceReference, Data: []byte("ref"), Hash: 7})
	p.Process(core.RelayPacket{Source: core.SourceRelay, Data: []byte("relay"), Hash: 7})

	_, ok := readOne(t, sink, 200*time.Millisecond)
	assert.False(t, ok, "duplicate must not be forwarded")

	snap := st.Drain()
	assert.Equal(t, uint64(1), snap.Firsts[core.SourceReference])
	assert.Equal(t, uint64(0), snap.Firsts[core.SourceRelay])
	assert.Equal(t, uint64(0), snap.Forwarded)
	assert.Equal(t, 1, p.WindowLen())
}

func TestProcessRelayDuplicateForwardedOnce(t *testing.T) {
	sink := listenLoopback(t)
	p, st := newProcessor(t, sink)

	for i := 0; i < 3; i++ {
		p.Process(core.RelayPacket{Source: core.SourceRelay, Data: []byte("x"), Hash: 9})
	}
	_, ok := readOne(t, sink, time.Second)
	require.True(t, ok)
	_, ok = readOne(t, sink, 200*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), st.Drain().Forwarded)
}

func TestRunRotatesAndStops(t *testing.T) {
	st := stats.New()
	p, err := New(Config{RotateInterval: 20 * time.Millisecond}, st)
	require.NoError(t, err)

	in := make(chan core.RelayPacket)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, in) }()

	in <- core.RelayPacket{Source: core.SourceReference, Hash: 1}
	// after two rotations the hash is forgotten and counts as first again
	time.Sleep(100 * time.Millisecond)
	in <- core.RelayPacket{Source: core.SourceReference, Hash: 1}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, uint64(2), st.Drain().Firsts[core.SourceReference])
}

func TestRunStopsWhenInputCloses(t *testing.T) {
	p, err := New(Config{}, stats.New())
	require.NoError(t, err)
	in := make(chan core.RelayPacket)
	close(in)
	assert.NoError(t, p.Run(context.Background(), in))
}

func TestParseForwards(t *testing.T) {
	addrs, err := ParseForwards([]string{"127.0.0.1:8001", "10.0.0.2:9000"})
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, 8001, addrs[0].Port)

	_, err = ParseForwards([]string{"not-an-address"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestProcessSendFailureDoesNotAbortOthers(t *testing.T) {
	sink := listenLoopback(t)
	st := stats.New()
	p, err := New(Config{Forwards: []*net.UDPAddr{
		{IP: net.IPv6loopback, Port: 9},
		sink.LocalAddr().(*net.UDPAddr),
	}}, st)
	require.NoError(t, err)
	t.Cleanup(func() { p.conn.Close() })

	p.Process(core.RelayPacket{Source: core.SourceRelay, Data: []byte("abc"), Hash: 11})

	got, ok := readOne(t, sink, time.Second)
	require.True(t, ok, "second destination must still receive the shred")
	assert.Equal(t, []byte("abc"), got)
	assert.Equal(t, uint64(1), st.Drain().Forwarded)
}
