// Package region ranks relay regions by latency and resolves the addresses
// the sniffer sends captured shreds back to.
package region

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"

	"firestige.xyz/shredrelay/internal/core"
	"firestige.xyz/shredrelay/internal/log"
)

const (
	DefaultPort    = 8002
	DefaultNearest = 3
)

// Prober measures the round-trip latency to a host.
type Prober interface {
	Probe(ctx context.Context, host string) (time.Duration, error)
}

// Resolver resolves a host to IP addresses.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Ranked is a reachable region with its measured latency.
type Ranked struct {
	Name    string
	Host    string
	Latency time.Duration
}

// Ranker orders regions by latency.
type Ranker struct {
	Prober      Prober
	Resolver    Resolver
	Parallelism int
}

// NewRanker returns a Ranker that pings hosts and resolves them through the
// system resolver.
func NewRanker(count int, timeout time.Duration) *Ranker {
	return &Ranker{
		Prober:   &PingProber{Count: count, Timeout: timeout},
		Resolver: net.DefaultResolver,
	}
}

// Rank probes every host concurrently and returns the reachable regions,
// fastest first. Ties are broken by name.
func (r *Ranker) Rank(ctx context.Context, hosts map[string]string) []Ranked {
	p := pool.NewWithResults[*Ranked]()
	if r.Parallelism > 0 {
		p = p.WithMaxGoroutines(r.Parallelism)
	}
	for name, host := range hosts {
		p.Go(func() *Ranked {
			logger := log.GetLogger().WithField(core.FieldRegion, name).WithField(core.FieldRegionHost, host)
			latency, err := r.Prober.Probe(ctx, host)
			if err != nil {
				logger.WithError(err).Warn("region unreachable")
				return nil
			}
			logger.WithField(core.FieldRegionLatency, latency.Milliseconds()).Info("region probed")
			return &Ranked{Name: name, Host: host, Latency: latency}
		})
	}

	var ranked []Ranked
	for _, res := range p.Wait() {
		if res != nil {
			ranked = append(ranked, *res)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Latency != ranked[j].Latency {
			return ranked[i].Latency < ranked[j].Latency
		}
		return ranked[i].Name < ranked[j].Name
	})
	return ranked
}

// Resolve resolves the first n ranked regions on port. Hosts that fail to
// resolve are skipped; only IPv4 addresses are returned.
func (r *Ranker) Resolve(ctx context.Context, ranked []Ranked, n, port int) []*net.UDPAddr {
	if n > len(ranked) {
		n = len(ranked)
	}
	var addrs []*net.UDPAddr
	for _, reg := range ranked[:n] {
		logger := log.GetLogger().WithField(core.FieldRegion, reg.Name).WithField(core.FieldRegionHost, reg.Host)
		logger.Infof("resolving top region %s:%d", reg.Host, port)
		ips, err := r.Resolver.LookupIPAddr(ctx, reg.Host)
		if err != nil {
			logger.WithError(err).Warn("failed to resolve region host")
			continue
		}
		for _, ip := range ips {
			if v4 := ip.IP.To4(); v4 != nil {
				addrs = append(addrs, &net.UDPAddr{IP: v4, Port: port})
			}
		}
	}
	return addrs
}

// Nearest ranks hosts and resolves the n fastest regions on port.
func (r *Ranker) Nearest(ctx context.Context, hosts map[string]string, n, port int) ([]*net.UDPAddr, error) {
	ranked := r.Rank(ctx, hosts)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: no region of %d answered", core.ErrNoDestinations, len(hosts))
	}
	log.GetLogger().WithField(core.FieldRegion, ranked[0].Name).Info("nearest region selected")

	addrs := r.Resolve(ctx, ranked, n, port)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: nearest regions did not resolve", core.ErrNoDestinations)
	}
	return addrs, nil
}

// ParseStatic parses configured host:port destinations, defaulting the
// port when absent.
func ParseStatic(dests []string, defaultPort int) ([]*net.UDPAddr, error) {
	addrs := make([]*net.UDPAddr, 0, len(dests))
	for _, d := range dests {
		if _, _, err := net.SplitHostPort(d); err != nil {
			d = net.JoinHostPort(d, strconv.Itoa(defaultPort))
		}
		a, err := net.ResolveUDPAddr("udp4", d)
		if err != nil {
			return nil, fmt.Errorf("%w: destination %q: %v", core.ErrConfigInvalid, d, err)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}
