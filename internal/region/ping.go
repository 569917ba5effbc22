package region

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var errNoSummary = errors.New("no rtt summary in ping output")

// PingProber shells out to the system ping binary.
type PingProber struct {
	Count   int
	Timeout time.Duration
}

func (p *PingProber) Probe(ctx context.Context, host string) (time.Duration, error) {
	count := p.Count
	if count <= 0 {
		count = 4
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	// a non-zero exit still prints a summary when some replies arrived
	out, err := exec.CommandContext(ctx, "ping", "-c", strconv.Itoa(count), host).Output()
	avg, perr := parseAverage(out)
	if perr != nil {
		if err != nil {
			return 0, fmt.Errorf("ping %s: %w", host, err)
		}
		return 0, fmt.Errorf("ping %s: %w", host, perr)
	}
	return avg, nil
}

// parseAverage extracts the average from a summary line such as
// "rtt min/avg/max/mdev = 23.456/56.789/90.123/12.345 ms".
func parseAverage(out []byte) (time.Duration, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "rtt") && !strings.Contains(line, "round-trip") {
			continue
		}
		_, values, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields := strings.Split(strings.TrimSpace(values), "/")
		if len(fields) < 2 {
			continue
		}
		ms, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return 0, fmt.Errorf("parse rtt average %q: %w", fields[1], err)
		}
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	return 0, errNoSummary
}
