package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/model"
	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/utils"
)

// --- Connectivity Check ---

type PingFunc func(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)

type CheckResult struct {
	Endpoint model.Endpoint
	PingRTT  time.Duration
	PingErr  error
	PortOpen bool
}

// Checker probes each printer address with ICMP and a TCP connect. It only
// reports; it never affects delivery.
type Checker struct {
	Ping    PingFunc
	Probe   ProbeFunc
	Timeout time.Duration
}

func NewChecker() *Checker {
	return &Checker{Ping: utils.Ping, Probe: utils.Probe, Timeout: 3 * time.Second}
}

func (c *Checker) Check(ctx context.Context, p model.Printer, out io.Writer) []CheckResult {
	var results []CheckResult
	for _, ep := range p.Endpoints() {
		r := CheckResult{Endpoint: ep}
		r.PingRTT, r.PingErr = c.Ping(ctx, ep.Host, c.Timeout)
		if r.PingErr == nil {
			fmt.Fprintf(out, "✓ Ping to %s succeeded (%s)\n", ep.Host, r.PingRTT.Round(time.Millisecond))
		} else {
			fmt.Fprintf(out, "✗ Ping to %s failed: %v\n", ep.Host, r.PingErr)
		}

		r.PortOpen = c.Probe(ep.Host, ep.Port)
		if r.PortOpen {
			fmt.Fprintf(out, "✓ Port %d open on %s\n", ep.Port, ep.Host)
		} else {
			fmt.Fprintf(out, "✗ Port %d closed on %s\n", ep.Port, ep.Host)
		}
		results = append(results, r)
	}
	return results
}
