package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/model"
)

// --- Printer Transport ---

type NetworkErrorKind string

const (
	KindUnreachable NetworkErrorKind = "unreachable"
	KindRefused     NetworkErrorKind = "refused"
	KindTimeout     NetworkErrorKind = "timeout"
	KindWrite       NetworkErrorKind = "write"
	KindUnknown     NetworkErrorKind = "unknown"
)

var ErrNoEndpoints = errors.New("no printer address configured")

// NetworkError is the failure of a single delivery attempt.
type NetworkError struct {
	Kind    NetworkErrorKind
	Address string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Address, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Deliverer sends a rendered receipt to a printer.
type Deliverer interface {
	Print(ctx context.Context, data []byte) Delivery
}

type Attempt struct {
	Endpoint model.Endpoint
	Err      error
}

// Delivery records every attempt of one multi-endpoint delivery.
type Delivery struct {
	Attempts []Attempt
	Bytes    int
}

// OK reports whether the last attempt succeeded. Attempts stop at the first
// success, so this is the overall pass/fail.
func (d Delivery) OK() bool {
	return len(d.Attempts) > 0 && d.Attempts[len(d.Attempts)-1].Err == nil
}

// Endpoint returns the address that accepted the job.
func (d Delivery) Endpoint() (model.Endpoint, bool) {
	if !d.OK() {
		return model.Endpoint{}, false
	}
	return d.Attempts[len(d.Attempts)-1].Endpoint, true
}

func (d Delivery) Err() error {
	if d.OK() {
		return nil
	}
	if len(d.Attempts) == 0 {
		return ErrNoEndpoints
	}
	errs := make([]error, 0, len(d.Attempts))
	for _, a := range d.Attempts {
		errs = append(errs, a.Err)
	}
	return errors.Join(errs...)
}

// Transport writes raw bytes to a printer over TCP, trying the printer's
// addresses in order until one accepts the whole job.
type Transport struct {
	Printer model.Printer
	Timeout time.Duration
	Dial    DialFunc
	Logger  *slog.Logger
}

func NewTransport(p model.Printer, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := p.Timeout()
	return &Transport{
		Printer: p,
		Timeout: timeout,
		Dial:    (&net.Dialer{Timeout: timeout}).DialContext,
		Logger:  logger,
	}
}

func (t *Transport) Print(ctx context.Context, data []byte) Delivery {
	del := Delivery{Bytes: len(data)}
	eps := t.Printer.Endpoints()
	log := t.Logger.With("printer", t.Printer.Label())
	if id, ok := ctx.Value(model.ContextJobID).(string); ok {
		log = log.With("job_id", id)
	}

	for i, ep := range eps {
		log.Info("connecting to printer", "address", ep.Address(), "attempt", i+1, "of", len(eps))
		err := t.Send(ctx, ep, data)
		del.Attempts = append(del.Attempts, Attempt{Endpoint: ep, Err: err})
		if err == nil {
			log.Info("print job sent", "address", ep.Address(), "bytes", len(data))
			return del
		}
		var nerr *NetworkError
		kind := KindUnknown
		if errors.As(err, &nerr) {
			kind = nerr.Kind
		}
		log.Warn("printer attempt failed", "address", ep.Address(), "kind", string(kind), "error", err)
	}
	if len(eps) == 0 {
		log.Error("print job dropped", "error", ErrNoEndpoints)
	} else {
		log.Error("no printer address reachable", "tried", len(eps))
	}
	return del
}

// Send delivers data to a single endpoint. The connection is always closed
// before returning.
func (t *Transport) Send(ctx context.Context, ep model.Endpoint, data []byte) error {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = t.Printer.Timeout()
	}
	dial := t.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: timeout}).DialContext
	}
	addr := ep.Address()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := dial(dialCtx, "tcp", addr)
	if err != nil {
		return &NetworkError{Kind: classify(err), Address: addr, Err: fmt.Errorf("connection failed: %w", err)}
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return &NetworkError{Kind: KindWrite, Address: addr, Err: err}
	}
	if _, err := conn.Write(data); err != nil {
		kind := KindWrite
		if k := classify(err); k == KindTimeout {
			kind = k
		}
		return &NetworkError{Kind: kind, Address: addr, Err: fmt.Errorf("write failed: %w", err)}
	}
	return nil
}

func classify(err error) NetworkErrorKind {
	var nerr net.Error
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &nerr) && nerr.Timeout():
		return KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH), errors.As(err, &dnsErr):
		return KindUnreachable
	}
	return KindUnknown
}
