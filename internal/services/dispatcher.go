package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/model"
)

// --- Background Delivery ---

var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// Renderer turns an order into printer bytes.
type Renderer interface {
	Render(order model.Order) []byte
}

type Job struct {
	ID        string
	Order     model.Order
	Submitted time.Time
}

type DispatcherOptions struct {
	Workers   int
	QueueSize int
	// OnDone observes every finished job. It runs on the worker goroutine.
	OnDone func(Job, Delivery)
}

// Dispatcher renders and delivers orders off the request path. Outcomes are
// best-effort: they are logged and passed to OnDone, never returned to the
// submitter. Started jobs are never cancelled.
type Dispatcher struct {
	renderer Renderer
	printer  Deliverer
	logger   *slog.Logger
	onDone   func(Job, Delivery)

	jobs     chan Job
	mu       sync.RWMutex
	closed   bool
	workers  sync.WaitGroup
	overflow sync.WaitGroup
}

func NewDispatcher(r Renderer, p Deliverer, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	d := &Dispatcher{
		renderer: r,
		printer:  p,
		logger:   logger,
		onDone:   opts.OnDone,
		jobs:     make(chan Job, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			for job := range d.jobs {
				d.run(job)
			}
		}()
	}
	return d
}

// Submit hands the order to a worker and returns its job id without waiting
// for delivery. When every worker is busy and the queue is full the job
// runs on its own goroutine rather than blocking the caller.
func (d *Dispatcher) Submit(order model.Order) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return "", ErrDispatcherClosed
	}

	job := Job{ID: uuid.NewString(), Order: order, Submitted: time.Now()}
	select {
	case d.jobs <- job:
	default:
		d.logger.Warn("dispatch queue full, running job detached", "job_id", job.ID, "order_id", order.ID)
		d.overflow.Add(1)
		go func() {
			defer d.overflow.Done()
			d.run(job)
		}()
	}
	return job.ID, nil
}

// Close stops intake and waits for queued and running jobs.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.workers.Wait()
	d.overflow.Wait()
}

func (d *Dispatcher) run(job Job) {
	ctx := context.WithValue(context.Background(), model.ContextJobID, job.ID)
	log := d.logger.With("job_id", job.ID, "order_id", job.Order.ID)

	data := d.renderer.Render(job.Order)
	del := d.printer.Print(ctx, data)
	if del.OK() {
		ep, _ := del.Endpoint()
		log.Info("order printed", "address", ep.Address(), "items", len(job.Order.Items),
			"elapsed", time.Since(job.Submitted).Round(time.Millisecond))
	} else {
		log.Error("order print failed", "error", del.Err())
	}
	if d.onDone != nil {
		d.onDone(job, del)
	}
}
