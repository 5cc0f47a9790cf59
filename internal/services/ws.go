package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/model"
)

// --- WebSocket Agent Logic ---

// Agent keeps a websocket open to the order server and prints every order
// it pushes.
type Agent struct {
	URL        string
	APIKey     string
	Printer    model.Printer
	Renderer   Renderer
	Deliverer  Deliverer
	Logger     *slog.Logger
	Dialer     *websocket.Dialer
	RetryDelay time.Duration
}

// Run connects, serves the connection, and reconnects after RetryDelay until
// ctx is cancelled or the server asks the agent to unregister.
func (a *Agent) Run(ctx context.Context) error {
	if a.Printer.AgentKey == "" {
		return fmt.Errorf("printer %s has no agent key, run register first", a.Printer.Label())
	}
	log := a.logger()
	dialer := a.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	delay := a.RetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	header := http.Header{}
	header.Add("X-Api-Key", a.APIKey)

	log.Info("connecting to websocket", "url", a.URL)
	for {
		conn, _, err := dialer.DialContext(ctx, a.URL, header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("connection failed, retrying", "error", err, "retry_in", delay)
		} else {
			log.Info("connected")
			err := a.handleConnection(ctx, conn)
			conn.Close()
			if errors.Is(err, errUnregistered) {
				log.Info("server requested unregister, agent stopped")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("disconnected, reconnecting", "error", err, "retry_in", delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

var errUnregistered = errors.New("unregistered by server")

func (a *Agent) logger() *slog.Logger {
	l := a.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("printer", a.Printer.Label(), "component", "agent")
}

// agentConn serializes writes from the read loop and the print workers.
type agentConn struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	agentKey string
}

func (c *agentConn) send(msg model.WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.AgentKey = c.agentKey
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

func (a *Agent) handleConnection(ctx context.Context, conn *websocket.Conn) error {
	log := a.logger()
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	out := &agentConn{conn: conn, agentKey: a.Printer.AgentKey}
	// One worker keeps receipts in the order the server sent them. Jobs still
	// running when the connection ends finish before handleConnection returns.
	jobs := NewDispatcher(a.Renderer, a.Deliverer, DispatcherOptions{
		Workers:   1,
		QueueSize: 32,
		OnDone: func(job Job, del Delivery) {
			reply := model.WSMessage{Type: model.MessageTypePrinted, OrderID: job.Order.ID}
			if !del.OK() {
				reply.Type = model.MessageTypePrintFailed
				reply.Error = del.Err().Error()
			}
			if err := out.send(reply); err != nil {
				log.Warn("could not report print outcome", "order_id", job.Order.ID, "job_id", job.ID, "error", err)
			}
		},
	}, log)
	defer jobs.Close()

	if err := out.send(model.WSMessage{Type: model.MessageTypeRegister}); err != nil {
		return err
	}

	for {
		var msg model.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch msg.Type {
		case model.MessageTypeRegistered:
			log.Info("registered with server")

		case model.MessageTypePing:
			log.Debug("received ping, sending pong")
			if err := out.send(model.WSMessage{Type: model.MessageTypePong}); err != nil {
				return err
			}

		case model.MessageTypeNewOrder:
			log.Info("received print order")
			if err := a.handlePrintJob(out, jobs, msg.Order); err != nil {
				return err
			}

		case model.MessageTypeUnregister:
			return errUnregistered

		default:
			log.Warn("unknown message type", "type", string(msg.Type))
		}
	}
}

// handlePrintJob queues every order of the payload. Outcomes are reported by
// the dispatcher as each job finishes; only a failure to report a bad
// payload ends the connection.
func (a *Agent) handlePrintJob(out *agentConn, jobs *Dispatcher, rawOrder json.RawMessage) error {
	log := a.logger()
	var payload model.OrderPayload
	if err := json.Unmarshal(rawOrder, &payload); err != nil {
		log.Warn("error parsing order JSON", "error", err)
		return out.send(model.WSMessage{Type: model.MessageTypePrintFailed, Error: err.Error()})
	}
	if !payload.Success || len(payload.Data.Orders) == 0 {
		log.Warn("no valid orders in payload")
		return nil
	}

	for _, order := range payload.Data.Orders {
		jobID, err := jobs.Submit(order)
		if err != nil {
			return out.send(model.WSMessage{Type: model.MessageTypePrintFailed, OrderID: order.ID, Error: err.Error()})
		}
		log.Info("order queued", "order_id", order.ID, "job_id", jobID, "items", len(order.Items))
	}
	return nil
}
