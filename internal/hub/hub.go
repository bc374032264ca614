package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// #region hub-struct

// Hub fans out JSON updates to every connected websocket subscriber.
//
// The subscriber registry belongs to the goroutine running Run. Connection
// handlers and publishers reach it only through the register, unregister and
// broadcast channels, so Publish is safe from any goroutine.
type Hub struct {
	cfg    Config
	logger *zap.Logger

	register   chan subscriber
	unregister chan subscriber
	broadcast  chan []byte
	done       chan struct{}

	started atomic.Bool
	running atomic.Bool

	subscribers atomic.Int64
	published   atomic.Uint64
	delivered   atomic.Uint64
	failed      atomic.Uint64
	dropped     atomic.Uint64

	clients map[subscriber]struct{} // owned by Run
}

// New creates a hub. Call Run to start delivery and ListenAndServe to accept subscribers.
func New(cfg Config, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Hub{
		cfg:        cfg,
		logger:     logger,
		register:   make(chan subscriber),
		unregister: make(chan subscriber),
		broadcast:  make(chan []byte, cfg.QueueSize),
		done:       make(chan struct{}),
		clients:    make(map[subscriber]struct{}),
	}
}

// #endregion hub-struct

// #region run

// Run owns the registry until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
		for c := range h.clients {
			_ = c.Close()
			delete(h.clients, c)
		}
		h.subscribers.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-h.register:
			// Updates queued before the subscriber arrived are not theirs to see.
			h.flush()
			c.activate()
			h.clients[c] = struct{}{}
			h.subscribers.Store(int64(len(h.clients)))
			h.logger.Info("subscriber connected", zap.String("id", c.ID()), zap.Int("total", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.logger.Info("subscriber disconnected", zap.String("id", c.ID()), zap.Int("total", len(h.clients)))
			}
		case payload := <-h.broadcast:
			h.deliver(payload)
		}
	}
}

// flush delivers every queued update to the current subscribers.
func (h *Hub) flush() {
	for {
		select {
		case payload := <-h.broadcast:
			h.deliver(payload)
		default:
			return
		}
	}
}

func (h *Hub) remove(c subscriber) {
	delete(h.clients, c)
	_ = c.Close()
	h.subscribers.Store(int64(len(h.clients)))
}

// #endregion run

// #region publish

// Publish encodes payload once and hands it to the hub goroutine. It never
// blocks: when the hub is not running or the hand-off queue is full the update
// is dropped and counted. Zero subscribers is not an error. An update reaches
// only the subscribers registered when Publish returned, never later joiners.
func (h *Hub) Publish(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	h.published.Add(1)

	if !h.running.Load() {
		h.dropped.Add(1)
		return nil
	}
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast queue full, update dropped", zap.Int("queue", cap(h.broadcast)))
	}
	return nil
}

// #endregion publish

// #region deliver

type sendResult struct {
	sub subscriber
	err error
}

// deliver sends to all current subscribers concurrently and drops the ones that fail.
func (h *Hub) deliver(payload []byte) {
	if len(h.clients) == 0 {
		return
	}

	results := make(chan sendResult, len(h.clients))
	var wg sync.WaitGroup
	for c := range h.clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- sendResult{sub: c, err: c.Send(payload, h.cfg.WriteTimeout)}
		}()
	}
	wg.Wait()
	close(results)

	for r := range results {
		if r.err == nil {
			h.delivered.Add(1)
			continue
		}
		h.failed.Add(1)
		failure := &ConnectionFailure{ID: r.sub.ID(), Err: r.err}
		h.logger.Warn("dropping subscriber", zap.Error(failure))
		h.remove(r.sub)
	}
}

// #endregion deliver

// #region connection-handler

// serveConn runs for the lifetime of one websocket connection.
func (h *Hub) serveConn(ws *websocket.Conn) {
	c := newWSConn(ws)

	select {
	case h.register <- c:
	case <-h.done:
		_ = c.Close()
		return
	}

	h.readLoop(c)

	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// readLoop logs and discards inbound messages until the connection fails.
func (h *Hub) readLoop(c *wsConn) {
	for {
		var msg string
		if err := websocket.Message.Receive(c.ws, &msg); err != nil {
			if !errors.Is(err, io.EOF) && c.State() != StateClosed {
				h.logger.Debug("subscriber read failed",
					zap.Error(&ConnectionFailure{ID: c.ID(), Err: err}),
					zap.String("remote", c.remoteAddr()))
			}
			return
		}
		h.logger.Debug("ignoring inbound message", zap.String("id", c.ID()), zap.Int("bytes", len(msg)))
	}
}

// #endregion connection-handler

// #region stats

// Subscribers returns the number of registered connections.
func (h *Hub) Subscribers() int {
	return int(h.subscribers.Load())
}

// Stats returns delivery counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers: h.Subscribers(),
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Failed:      h.failed.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// #endregion stats
