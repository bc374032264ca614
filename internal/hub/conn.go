package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// subscriber is the hub's view of a connection. Only the hub goroutine
// registers or drops subscribers.
type subscriber interface {
	ID() string
	Send(payload []byte, timeout time.Duration) error
	State() ConnState
	activate()
	Close() error
}

// wsConn is a subscriber backed by a websocket connection.
type wsConn struct {
	id        string
	ws        *websocket.Conn
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{id: uuid.NewString(), ws: ws}
	c.state.Store(int32(StateEstablished))
	return c
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) State() ConnState { return ConnState(c.state.Load()) }

func (c *wsConn) activate() {
	c.state.CompareAndSwap(int32(StateEstablished), int32(StateActive))
}

// Send writes one text frame. Only an active connection accepts a send.
func (c *wsConn) Send(payload []byte, timeout time.Duration) error {
	if !c.state.CompareAndSwap(int32(StateActive), int32(StateSending)) {
		return ErrClosed
	}
	defer c.state.CompareAndSwap(int32(StateSending), int32(StateActive))

	if timeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return websocket.Message.Send(c.ws, string(payload))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *wsConn) remoteAddr() string {
	if r := c.ws.Request(); r != nil {
		return r.RemoteAddr
	}
	return ""
}
