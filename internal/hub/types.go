package hub

import (
	"errors"
	"fmt"
	"time"
)

// #region errors

var (
	// ErrClosed is returned when sending to a connection that is no longer active.
	ErrClosed = errors.New("hub: connection closed")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("hub: already running")
)

// ConnectionFailure reports a subscriber whose send or read failed; it is dropped.
type ConnectionFailure struct {
	ID  string
	Err error
}

func (e *ConnectionFailure) Error() string {
	return fmt.Sprintf("hub: subscriber %s failed: %v", e.ID, e.Err)
}

func (e *ConnectionFailure) Unwrap() error { return e.Err }

// #endregion errors

// #region config

// Config controls the listener and delivery behavior.
type Config struct {
	Addr         string        `yaml:"addr"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	QueueSize    int           `yaml:"queue_size"`
}

// DefaultConfig listens on 0.0.0.0:8765.
func DefaultConfig() Config {
	return Config{
		Addr:         "0.0.0.0:8765",
		WriteTimeout: 5 * time.Second,
		QueueSize:    64,
	}
}

// #endregion config

// #region connection-state

// ConnState is the lifecycle of one subscriber connection.
type ConnState int32

const (
	StateEstablished ConnState = iota // handshake done, not yet registered
	StateActive                       // registered, idle
	StateSending                      // delivery in flight
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateEstablished:
		return "established"
	case StateActive:
		return "active"
	case StateSending:
		return "sending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// #endregion connection-state

// #region stats

// Stats is a point-in-time view of hub counters.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Failed      uint64 `json:"failed"`
	Dropped     uint64 `json:"dropped"`
}

// #endregion stats
