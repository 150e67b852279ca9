package domain

import "time"

type StreamID string

// StreamState is the lifecycle state of a monitored stream. There is no
// terminal state: a stream can be unregistered from any state.
type StreamState string

const (
	StateInitializing StreamState = "initializing"
	StateConnected    StreamState = "connected"
	StateBuffering    StreamState = "buffering"
	StatePlaying      StreamState = "playing"
	StatePaused       StreamState = "paused"
	StateError        StreamState = "error"
	StateDisconnected StreamState = "disconnected"
)

// NowMillis returns the current time as Unix milliseconds, the timestamp
// representation used on every persisted and transported payload.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
