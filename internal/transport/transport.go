package transport

import (
	"context"
	"fmt"
	"time"
)

// State is the connection lifecycle of a transport session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectionError wraps discovery/connect failures with the diagnostic
// detail needed to debug hardware mismatches.
type ConnectionError struct {
	Op      string
	Devices []string // device names seen during discovery, if any
	Err     error
}

func (e *ConnectionError) Error() string {
	if len(e.Devices) > 0 {
		return fmt.Sprintf("%s: %v (devices seen: %v)", e.Op, e.Err, e.Devices)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WriteError wraps a transport write rejection. The printer's buffer
// state after a failed write is unknown, so callers must not blindly
// retry.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("transport write failed: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// ProgressFunc is invoked after each chunk of a chunked send.
type ProgressFunc func(chunkIndex, totalChunks, bytesSent int)

// Transport is the uniform connect/send/disconnect contract over BLE
// and USB. Implementations are not safe for concurrent writers: the
// print-job orchestrator owns a session exclusively while a job runs.
type Transport interface {
	// Connect establishes the session. A second Connect while connected
	// disconnects first (one session at a time, always fresh state).
	Connect(ctx context.Context) error

	// Send performs one write. No implicit retry.
	Send(data []byte) error

	// SendChunked splits data into transport-sized writes with a drain
	// pause between chunks (not after the last). Cancellation is
	// intentionally not checked mid-transfer: aborting would leave the
	// printer holding a partial raster frame.
	SendChunked(data []byte, onProgress ProgressFunc) error

	// Disconnect is best-effort; errors are logged, never returned.
	Disconnect()

	IsConnected() bool
	State() State

	// ChunkSize reports the negotiated write size, for progress math.
	ChunkSize() int
}

// writeChunked is the shared chunking loop: ⌈len/chunkSize⌉ writes via
// write(), sleeping delay between writes but not after the final one.
func writeChunked(data []byte, chunkSize int, delay time.Duration, write func([]byte) error, onProgress ProgressFunc) error {
	if chunkSize <= 0 {
		chunkSize = 128
	}
	if len(data) == 0 {
		return nil
	}

	total := (len(data) + chunkSize - 1) / chunkSize
	sent := 0
	for i := 0; i < total; i++ {
		end := (i + 1) * chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i*chunkSize : end]

		if err := write(chunk); err != nil {
			return &WriteError{Err: err}
		}
		sent += len(chunk)
		if onProgress != nil {
			onProgress(i, total, sent)
		}
		if i < total-1 && delay > 0 {
			time.Sleep(delay)
		}
	}
	return nil
}
