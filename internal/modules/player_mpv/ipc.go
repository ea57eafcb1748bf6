package playermpv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const (
	ipcMaxRetries  = 3
	ipcRetryDelay  = 100 * time.Millisecond
	ipcReadTimeout = 1 * time.Second
)

// ipcRequest is the newline-delimited JSON mpv expects on its IPC socket.
type ipcRequest struct {
	Command   []any `json:"command"`
	RequestID int   `json:"request_id,omitempty"`
}

type ipcResponse struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID int             `json:"request_id"`
	Event     string          `json:"event"`
}

// mpvError is a failure reported by mpv itself, as opposed to a transport
// error. These are not retried.
type mpvError struct {
	Reason string
}

func (e *mpvError) Error() string { return "mpv: " + e.Reason }

// command sends one request and returns mpv's data payload. Transport
// failures are retried a few times; mpv-level errors are returned as-is.
func (d *Driver) command(args ...any) (json.RawMessage, error) {
	d.reqMu.Lock()
	d.reqID++
	id := d.reqID
	d.reqMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < ipcMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(ipcRetryDelay)
		}
		data, err := roundTrip(d.socket, id, args)
		if err == nil {
			return data, nil
		}
		if _, ok := err.(*mpvError); ok {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("mpv ipc failed after %d attempts: %w", ipcMaxRetries, lastErr)
}

func (d *Driver) exec(args ...any) error {
	_, err := d.command(args...)
	return err
}

// roundTrip performs a single request over a fresh connection. mpv
// broadcasts events to every IPC client, so lines are read until the reply
// carrying our request id turns up.
func roundTrip(socket string, id int, args []any) (json.RawMessage, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(ipcRequest{Command: args, RequestID: id})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(ipcReadTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var resp ipcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Event != "" {
			continue
		}
		if resp.RequestID != 0 && resp.RequestID != id {
			continue
		}
		if resp.Error != "" && resp.Error != "success" {
			return nil, &mpvError{Reason: resp.Error}
		}
		return resp.Data, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return nil, fmt.Errorf("connection closed before reply")
}
