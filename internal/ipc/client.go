package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wellsgz/netpulse/internal/monitor"
	"github.com/wellsgz/netpulse/internal/storage"
)

// DefaultTimeout bounds dialing and every request round trip
const DefaultTimeout = 5 * time.Second

// ErrClosed is returned for requests on a closed client
var ErrClosed = errors.New("ipc client closed")

// Client connects to the daemon's control socket
type Client struct {
	conn    net.Conn
	encoder *json.Encoder
	scanner *bufio.Scanner

	// Timeout bounds each request; history requests get twice as long
	Timeout time.Duration

	updates chan monitor.Update

	// Pending requests waiting for responses, keyed by request ID
	pending   map[string]chan Response
	pendingMu sync.Mutex

	ctx    chan struct{}
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

// Connect dials the daemon's control socket
func Connect(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	client := &Client{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		scanner: bufio.NewScanner(conn),
		Timeout: DefaultTimeout,
		updates: make(chan monitor.Update, 100),
		pending: make(map[string]chan Response),
		ctx:     make(chan struct{}),
	}
	client.scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	client.wg.Add(1)
	go client.readLoop()

	return client, nil
}

// readLoop routes responses to their requests and pushed updates to Updates
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.updates)

	for c.scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
			continue
		}

		if resp.Type == MsgTypeUpdate {
			var u monitor.Update
			if err := json.Unmarshal(resp.Data, &u); err != nil {
				continue
			}
			select {
			case c.updates <- u:
			default:
				// Channel full, skip
			}
			continue
		}

		if resp.ID == "" {
			continue
		}
		c.pendingMu.Lock()
		if ch, ok := c.pending[resp.ID]; ok {
			// Send while holding lock to prevent race with cleanupRequest
			select {
			case ch <- resp:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// call sends a request and waits for its response. out, when non-nil, receives the response data.
func (c *Client) call(reqType string, payload any, out any, timeout time.Duration) error {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", reqType, err)
		}
		data = raw
	}

	reqID := uuid.NewString()
	respCh := make(chan Response, 1)

	c.pendingMu.Lock()
	c.pending[reqID] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	err := c.encoder.Encode(Request{ID: reqID, Type: reqType, Data: data})
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send %s request: %w", reqType, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Type == MsgTypeError {
			return &RemoteError{Code: resp.Code, Message: resp.Error}
		}
		if out != nil {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", resp.Type, err)
			}
		}
		return nil
	case <-c.ctx:
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("%s timeout", reqType)
	}
}

// Subscribe starts the flow of updates on Updates
func (c *Client) Subscribe() error {
	return c.call(MsgTypeSubscribe, nil, nil, c.Timeout)
}

// Unsubscribe stops the flow of updates
func (c *Client) Unsubscribe() error {
	return c.call(MsgTypeUnsubscribe, nil, nil, c.Timeout)
}

// Updates returns pushed updates. It is closed when the connection ends.
func (c *Client) Updates() <-chan monitor.Update {
	return c.updates
}

// AddTarget asks the daemon to start monitoring t
func (c *Client) AddTarget(t string) error {
	return c.call(MsgTypeAddTarget, TargetRequest{Target: t}, nil, c.Timeout)
}

// RemoveTarget asks the daemon to stop monitoring t
func (c *Client) RemoveTarget(t string) error {
	return c.call(MsgTypeRemoveTarget, TargetRequest{Target: t}, nil, c.Timeout)
}

// ListTargets returns the daemon's targets, sorted
func (c *Client) ListTargets() ([]string, error) {
	var resp TargetsResponse
	if err := c.call(MsgTypeListTargets, nil, &resp, c.Timeout); err != nil {
		return nil, err
	}
	return resp.Targets, nil
}

// Snapshot returns the statistics of t
func (c *Client) Snapshot(t string) (storage.TargetStats, error) {
	var stats storage.TargetStats
	err := c.call(MsgTypeGetSnapshot, TargetRequest{Target: t}, &stats, c.Timeout)
	return stats, err
}

// Events returns up to limit of t's newest events from source ("memory" or "journal")
func (c *Client) Events(t string, limit int, source string) ([]string, error) {
	var resp EventsResponse
	req := GetEventsRequest{Target: t, Limit: limit, Source: source}
	if err := c.call(MsgTypeGetEvents, req, &resp, c.Timeout); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// History retrieves persisted series for t
func (c *Client) History(t string, from, to time.Time) ([]storage.DataPoint, error) {
	var resp HistoryResponse
	req := GetHistoryRequest{Target: t, From: from, To: to}
	if err := c.call(MsgTypeGetHistory, req, &resp, 2*c.Timeout); err != nil {
		return nil, err
	}
	return fromIPCPoints(resp.DataPoints), nil
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.ctx)
	err := c.conn.Close()
	c.wg.Wait()

	return err
}
