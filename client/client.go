// Package client speaks the hub protocol from a terminal.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/MswTester/sendrop/logger"
	"github.com/MswTester/sendrop/types"
	"github.com/gorilla/websocket"
)

var (
	ErrClosed   = errors.New("connection to hub closed")
	ErrRejected = errors.New("request rejected")
	ErrAborted  = errors.New("transfer aborted")
	ErrTimeout  = errors.New("no response from hub")
)

// writeWait outlasts the hub's longest stall on a slow receiver.
const writeWait = time.Minute

// RemoteError is an error event reported by the hub.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Request is an incoming transfer request.
type Request struct {
	Kind        string
	SessionID   string
	SenderID    string
	Sender      string
	FileName    string
	TotalChunks int
	FileSize    int64
}

type Client struct {
	Self types.Welcome

	conn    *websocket.Conn
	writeMu sync.Mutex
	log     logger.Logger

	devices types.UpdateDevices
	mu      sync.RWMutex
	// ready is closed with the first device list.
	ready     chan struct{}
	readyOnce sync.Once

	waiters    map[string]chan types.Envelope
	downloads  map[string]*download
	transferMU sync.Mutex

	requests chan Request

	done    chan struct{}
	readErr error
}

func UserAgent(version string) string {
	return fmt.Sprintf("sendrop-cli/%s (%s; %s)", version, runtime.GOOS, runtime.GOARCH)
}

// Dial connects to the hub at url and waits for the welcome frame.
func Dial(ctx context.Context, url, version string, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}

	header := http.Header{"User-Agent": []string{UserAgent(version)}}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{
		conn:      conn,
		log:       log,
		devices:   make(types.UpdateDevices),
		ready:     make(chan struct{}),
		waiters:   make(map[string]chan types.Envelope),
		downloads: make(map[string]*download),
		requests:  make(chan Request, 16),
		done:      make(chan struct{}),
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	var env types.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read welcome: %w", err)
	}

	if env.Event != types.EventWelcome {
		conn.Close()
		return nil, fmt.Errorf("expected %s, got %s", types.EventWelcome, env.Event)
	}

	if err := env.Decode(&c.Self); err != nil {
		conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Time{})

	go c.listen()

	// The hub follows the welcome with the device list; callers may pick a
	// target right after Dial returns.
	select {
	case <-c.ready:
		return c, nil
	case <-c.done:
		c.Close()
		return nil, fmt.Errorf("hub closed before the device list: %w", ErrClosed)
	case <-ctx.Done():
		c.Close()
		return nil, fmt.Errorf("waiting for the device list: %w", ctx.Err())
	}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}

// Done is closed once the connection to the hub is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Requests delivers incoming transfer requests.
func (c *Client) Requests() <-chan Request {
	return c.requests
}

func (c *Client) Devices() types.UpdateDevices {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := make(types.UpdateDevices, len(c.devices))
	for id, d := range c.devices {
		cp[id] = d
	}
	return cp
}

// DeviceIDs returns the known device ids in a stable order.
func (c *Client) DeviceIDs() []string {
	devices := c.Devices()

	ids := make([]string, 0, len(devices))
	for id := range devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func (c *Client) CountDevices() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.devices)
}

func (c *Client) send(event string, data any) error {
	env, err := types.NewEnvelope(event, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}

	return nil
}

// wait registers a waiter under key. Call the returned func to release it.
func (c *Client) wait(key string) (chan types.Envelope, func()) {
	ch := make(chan types.Envelope, 8)

	c.transferMU.Lock()
	c.waiters[key] = ch
	c.transferMU.Unlock()

	return ch, func() {
		c.transferMU.Lock()
		defer c.transferMU.Unlock()

		for k, w := range c.waiters {
			if w == ch {
				delete(c.waiters, k)
			}
		}
	}
}

// next blocks for the next frame on a waiter.
func (c *Client) next(ctx context.Context, ch chan types.Envelope, timeout time.Duration) (types.Envelope, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case env := <-ch:
		return env, nil
	case <-ctx.Done():
		return types.Envelope{}, ctx.Err()
	case <-c.done:
		return types.Envelope{}, ErrClosed
	case <-timer:
		return types.Envelope{}, ErrTimeout
	}
}

// failure turns a terminal frame into an error, or nil if env is not one.
func failure(env types.Envelope) error {
	switch env.Event {
	case types.EventError:
		var msg types.ErrorMessage
		if err := env.Decode(&msg); err != nil {
			return err
		}
		return &RemoteError{Code: msg.Code, Message: msg.Message}

	case types.EventTransferAborted:
		var msg types.TransferAborted
		if err := env.Decode(&msg); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrAborted, msg.Reason)

	case types.EventReceiveTextReject, types.EventReceiveFileReject:
		return ErrRejected
	}

	return nil
}
