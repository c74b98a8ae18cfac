package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/MswTester/sendrop/core"
	"github.com/MswTester/sendrop/logger"
	"github.com/MswTester/sendrop/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrSlowConsumer = errors.New("outbound queue full")
	ErrConnClosed   = errors.New("connection closed")
)

// Conn is one device websocket. It is the device's core.Outbox.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan frame
	log  logger.Logger

	// bulk holds one token per relayed frame in send. It is smaller than
	// send so control events always find room behind a full relay backlog.
	bulk  chan struct{}
	stall time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

type frame struct {
	env  types.Envelope
	bulk bool
}

func newConn(id string, ws *websocket.Conn, queue int, stall time.Duration, log logger.Logger) *Conn {
	return &Conn{
		id:    id,
		ws:    ws,
		send:  make(chan frame, queue),
		bulk:  make(chan struct{}, bulkSlots(queue)),
		stall: stall,
		log:   log.WithStr("device", id),
		done:  make(chan struct{}),
	}
}

// bulkSlots leaves a quarter of the queue to control events.
func bulkSlots(queue int) int {
	return max(1, queue-queue/4)
}

// Send enqueues env without blocking. A full queue closes the connection;
// the reader then takes the device through the normal disconnect path.
func (c *Conn) Send(env types.Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- frame{env: env}:
		return nil
	default:
		c.log.WithStr("event", env.Event).Warn("outbound queue full, dropping device")
		c.Close()
		return ErrSlowConsumer
	}
}

// SendWait enqueues a relayed frame, waiting up to the stall timeout for the
// device to drain its backlog. Only the caller blocks; a device that stays
// stalled past the timeout is dropped like in Send.
func (c *Conn) SendWait(env types.Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.bulk <- struct{}{}:
	default:
		t := time.NewTimer(c.stall)
		defer t.Stop()

		select {
		case c.bulk <- struct{}{}:
		case <-c.done:
			return ErrConnClosed
		case <-t.C:
			c.log.WithStr("event", env.Event).WithStr("stall", c.stall.String()).Warn("device stalled, dropping it")
			c.Close()
			return ErrSlowConsumer
		}
	}

	select {
	case c.send <- frame{env: env, bulk: true}:
		return nil
	default:
		<-c.bulk
		c.log.WithStr("event", env.Event).Warn("outbound queue full, dropping device")
		c.Close()
		return ErrSlowConsumer
	}
}

// written frees the relay slot of f once it left the queue.
func (c *Conn) written(f frame) {
	if f.bulk {
		<-c.bulk
	}
}

// Close never blocks, it may be called while the hub holds its locks.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		go func() {
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			c.ws.Close()
		}()
	})
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readPump(hub *core.Hub, maxMessage int64) {
	defer func() {
		hub.Disconnect(c.id)
		c.Close()
	}()

	c.ws.SetReadLimit(maxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.WithErr(err).Debug("read failed")
			}
			return
		}

		// Any frame proves the peer is alive.
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if err := hub.Handle(c.id, data); err != nil {
			c.log.WithErr(err).Error("closing connection after handler failure")
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case f := <-c.send:
			c.written(f)
			if err := c.write(f.env); err != nil {
				c.log.WithStr("event", f.env.Event).WithErr(err).Debug("write failed")
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(env types.Envelope) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))

	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(env); err != nil {
		w.Close()
		return err
	}

	return w.Close()
}
