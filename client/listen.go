package client

import (
	"errors"

	"github.com/MswTester/sendrop/types"
	"github.com/gorilla/websocket"
)

func (c *Client) listen() {
	defer func() {
		c.transferMU.Lock()
		for id, d := range c.downloads {
			d.discard()
			delete(c.downloads, id)
		}
		c.transferMU.Unlock()

		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
				c.readErr = err
			}
			return
		}

		env, err := types.ParseEnvelope(data)
		if err != nil {
			c.log.WithErr(err).Warn("dropping malformed frame")
			continue
		}

		c.handle(env)
	}
}

func (c *Client) handle(env types.Envelope) {
	switch env.Event {
	case types.EventUpdateDevices:
		var devices types.UpdateDevices
		if err := env.Decode(&devices); err != nil {
			c.log.WithErr(err).Warn("bad device list")
			return
		}

		c.mu.Lock()
		c.devices = devices
		c.mu.Unlock()

		c.readyOnce.Do(func() { close(c.ready) })

	case types.EventRequestPending:
		var msg types.RequestPending
		if err := env.Decode(&msg); err != nil {
			return
		}

		// From here on the hub only names the session.
		c.transferMU.Lock()
		if ch, ok := c.waiters[msg.RequestID]; ok {
			c.waiters[msg.SessionID] = ch
		}
		c.transferMU.Unlock()

		c.route(msg.RequestID, env)

	case types.EventReceiveTextRequest:
		var msg types.ReceiveTextRequest
		if err := env.Decode(&msg); err != nil {
			return
		}
		c.offer(Request{Kind: types.KindText, SessionID: msg.SessionID, SenderID: msg.SenderID, Sender: msg.Sender})

	case types.EventReceiveFileRequest:
		var msg types.ReceiveFileRequest
		if err := env.Decode(&msg); err != nil {
			return
		}
		c.offer(Request{
			Kind:        types.KindFile,
			SessionID:   msg.SessionID,
			SenderID:    msg.SenderID,
			Sender:      msg.Sender,
			FileName:    msg.FileName,
			TotalChunks: msg.TotalChunks,
			FileSize:    msg.FileSize,
		})

	case types.EventReceiveFile:
		var msg types.ReceiveFile
		if err := env.Decode(&msg); err != nil {
			return
		}
		c.chunk(msg)

	case types.EventError:
		var msg types.ErrorMessage
		if err := env.Decode(&msg); err != nil {
			return
		}

		key := msg.SessionID
		if msg.RequestID != "" {
			key = msg.RequestID
		}
		if !c.route(key, env) {
			c.log.WithStr("code", msg.Code).WithStr("event", msg.Event).Warn(msg.Message)
		}

	default:
		var ref struct {
			SessionID string `json:"sessionId"`
		}
		if len(env.Data) > 0 {
			_ = env.Decode(&ref)
		}

		if env.Event == types.EventTransferComplete || env.Event == types.EventTransferAborted {
			c.settle(ref.SessionID, env.Event == types.EventTransferComplete)
		}

		c.route(ref.SessionID, env)
	}
}

// route hands env to the waiter registered under key.
func (c *Client) route(key string, env types.Envelope) bool {
	if key == "" {
		return false
	}

	c.transferMU.Lock()
	ch, ok := c.waiters[key]
	c.transferMU.Unlock()

	if !ok {
		return false
	}

	select {
	case ch <- env:
	default:
		c.log.WithStr("event", env.Event).Warn("waiter is not keeping up, frame dropped")
	}

	return true
}

func (c *Client) offer(req Request) {
	select {
	case c.requests <- req:
	default:
		c.log.WithStr("session", req.SessionID).Warn("too many unanswered requests, ignoring")
	}
}

func (c *Client) chunk(msg types.ReceiveFile) {
	c.transferMU.Lock()
	d, ok := c.downloads[msg.SessionID]
	c.transferMU.Unlock()

	if !ok {
		c.log.WithStr("session", msg.SessionID).Debug("chunk for unknown download")
		return
	}

	if err := d.write(msg); err != nil {
		c.log.WithStr("session", msg.SessionID).WithErr(err).Error("failed to store chunk")
	}
}

// settle finishes or discards the download of a session that ended.
func (c *Client) settle(sessionID string, completed bool) {
	c.transferMU.Lock()
	d, ok := c.downloads[sessionID]
	delete(c.downloads, sessionID)
	c.transferMU.Unlock()

	if !ok {
		return
	}

	if !completed {
		d.discard()
		return
	}

	d.finish()
}
