package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/MswTester/sendrop/types"
	"github.com/google/uuid"
)

// Offer describes one outgoing transfer.
type Offer struct {
	TargetID string
	Text     string
	Path     string

	ChunkSize int
	// Timeout bounds every wait on the hub or the peer.
	Timeout time.Duration
	// OnAccepted runs once the peer said yes, before any payload is sent.
	OnAccepted func()
	// OnChunk runs after every chunk handed to the hub.
	OnChunk func(n int)
}

// Chunks is the number of frames a file of size bytes needs.
func Chunks(size int64, chunkSize int) int {
	if size <= 0 {
		return 1
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}

func (c *Client) SendText(ctx context.Context, o Offer) error {
	requestID := uuid.NewString()

	ch, release := c.wait(requestID)
	defer release()

	if err := c.send(types.EventRequestText, types.RequestText{TargetID: o.TargetID, RequestID: requestID}); err != nil {
		return err
	}

	sessionID, err := c.awaitAcceptance(ctx, ch, types.EventReceiveTextAccept, o.Timeout)
	if err != nil {
		return err
	}

	if o.OnAccepted != nil {
		o.OnAccepted()
	}

	if err := c.send(types.EventSendText, types.SendText{TargetID: o.TargetID, SessionID: sessionID, Text: o.Text}); err != nil {
		return err
	}

	return c.awaitCompletion(ctx, ch, o.Timeout)
}

func (c *Client) SendFile(ctx context.Context, o Offer) error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.ChunkSize)
	}

	file, err := os.Open(o.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", o.Path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", o.Path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory", o.Path)
	}

	name := filepath.Base(o.Path)
	total := Chunks(info.Size(), o.ChunkSize)
	requestID := uuid.NewString()

	ch, release := c.wait(requestID)
	defer release()

	if err := c.send(types.EventRequestFile, types.RequestFile{
		TargetID:    o.TargetID,
		FileName:    name,
		TotalChunks: total,
		FileSize:    info.Size(),
		RequestID:   requestID,
	}); err != nil {
		return err
	}

	sessionID, err := c.awaitAcceptance(ctx, ch, types.EventReceiveFileAccept, o.Timeout)
	if err != nil {
		return err
	}

	if o.OnAccepted != nil {
		o.OnAccepted()
	}

	buf := make([]byte, o.ChunkSize)
	for i := range total {
		// The hub tells us to stop by aborting the session or by an error event.
		select {
		case env := <-ch:
			if err := failure(env); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		default:
		}

		n, err := io.ReadFull(file, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}

		if err := c.send(types.EventSendFile, types.SendFile{
			TargetID:    o.TargetID,
			SessionID:   sessionID,
			FileName:    name,
			FileContent: buf[:n],
			ChunkIndex:  i,
			TotalChunks: total,
		}); err != nil {
			return err
		}

		if o.OnChunk != nil {
			o.OnChunk(n)
		}
	}

	return c.awaitCompletion(ctx, ch, o.Timeout)
}

func (c *Client) awaitAcceptance(ctx context.Context, ch chan types.Envelope, accepted string, timeout time.Duration) (string, error) {
	var sessionID string

	for {
		env, err := c.next(ctx, ch, timeout)
		if err != nil {
			return "", err
		}

		if err := failure(env); err != nil {
			return "", err
		}

		switch env.Event {
		case types.EventRequestPending:
			var msg types.RequestPending
			if err := env.Decode(&msg); err != nil {
				return "", err
			}
			sessionID = msg.SessionID

		case accepted:
			var msg types.Resolution
			if err := env.Decode(&msg); err != nil {
				return "", err
			}
			if sessionID == "" {
				sessionID = msg.SessionID
			}
			return sessionID, nil
		}
	}
}

func (c *Client) awaitCompletion(ctx context.Context, ch chan types.Envelope, timeout time.Duration) error {
	for {
		env, err := c.next(ctx, ch, timeout)
		if err != nil {
			return err
		}

		if err := failure(env); err != nil {
			return err
		}

		if env.Event == types.EventTransferComplete {
			return nil
		}
	}
}
