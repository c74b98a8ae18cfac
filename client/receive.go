package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MswTester/sendrop/types"
)

var ErrIncomplete = errors.New("transfer ended before the last chunk")

// AcceptText accepts a text request and returns the text once it arrives.
func (c *Client) AcceptText(ctx context.Context, req Request, timeout time.Duration) (string, error) {
	ch, release := c.wait(req.SessionID)
	defer release()

	if err := c.send(types.EventAcceptText, types.Respond{TargetID: req.SenderID, SessionID: req.SessionID}); err != nil {
		return "", err
	}

	for {
		env, err := c.next(ctx, ch, timeout)
		if err != nil {
			return "", err
		}

		if err := failure(env); err != nil {
			return "", err
		}

		if env.Event == types.EventReceiveText {
			var msg types.ReceiveText
			if err := env.Decode(&msg); err != nil {
				return "", err
			}
			return msg.Text, nil
		}
	}
}

// AcceptFile accepts a file request and stores the file under dir. onChunk is
// called from the connection reader with the size of every stored chunk.
func (c *Client) AcceptFile(ctx context.Context, req Request, dir string, onChunk func(n int)) (string, error) {
	d, err := newDownload(dir, req.FileName, onChunk)
	if err != nil {
		return "", err
	}

	ch, release := c.wait(req.SessionID)
	defer release()

	c.transferMU.Lock()
	c.downloads[req.SessionID] = d
	c.transferMU.Unlock()

	drop := func() {
		c.transferMU.Lock()
		delete(c.downloads, req.SessionID)
		c.transferMU.Unlock()
		d.discard()
	}

	if err := c.send(types.EventAcceptFile, types.Respond{TargetID: req.SenderID, SessionID: req.SessionID}); err != nil {
		drop()
		return "", err
	}

	for {
		select {
		case <-d.done:
			return d.result()

		case env := <-ch:
			if env.Event == types.EventTransferComplete {
				<-d.done
				return d.result()
			}

			if err := failure(env); err != nil {
				drop()
				return "", err
			}

		case <-ctx.Done():
			drop()
			return "", ctx.Err()

		case <-c.done:
			drop()
			return "", ErrClosed
		}
	}
}

func (c *Client) Reject(req Request) error {
	event := types.EventRejectFile
	if req.Kind == types.KindText {
		event = types.EventRejectText
	}

	return c.send(event, types.Respond{TargetID: req.SenderID, SessionID: req.SessionID})
}

// download reassembles one incoming file in a temporary file next to its
// final location.
type download struct {
	dir     string
	name    string
	file    *os.File
	onChunk func(n int)

	next    int
	total   int
	written int64
	path    string
	err     error

	mu   sync.Mutex
	once sync.Once
	done chan struct{}
}

func newDownload(dir, name string, onChunk func(n int)) (*download, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.CreateTemp(dir, ".sendrop-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}

	return &download{
		dir:     dir,
		name:    safeName(name),
		file:    file,
		onChunk: onChunk,
		done:    make(chan struct{}),
	}, nil
}

func (d *download) write(msg types.ReceiveFile) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return d.err
	}

	if msg.ChunkIndex != d.next {
		d.err = fmt.Errorf("got chunk %d, want %d", msg.ChunkIndex, d.next)
		return d.err
	}

	n, err := d.file.Write(msg.FileContent)
	if err != nil {
		d.err = fmt.Errorf("failed to write %s: %w", d.file.Name(), err)
		return d.err
	}

	d.next++
	d.total = msg.TotalChunks
	d.written += int64(n)

	if d.onChunk != nil {
		d.onChunk(n)
	}

	return nil
}

func (d *download) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err == nil && d.next != d.total {
		d.err = fmt.Errorf("%w: %d of %d chunks", ErrIncomplete, d.next, d.total)
	}

	if d.err != nil {
		d.discardLocked()
		return
	}

	d.once.Do(func() {
		defer close(d.done)

		if err := d.file.Close(); err != nil {
			d.err = err
			os.Remove(d.file.Name())
			return
		}

		path := uniquePath(d.dir, d.name)
		if err := os.Rename(d.file.Name(), path); err != nil {
			d.err = fmt.Errorf("failed to move %s into place: %w", d.name, err)
			os.Remove(d.file.Name())
			return
		}

		d.path = path
	})
}

// discard removes the partial file.
func (d *download) discard() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.discardLocked()
}

func (d *download) discardLocked() {
	d.once.Do(func() {
		d.file.Close()
		os.Remove(d.file.Name())

		if d.err == nil {
			d.err = ErrAborted
		}
		close(d.done)
	})
}

func (d *download) result() (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return d.path, nil
}

func safeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		return "download"
	}
	return base
}

// uniquePath never overwrites an existing file.
func uniquePath(dir, name string) string {
	filePath := filepath.Join(dir, name)
	if _, err := os.Stat(filePath); err != nil {
		return filePath
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	filePath = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, time.Now().Unix(), ext))

	for i := 1; ; i++ {
		if _, err := os.Stat(filePath); err != nil {
			return filePath
		}
		filePath = filepath.Join(dir, fmt.Sprintf("%s_%d_%d%s", stem, time.Now().Unix(), i, ext))
	}
}
