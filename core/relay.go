package core

import (
	"errors"
	"fmt"

	"github.com/MswTester/sendrop/types"
)

// Chunk is one sendFile frame after session resolution.
type Chunk struct {
	SessionID string
	SenderID  string
	Index     int
	Total     int
	Payload   []byte
}

// Relay forwards the payload of accepted sessions. It never buffers or
// reassembles; ordering comes from each sender having a single reader.
type Relay struct {
	n *Negotiator
}

func NewRelay(n *Negotiator) *Relay {
	return &Relay{n: n}
}

func (r *Relay) RelayText(sessionID, senderID, text string) error {
	n := r.n

	n.mu.Lock()
	defer n.mu.Unlock()

	s, err := r.session(sessionID, senderID)
	if err != nil {
		return err
	}

	if s.Kind != types.KindText || s.Status != StatusAccepted {
		return fmt.Errorf("%s %s session is %s: %w", sessionID, s.Kind, s.Status, ErrInvalidState)
	}

	if err := r.forward(s, types.EventReceiveText, types.ReceiveText{
		SessionID: s.ID,
		SenderID:  s.SenderID,
		Text:      text,
	}); err != nil {
		return err
	}

	s.NextChunk = 1
	n.complete(s)

	return nil
}

// RelayChunk validates and reserves the chunk under the session lock, then
// delivers it without the lock held. Delivery may wait for a slow receiver;
// only the sender's own reader stalls meanwhile. Chunks of one sender arrive
// from a single reader, so a reserved index is delivered before the next one
// is validated.
func (r *Relay) RelayChunk(c Chunk) error {
	env, last, receiverID, err := r.reserve(c)
	if err != nil {
		return err
	}

	derr := r.n.registry.SendWait(receiverID, env)

	n := r.n

	n.mu.Lock()
	defer n.mu.Unlock()

	s, ok := n.sessions[c.SessionID]

	if derr != nil {
		if ok && s.Open() {
			r.receiverGone(s, derr)
		}
		return fmt.Errorf("%s: %w", c.SessionID, ErrReceiverGone)
	}

	// Only the receiver leaving can end an open session while its sender
	// is busy relaying.
	if !ok || !s.Open() {
		return fmt.Errorf("%s: %w", c.SessionID, ErrReceiverGone)
	}

	if last {
		n.complete(s)
	}

	return nil
}

func (r *Relay) reserve(c Chunk) (types.Envelope, bool, string, error) {
	n := r.n

	n.mu.Lock()
	defer n.mu.Unlock()

	s, err := r.session(c.SessionID, c.SenderID)
	if err != nil {
		return types.Envelope{}, false, "", err
	}

	if s.Kind != types.KindFile || !s.Open() {
		return types.Envelope{}, false, "", fmt.Errorf("%s %s session is %s: %w", c.SessionID, s.Kind, s.Status, ErrInvalidState)
	}

	if c.Total < 1 || (s.TotalChunks > 0 && c.Total != s.TotalChunks) {
		return types.Envelope{}, false, "", fmt.Errorf("chunk says %d, session says %d: %w", c.Total, s.TotalChunks, ErrSizeMismatch)
	}

	if c.Index != s.NextChunk {
		return types.Envelope{}, false, "", fmt.Errorf("got chunk %d, want %d: %w", c.Index, s.NextChunk, ErrOutOfOrder)
	}

	if s.TotalChunks == 0 {
		s.TotalChunks = c.Total
	}

	env, err := types.NewEnvelope(types.EventReceiveFile, types.ReceiveFile{
		SessionID:   s.ID,
		SenderID:    s.SenderID,
		FileName:    s.FileName,
		FileContent: c.Payload,
		ChunkIndex:  c.Index,
		TotalChunks: s.TotalChunks,
	})
	if err != nil {
		return types.Envelope{}, false, "", fmt.Errorf("encode %s: %w", types.EventReceiveFile, err)
	}

	s.NextChunk++
	s.Status = StatusActive

	return env, c.Index == s.TotalChunks-1, s.ReceiverID, nil
}

// session looks up a session for its sender. Caller holds n.mu.
func (r *Relay) session(sessionID, senderID string) (*Session, error) {
	s, ok := r.n.sessions[sessionID]
	if !ok {
		sender, gone := r.n.gone[sessionID]
		switch {
		case !gone:
			return nil, fmt.Errorf("%s: %w", sessionID, ErrNotFound)
		case sender != senderID:
			return nil, fmt.Errorf("%s: %w", sessionID, ErrNotAuthorized)
		default:
			return nil, fmt.Errorf("%s: %w", sessionID, ErrReceiverGone)
		}
	}

	if s.SenderID != senderID {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrNotAuthorized)
	}

	if s.Status == StatusAborted && errors.Is(s.Cause, ErrReceiverGone) {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrReceiverGone)
	}

	return s, nil
}

// forward delivers to the receiver without waiting. Caller holds n.mu.
func (r *Relay) forward(s *Session, event string, payload any) error {
	env, err := types.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	if err := r.n.registry.Send(s.ReceiverID, env); err != nil {
		r.receiverGone(s, err)
		return fmt.Errorf("%s: %w", s.ID, ErrReceiverGone)
	}

	return nil
}

// receiverGone aborts s after a failed delivery and tells the sender to
// stop. Caller holds n.mu.
func (r *Relay) receiverGone(s *Session, cause error) {
	n := r.n

	n.abort(s, ErrReceiverGone)
	n.notify(s.SenderID, types.EventTransferAborted, types.TransferAborted{
		SessionID: s.ID,
		Reason:    Code(ErrReceiverGone),
	})

	n.log.WithStr("session", s.ID).WithErr(cause).Warn("relay failed")
}
