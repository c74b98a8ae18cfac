package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MswTester/sendrop/logger"
	"github.com/MswTester/sendrop/types"
	"github.com/google/uuid"
)

const (
	DefaultPendingTimeout = 60 * time.Second
	DefaultRetention      = 30 * time.Second
)

// Negotiator owns every transfer session. All transitions happen under mu,
// and mu is always taken before the registry lock.
type Negotiator struct {
	registry       *Registry
	log            logger.Logger
	pendingTimeout time.Duration
	retention      time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[pair]string
	// gone maps sessions aborted because the receiver left to their sender.
	// It outlives the tombstone and is dropped when the sender departs.
	gone   map[string]string
	closed bool
}

func NewNegotiator(registry *Registry, log logger.Logger, pendingTimeout, retention time.Duration) *Negotiator {
	if pendingTimeout <= 0 {
		pendingTimeout = DefaultPendingTimeout
	}

	return &Negotiator{
		registry:       registry,
		log:            log,
		pendingTimeout: pendingTimeout,
		retention:      retention,
		sessions:       make(map[string]*Session),
		pending:        make(map[pair]string),
		gone:           make(map[string]string),
	}
}

func (n *Negotiator) Request(p Proposal) (Session, error) {
	if !validKind(p.Kind) {
		return Session{}, fmt.Errorf("kind %q: %w", p.Kind, ErrMalformed)
	}

	if p.TotalChunks < 0 {
		return Session{}, fmt.Errorf("declared %d chunks: %w", p.TotalChunks, ErrSizeMismatch)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	sender, ok := n.registry.Lookup(p.SenderID)
	if !ok {
		return Session{}, fmt.Errorf("%s: %w", p.SenderID, ErrSenderGone)
	}

	if p.TargetID == p.SenderID || !n.registry.Has(p.TargetID) {
		return Session{}, fmt.Errorf("%s: %w", p.TargetID, ErrUnknownTarget)
	}

	key := pair{sender: p.SenderID, receiver: p.TargetID}
	if id, ok := n.pending[key]; ok {
		return Session{}, fmt.Errorf("pending session %s: %w", id, ErrConflictingRequest)
	}

	s := &Session{
		ID:          uuid.NewString(),
		Kind:        p.Kind,
		SenderID:    p.SenderID,
		ReceiverID:  p.TargetID,
		FileName:    p.FileName,
		FileSize:    p.FileSize,
		TotalChunks: p.TotalChunks,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	if s.Kind == types.KindText {
		s.TotalChunks = 1
		s.FileName = ""
		s.FileSize = 0
	}

	n.sessions[s.ID] = s
	n.pending[key] = s.ID

	id := s.ID
	s.timer = time.AfterFunc(n.pendingTimeout, func() { n.expire(id) })

	// The requester learns the session id before the target can possibly answer.
	n.notify(s.SenderID, types.EventRequestPending, types.RequestPending{
		SessionID: s.ID,
		RequestID: p.RequestID,
		TargetID:  s.ReceiverID,
		Kind:      s.Kind,
		FileName:  s.FileName,
	})

	if s.Kind == types.KindText {
		n.notify(s.ReceiverID, types.EventReceiveTextRequest, types.ReceiveTextRequest{
			Sender:    sender.UserAgent,
			SenderID:  sender.ID,
			SessionID: s.ID,
		})
	} else {
		n.notify(s.ReceiverID, types.EventReceiveFileRequest, types.ReceiveFileRequest{
			Sender:      sender.UserAgent,
			SenderID:    sender.ID,
			SessionID:   s.ID,
			FileName:    s.FileName,
			TotalChunks: s.TotalChunks,
			FileSize:    s.FileSize,
		})
	}

	n.log.WithStr("session", s.ID).
		WithStr("kind", s.Kind).
		WithStr("sender", s.SenderID).
		WithStr("receiver", s.ReceiverID).
		Info("transfer requested")

	return s.snapshot(), nil
}

func (n *Negotiator) Accept(sessionID, responderID string) (Session, error) {
	return n.resolve(sessionID, responderID, StatusAccepted)
}

func (n *Negotiator) Reject(sessionID, responderID string) (Session, error) {
	return n.resolve(sessionID, responderID, StatusRejected)
}

func (n *Negotiator) resolve(sessionID, responderID string, to Status) (Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	s, ok := n.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("%s: %w", sessionID, ErrNotFound)
	}

	if s.ReceiverID != responderID {
		return Session{}, fmt.Errorf("%s: %w", sessionID, ErrNotAuthorized)
	}

	if s.Status != StatusPending {
		return Session{}, fmt.Errorf("%s is %s: %w", sessionID, s.Status, ErrAlreadyResolved)
	}

	s.stopTimer()
	delete(n.pending, pair{sender: s.SenderID, receiver: s.ReceiverID})
	s.Status = to

	var event string
	switch {
	case to == StatusAccepted && s.Kind == types.KindText:
		event = types.EventReceiveTextAccept
	case to == StatusAccepted:
		event = types.EventReceiveFileAccept
	case s.Kind == types.KindText:
		event = types.EventReceiveTextReject
	default:
		event = types.EventReceiveFileReject
	}

	if to == StatusRejected {
		n.retire(s)
	}

	n.notify(s.SenderID, event, types.Resolution{SessionID: s.ID, FileName: s.FileName})

	n.log.WithStr("session", s.ID).WithStr("status", string(to)).Info("transfer resolved")

	return s.snapshot(), nil
}

// Depart removes a device and aborts every live session naming it.
// It reports whether the device was registered.
func (n *Negotiator) Depart(deviceID string) ([]Session, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	removed := n.registry.Unregister(deviceID)

	for id, sender := range n.gone {
		if sender == deviceID {
			delete(n.gone, id)
		}
	}

	var aborted []Session
	for _, s := range n.sessions {
		if s.Terminal() || !s.Involves(deviceID) {
			continue
		}

		cause := ErrReceiverGone
		if s.SenderID == deviceID {
			cause = ErrSenderGone
		}

		n.abort(s, cause)
		n.notify(s.Peer(deviceID), types.EventTransferAborted, types.TransferAborted{
			SessionID: s.ID,
			Reason:    Code(cause),
		})

		aborted = append(aborted, s.snapshot())
	}

	return aborted, removed
}

func (n *Negotiator) expire(sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	s, ok := n.sessions[sessionID]
	if !ok || s.Status != StatusPending {
		return
	}

	n.abort(s, ErrTimedOut)

	msg := types.TransferAborted{SessionID: s.ID, Reason: Code(ErrTimedOut)}
	n.notify(s.SenderID, types.EventTransferAborted, msg)
	n.notify(s.ReceiverID, types.EventTransferAborted, msg)

	n.log.WithStr("session", s.ID).Info("transfer request timed out")
}

// ResolvePending finds the pending session a legacy accept/reject refers to.
func (n *Negotiator) ResolvePending(kind, requesterID, responderID string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id, ok := n.pending[pair{sender: requesterID, receiver: responderID}]
	if !ok || n.sessions[id].Kind != kind {
		return "", fmt.Errorf("no pending %s request from %s: %w", kind, requesterID, ErrNotFound)
	}

	return id, nil
}

// ResolveOpen finds the session a legacy sendText/sendFile refers to. Open
// sessions win; otherwise the newest retired one is returned so the caller
// gets a precise error instead of NotFound.
func (n *Negotiator) ResolveOpen(kind, senderID, receiverID string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var open, retired *Session
	for _, s := range n.sessions {
		if s.Kind != kind || s.SenderID != senderID || s.ReceiverID != receiverID {
			continue
		}

		switch {
		case s.Open():
			if open == nil || s.CreatedAt.After(open.CreatedAt) {
				open = s
			}
		case s.Terminal():
			if retired == nil || s.CreatedAt.After(retired.CreatedAt) {
				retired = s
			}
		}
	}

	if open != nil {
		return open.ID, nil
	}

	if retired != nil {
		return retired.ID, nil
	}

	return "", fmt.Errorf("no open %s session to %s: %w", kind, receiverID, ErrNotFound)
}

func (n *Negotiator) Get(sessionID string) (Session, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	s, ok := n.sessions[sessionID]
	if !ok {
		return Session{}, false
	}

	return s.snapshot(), true
}

func (n *Negotiator) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.sessions)
}

func (n *Negotiator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.closed = true
	for _, s := range n.sessions {
		s.stopTimer()
	}
}

// abort must be called with mu held.
func (n *Negotiator) abort(s *Session, cause error) {
	if s.Status == StatusPending {
		delete(n.pending, pair{sender: s.SenderID, receiver: s.ReceiverID})
	}

	s.Status = StatusAborted
	s.Cause = cause
	if errors.Is(cause, ErrReceiverGone) {
		n.gone[s.ID] = s.SenderID
	}
	n.retire(s)

	n.log.WithStr("session", s.ID).WithErr(cause).Info("transfer aborted")
}

// complete must be called with mu held.
func (n *Negotiator) complete(s *Session) {
	s.Status = StatusCompleted
	n.retire(s)

	msg := types.TransferComplete{SessionID: s.ID}
	n.notify(s.SenderID, types.EventTransferComplete, msg)
	n.notify(s.ReceiverID, types.EventTransferComplete, msg)

	n.log.WithStr("session", s.ID).Info("transfer completed")
}

// retire keeps a terminal session around as a tombstone for the retention
// window, then drops it.
func (n *Negotiator) retire(s *Session) {
	s.stopTimer()

	if n.retention <= 0 {
		delete(n.sessions, s.ID)
		return
	}

	id := s.ID
	s.timer = time.AfterFunc(n.retention, func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		if cur, ok := n.sessions[id]; ok && cur.Terminal() {
			delete(n.sessions, id)
		}
	})
}

func (n *Negotiator) notify(id, event string, payload any) {
	env, err := types.NewEnvelope(event, payload)
	if err != nil {
		n.log.WithStr("event", event).WithErr(err).Error("failed to encode event")
		return
	}

	if err := n.registry.Send(id, env); err != nil {
		n.log.WithStr("device", id).WithStr("event", event).WithErr(err).Debug("event not delivered")
	}
}
