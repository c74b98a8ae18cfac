package core

import (
	"time"

	"github.com/MswTester/sendrop/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

type Session struct {
	ID          string
	Kind        string
	SenderID    string
	ReceiverID  string
	FileName    string
	FileSize    int64
	TotalChunks int
	Status      Status
	NextChunk   int
	CreatedAt   time.Time
	Cause       error

	timer *time.Timer
}

func (s *Session) Terminal() bool {
	switch s.Status {
	case StatusRejected, StatusCompleted, StatusAborted:
		return true
	}
	return false
}

// Open reports whether the relay may forward for this session.
func (s *Session) Open() bool {
	return s.Status == StatusAccepted || s.Status == StatusActive
}

func (s *Session) Involves(id string) bool {
	return s.SenderID == id || s.ReceiverID == id
}

func (s *Session) Peer(id string) string {
	if s.SenderID == id {
		return s.ReceiverID
	}
	return s.SenderID
}

func (s *Session) snapshot() Session {
	cp := *s
	cp.timer = nil
	return cp
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Proposal is what a requester asks for.
type Proposal struct {
	Kind        string
	SenderID    string
	TargetID    string
	FileName    string
	TotalChunks int
	FileSize    int64
	RequestID   string
}

func validKind(kind string) bool {
	return kind == types.KindText || kind == types.KindFile
}

type pair struct {
	sender   string
	receiver string
}
