package core

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/MswTester/sendrop/logger"
	"github.com/MswTester/sendrop/types"
)

type Options struct {
	Logger         logger.Logger
	PendingTimeout time.Duration
	Retention      time.Duration
}

// Hub decodes device events and routes them to the registry, the
// negotiator and the relay.
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster
	negotiator  *Negotiator
	relay       *Relay
	log         logger.Logger
}

func NewHub(opts Options) *Hub {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	registry := NewRegistry()
	negotiator := NewNegotiator(registry, log, opts.PendingTimeout, opts.Retention)

	return &Hub{
		registry:    registry,
		broadcaster: NewBroadcaster(registry, log),
		negotiator:  negotiator,
		relay:       NewRelay(negotiator),
		log:         log,
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Negotiator() *Negotiator {
	return h.negotiator
}

// Connect registers a device, greets it with its own identity and
// broadcasts the new device list.
func (h *Hub) Connect(id, userAgent, ip string, out Outbox) (types.Device, error) {
	device := types.Device{ID: id, UserAgent: DisplayName(userAgent), IP: ip}

	if h.registry.Has(id) {
		return types.Device{}, fmt.Errorf("%s: %w", id, ErrDuplicateDevice)
	}

	if err := out.Send(types.MustEnvelope(types.EventWelcome, types.Welcome{
		ID:        device.ID,
		UserAgent: device.UserAgent,
		IP:        device.IP,
	})); err != nil {
		return types.Device{}, fmt.Errorf("greet %s: %w", id, err)
	}

	device, err := h.registry.Register(id, device.UserAgent, ip, out)
	if err != nil {
		return types.Device{}, err
	}

	h.log.WithStr("device", id).
		WithStr("ip", ip).
		WithStr("userAgent", device.UserAgent).
		Info("device connected")

	h.broadcaster.Broadcast()

	return device, nil
}

func (h *Hub) Disconnect(id string) {
	aborted, removed := h.negotiator.Depart(id)
	if !removed {
		return
	}

	h.log.WithStr("device", id).WithInt("aborted", len(aborted)).Info("device disconnected")

	h.broadcaster.Broadcast()
}

// Handle processes one inbound frame. Protocol and state errors are
// reported to the device as error events and never returned; a non-nil
// return means the connection must be closed.
func (h *Hub) Handle(id string, frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithStr("device", id).
				WithAny("panic", r).
				WithStr("stack", string(debug.Stack())).
				Error("recovered from panic while handling frame")
			err = fmt.Errorf("%s: %v: %w", id, r, ErrHandlerPanic)
		}
	}()

	env, perr := types.ParseEnvelope(frame)
	if perr != nil {
		h.reply(id, "", "", "", fmt.Errorf("%v: %w", perr, ErrMalformed))
		return nil
	}

	h.dispatch(id, env)
	return nil
}

func (h *Hub) dispatch(id string, env types.Envelope) {
	switch env.Event {
	case types.EventRequestText:
		var msg types.RequestText
		if err := env.Decode(&msg); err != nil {
			h.reply(id, env.Event, "", "", malformed(err))
			return
		}

		_, err := h.negotiator.Request(Proposal{
			Kind:      types.KindText,
			SenderID:  id,
			TargetID:  msg.TargetID,
			RequestID: msg.RequestID,
		})
		h.reply(id, env.Event, "", msg.RequestID, err)

	case types.EventRequestFile:
		var msg types.RequestFile
		if err := env.Decode(&msg); err != nil {
			h.reply(id, env.Event, "", "", malformed(err))
			return
		}

		if msg.FileName == "" {
			h.reply(id, env.Event, "", msg.RequestID, fmt.Errorf("missing fileName: %w", ErrMalformed))
			return
		}

		_, err := h.negotiator.Request(Proposal{
			Kind:        types.KindFile,
			SenderID:    id,
			TargetID:    msg.TargetID,
			FileName:    msg.FileName,
			TotalChunks: msg.TotalChunks,
			FileSize:    msg.FileSize,
			RequestID:   msg.RequestID,
		})
		h.reply(id, env.Event, "", msg.RequestID, err)

	case types.EventAcceptText, types.EventAcceptFile, types.EventRejectText, types.EventRejectFile:
		h.respond(id, env)

	case types.EventSendText:
		var msg types.SendText
		if err := env.Decode(&msg); err != nil {
			h.reply(id, env.Event, "", "", malformed(err))
			return
		}

		sessionID, err := h.openSession(types.KindText, id, msg.TargetID, msg.SessionID)
		if err == nil {
			err = h.relay.RelayText(sessionID, id, msg.Text)
		}
		h.reply(id, env.Event, sessionID, "", err)

	case types.EventSendFile:
		var msg types.SendFile
		if err := env.Decode(&msg); err != nil {
			h.reply(id, env.Event, "", "", malformed(err))
			return
		}

		sessionID, err := h.openSession(types.KindFile, id, msg.TargetID, msg.SessionID)
		if err == nil {
			err = h.relay.RelayChunk(Chunk{
				SessionID: sessionID,
				SenderID:  id,
				Index:     msg.ChunkIndex,
				Total:     msg.TotalChunks,
				Payload:   msg.FileContent,
			})
		}
		h.reply(id, env.Event, sessionID, "", err)

	default:
		h.reply(id, env.Event, "", "", fmt.Errorf("%q: %w", env.Event, ErrUnknownEvent))
	}
}

func (h *Hub) respond(id string, env types.Envelope) {
	var msg types.Respond
	if err := env.Decode(&msg); err != nil {
		h.reply(id, env.Event, "", "", malformed(err))
		return
	}

	kind := types.KindFile
	if env.Event == types.EventAcceptText || env.Event == types.EventRejectText {
		kind = types.KindText
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		var err error
		sessionID, err = h.negotiator.ResolvePending(kind, msg.TargetID, id)
		if err != nil {
			h.reply(id, env.Event, "", "", err)
			return
		}
	}

	if s, ok := h.negotiator.Get(sessionID); ok && s.Kind != kind {
		h.reply(id, env.Event, sessionID, "", fmt.Errorf("%s is a %s session: %w", sessionID, s.Kind, ErrInvalidState))
		return
	}

	var err error
	if env.Event == types.EventAcceptText || env.Event == types.EventAcceptFile {
		_, err = h.negotiator.Accept(sessionID, id)
	} else {
		_, err = h.negotiator.Reject(sessionID, id)
	}

	h.reply(id, env.Event, sessionID, "", err)
}

func (h *Hub) openSession(kind, senderID, targetID, sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}

	return h.negotiator.ResolveOpen(kind, senderID, targetID)
}

// reply sends an error event to id when err is non-nil.
func (h *Hub) reply(id, event, sessionID, requestID string, err error) {
	if err == nil {
		return
	}

	h.log.WithStr("device", id).
		WithStr("event", event).
		WithStr("session", sessionID).
		WithErr(err).
		Warn("event rejected")

	env, eerr := types.NewEnvelope(types.EventError, types.ErrorMessage{
		Code:      Code(err),
		Message:   err.Error(),
		Event:     event,
		SessionID: sessionID,
		RequestID: requestID,
	})
	if eerr != nil {
		h.log.WithErr(eerr).Error("failed to encode error event")
		return
	}

	if serr := h.registry.Send(id, env); serr != nil {
		h.log.WithStr("device", id).WithErr(serr).Debug("error event not delivered")
	}
}

func (h *Hub) Devices() int {
	return h.registry.Len()
}

func (h *Hub) Close() {
	h.negotiator.Close()
}

func malformed(err error) error {
	return fmt.Errorf("%v: %w", err, ErrMalformed)
}
