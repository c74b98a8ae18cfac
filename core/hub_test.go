package core

import (
	"testing"
	"time"

	"github.com/MswTester/sendrop/logger"
	"github.com/MswTester/sendrop/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func newTestHub(t *testing.T, ids ...string) (*Hub, map[string]*recorder) {
	t.Helper()

	h := NewHub(Options{Logger: logger.Nop(), PendingTimeout: time.Minute, Retention: time.Minute})
	t.Cleanup(h.Close)

	outs := make(map[string]*recorder, len(ids))
	for _, id := range ids {
		out := &recorder{}
		_, err := h.Connect(id, chromeUA, "192.168.0."+id, out)
		require.NoError(t, err)
		outs[id] = out
	}

	return h, outs
}

func handle(t *testing.T, h *Hub, id, event string, data any) {
	t.Helper()
	require.NoError(t, h.Handle(id, frame(t, event, data)))
}

func lastError(t *testing.T, out *recorder) types.ErrorMessage {
	t.Helper()

	var msg types.ErrorMessage
	out.last(t, types.EventError, &msg)
	return msg
}

func TestConnectWelcomesThenBroadcasts(t *testing.T) {
	h, outs := newTestHub(t, "1", "2")

	assert.Equal(t, types.EventWelcome, outs["1"].events()[0])

	var welcome types.Welcome
	outs["2"].last(t, types.EventWelcome, &welcome)
	assert.Equal(t, "2", welcome.ID)
	assert.Equal(t, "Windows NT 10.0; Win64; x64 - Chrome/120.0 - Desktop", welcome.UserAgent)
	assert.Equal(t, "192.168.0.2", welcome.IP)

	var view types.UpdateDevices
	outs["1"].last(t, types.EventUpdateDevices, &view)
	assert.Equal(t, types.UpdateDevices{"2": {UserAgent: welcome.UserAgent, IP: "192.168.0.2"}}, view)

	assert.Equal(t, 2, h.Devices())

	_, err := h.Connect("1", chromeUA, "x", &recorder{})
	assert.ErrorIs(t, err, ErrDuplicateDevice)
}

func TestDisconnectBroadcastsOnce(t *testing.T) {
	h, outs := newTestHub(t, "1", "2", "3")
	outs["1"].reset()

	h.Disconnect("3")
	h.Disconnect("3")

	assert.Equal(t, 1, outs["1"].count(types.EventUpdateDevices))

	var view types.UpdateDevices
	outs["1"].last(t, types.EventUpdateDevices, &view)
	assert.NotContains(t, view, "3")
	assert.Contains(t, view, "2")
}

func TestPhotoTransferBetweenTwoDevices(t *testing.T) {
	h, outs := newTestHub(t, "A", "B")
	a, b := outs["A"], outs["B"]

	handle(t, h, "A", types.EventRequestFile, types.RequestFile{TargetID: "B", FileName: "photo.jpg", RequestID: "req-1"})

	var pending types.RequestPending
	a.last(t, types.EventRequestPending, &pending)
	assert.Equal(t, "req-1", pending.RequestID)

	var req types.ReceiveFileRequest
	b.last(t, types.EventReceiveFileRequest, &req)
	assert.Equal(t, "A", req.SenderID)
	assert.Equal(t, "photo.jpg", req.FileName)
	assert.Equal(t, pending.SessionID, req.SessionID)

	// Legacy accept without a session id.
	handle(t, h, "B", types.EventAcceptFile, types.Respond{TargetID: "A"})

	var accept types.Resolution
	a.last(t, types.EventReceiveFileAccept, &accept)
	assert.Equal(t, pending.SessionID, accept.SessionID)
	assert.Equal(t, "photo.jpg", accept.FileName)

	chunks := [][]byte{[]byte("abc"), []byte("def"), []byte("g")}
	for i, c := range chunks {
		handle(t, h, "A", types.EventSendFile, types.SendFile{
			TargetID:    "B",
			FileName:    "photo.jpg",
			FileContent: c,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
		})
	}

	frames := b.all(types.EventReceiveFile)
	require.Len(t, frames, 3)

	var assembled []byte
	for i, fr := range frames {
		var msg types.ReceiveFile
		require.NoError(t, fr.Decode(&msg))
		assert.Equal(t, i, msg.ChunkIndex)
		assembled = append(assembled, msg.FileContent...)
	}
	assert.Equal(t, "abcdefg", string(assembled))

	assert.Equal(t, 1, a.count(types.EventTransferComplete))
	assert.Equal(t, 1, b.count(types.EventTransferComplete))
	assert.Zero(t, a.count(types.EventError))

	// A straggler after completion is refused.
	handle(t, h, "A", types.EventSendFile, types.SendFile{TargetID: "B", FileName: "photo.jpg", ChunkIndex: 3, TotalChunks: 3})
	msg := lastError(t, a)
	assert.Equal(t, "invalid_state", msg.Code)
	assert.Equal(t, types.EventSendFile, msg.Event)
	assert.Equal(t, pending.SessionID, msg.SessionID)
}

func TestTextRequestAbandonedByTarget(t *testing.T) {
	h, outs := newTestHub(t, "A", "B")

	handle(t, h, "A", types.EventRequestText, types.RequestText{TargetID: "B"})
	outs["A"].reset()

	h.Disconnect("B")

	var aborted types.TransferAborted
	outs["A"].last(t, types.EventTransferAborted, &aborted)
	assert.Equal(t, "receiver_gone", aborted.Reason)

	var view types.UpdateDevices
	outs["A"].last(t, types.EventUpdateDevices, &view)
	assert.Empty(t, view)

	events := outs["A"].events()
	assert.Equal(t, []string{types.EventTransferAborted, types.EventUpdateDevices}, events)
}

func TestTextRoundTrip(t *testing.T) {
	h, outs := newTestHub(t, "A", "B")

	handle(t, h, "A", types.EventRequestText, types.RequestText{TargetID: "B"})

	var req types.ReceiveTextRequest
	outs["B"].last(t, types.EventReceiveTextRequest, &req)

	handle(t, h, "B", types.EventAcceptText, types.Respond{TargetID: "A", SessionID: req.SessionID})
	assert.Equal(t, 1, outs["A"].count(types.EventReceiveTextAccept))

	handle(t, h, "A", types.EventSendText, types.SendText{TargetID: "B", SessionID: req.SessionID, Text: "hi B"})

	var text types.ReceiveText
	outs["B"].last(t, types.EventReceiveText, &text)
	assert.Equal(t, "hi B", text.Text)
	assert.Equal(t, 1, outs["A"].count(types.EventTransferComplete))
}

func TestRejectThroughHub(t *testing.T) {
	h, outs := newTestHub(t, "A", "B")

	handle(t, h, "A", types.EventRequestFile, types.RequestFile{TargetID: "B", FileName: "x.zip"})
	handle(t, h, "B", types.EventRejectFile, types.Respond{TargetID: "A"})

	var res types.Resolution
	outs["A"].last(t, types.EventReceiveFileReject, &res)
	assert.Equal(t, "x.zip", res.FileName)

	// The loser of a resolution race sees already_resolved.
	handle(t, h, "B", types.EventAcceptFile, types.Respond{TargetID: "A", SessionID: res.SessionID})
	assert.Equal(t, "already_resolved", lastError(t, outs["B"]).Code)
}

func TestHubReportsErrors(t *testing.T) {
	h, outs := newTestHub(t, "A", "B")
	a := outs["A"]

	require.NoError(t, h.Handle("A", []byte("not json")))
	assert.Equal(t, "malformed", lastError(t, a).Code)

	handle(t, h, "A", "dance", types.RequestText{})
	msg := lastError(t, a)
	assert.Equal(t, "unknown_event", msg.Code)
	assert.Equal(t, "dance", msg.Event)

	handle(t, h, "A", types.EventRequestText, types.RequestText{TargetID: "ghost", RequestID: "r9"})
	msg = lastError(t, a)
	assert.Equal(t, "unknown_target", msg.Code)
	assert.Equal(t, "r9", msg.RequestID)

	handle(t, h, "A", types.EventRequestFile, types.RequestFile{TargetID: "B"})
	assert.Equal(t, "malformed", lastError(t, a).Code)

	handle(t, h, "A", types.EventRequestText, types.RequestText{TargetID: "B"})
	handle(t, h, "A", types.EventRequestText, types.RequestText{TargetID: "B"})
	assert.Equal(t, "conflicting_request", lastError(t, a).Code)

	handle(t, h, "A", types.EventAcceptText, types.Respond{TargetID: "B"})
	assert.Equal(t, "not_found", lastError(t, a).Code)

	// Accepting a text session through the file event is refused.
	var req types.ReceiveTextRequest
	outs["B"].last(t, types.EventReceiveTextRequest, &req)
	handle(t, h, "B", types.EventAcceptFile, types.Respond{TargetID: "A", SessionID: req.SessionID})
	assert.Equal(t, "invalid_state", lastError(t, outs["B"]).Code)

	handle(t, h, "A", types.EventSendFile, types.SendFile{TargetID: "B", ChunkIndex: 0, TotalChunks: 1})
	assert.Equal(t, "not_found", lastError(t, a).Code)
}

func TestChunkAfterReceiverLeft(t *testing.T) {
	h, outs := newTestHub(t, "A", "B")

	handle(t, h, "A", types.EventRequestFile, types.RequestFile{TargetID: "B", FileName: "big.iso", TotalChunks: 4})
	handle(t, h, "B", types.EventAcceptFile, types.Respond{TargetID: "A"})
	handle(t, h, "A", types.EventSendFile, types.SendFile{TargetID: "B", FileName: "big.iso", ChunkIndex: 0, TotalChunks: 4})

	h.Disconnect("B")
	assert.Equal(t, 1, outs["A"].count(types.EventTransferAborted))

	handle(t, h, "A", types.EventSendFile, types.SendFile{TargetID: "B", FileName: "big.iso", ChunkIndex: 1, TotalChunks: 4})
	assert.Equal(t, "receiver_gone", lastError(t, outs["A"]).Code)
}

type panicky struct {
	recorder
	armed bool
}

func (p *panicky) Send(env types.Envelope) error {
	if p.armed {
		panic("outbox exploded")
	}
	return p.recorder.Send(env)
}

func TestHandleRecoversFromPanic(t *testing.T) {
	h, outs := newTestHub(t, "A")

	p := &panicky{}
	_, err := h.Connect("P", chromeUA, "10.0.0.9", p)
	require.NoError(t, err)
	p.armed = true

	err = h.Handle("P", []byte("{"))
	assert.ErrorIs(t, err, ErrHandlerPanic)

	// Other devices are unaffected.
	require.NoError(t, h.Handle("A", []byte("{")))
	assert.Equal(t, "malformed", lastError(t, outs["A"]).Code)
}
