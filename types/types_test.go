package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"requestFile","data":{"targetId":"b1","fileName":"photo.jpg"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventRequestFile, env.Event)

	var req RequestFile
	require.NoError(t, env.Decode(&req))
	assert.Equal(t, "b1", req.TargetID)
	assert.Equal(t, "photo.jpg", req.FileName)
	assert.Zero(t, req.TotalChunks)
}

func TestParseEnvelopeRejectsMissingEvent(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrEmptyEvent)

	_, err = ParseEnvelope([]byte(`{"event":`))
	assert.Error(t, err)
}

func TestDecodeMissingPayload(t *testing.T) {
	env := Envelope{Event: EventSendText}

	var msg SendText
	assert.Error(t, env.Decode(&msg))
}

func TestFileContentTravelsAsBase64(t *testing.T) {
	env, err := NewEnvelope(EventReceiveFile, ReceiveFile{
		SessionID:   "s1",
		FileName:    "a.bin",
		FileContent: []byte{0x00, 0xff, 0x10},
		TotalChunks: 1,
	})
	require.NoError(t, err)
	assert.Contains(t, string(env.Data), `"fileContent":"AP8Q"`)

	var got ReceiveFile
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, got.FileContent)
}

func TestNewEnvelopeWithoutData(t *testing.T) {
	env, err := NewEnvelope(EventReceiveTextAccept, nil)
	require.NoError(t, err)
	assert.Empty(t, env.Data)

	_, err = NewEnvelope("", nil)
	assert.ErrorIs(t, err, ErrEmptyEvent)
}
