package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"worker_id":"w-1"}`)

	require.NoError(t, WriteFrame(&buf, OpIdentify, 42, payload))

	frame, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, OpIdentify, frame.Header.Op)
	assert.Equal(t, uint64(42), frame.Header.JobID)
	assert.Equal(t, byte(ProtocolVersion), frame.Header.Ver)
	assert.Equal(t, payload, frame.Payload)
}

func TestReadFrameRejectsVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Ver: ProtocolVersion + 1, Op: OpHeartbeat}
	hb := h.Marshal()
	buf.Write(hb[:])

	_, err := ReadFrame(bufio.NewReader(&buf))
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, MaxPayloadLen+1)
	err := WriteFrame(&buf, OpDispatch, 1, oversized)
	assert.Error(t, err)
}

func TestOpValid(t *testing.T) {
	assert.True(t, OpDispatch.Valid())
	assert.False(t, Op(99).Valid())
}

func TestHeaderMarshalUnmarshalRoundTrip(t *testing.T) {
	h := Header{Ver: ProtocolVersion, Op: OpConclude, JobID: 12345, Len: 99}
	buf := h.Marshal()
	got, err := UnmarshalHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, h, got)
}
