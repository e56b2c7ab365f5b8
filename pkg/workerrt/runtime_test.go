package workerrt

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casparian/flow/pkg/wire"
)

// fakeSentinel stands in for a dispatcher: it accepts exactly one worker
// connection, completes the Identify handshake, and lets the test drive
// Dispatch/Abort frames and observe what comes back.
type fakeSentinel struct {
	ln   net.Listener
	conn net.Conn
	r    *bufio.Reader
}

func newFakeSentinel(t *testing.T) *fakeSentinel {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return &fakeSentinel{ln: ln}
}

func (fs *fakeSentinel) acceptIdentify(t *testing.T) wire.IdentifyMsg {
	t.Helper()
	conn, err := fs.ln.Accept()
	require.NoError(t, err)
	fs.conn = conn
	fs.r = bufio.NewReader(conn)

	frame, err := wire.ReadFrame(fs.r)
	require.NoError(t, err)
	require.Equal(t, wire.OpIdentify, frame.Header.Op)

	var identify wire.IdentifyMsg
	require.NoError(t, json.Unmarshal(frame.Payload, &identify))
	return identify
}

func (fs *fakeSentinel) dispatch(t *testing.T, d wire.DispatchMsg) {
	t.Helper()
	payload, err := json.Marshal(d)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(fs.conn, wire.OpDispatch, 0, payload))
}

func (fs *fakeSentinel) readFrame(t *testing.T) wire.Frame {
	t.Helper()
	frame, err := wire.ReadFrame(fs.r)
	require.NoError(t, err)
	return frame
}

func (fs *fakeSentinel) close() {
	if fs.conn != nil {
		fs.conn.Close()
	}
	fs.ln.Close()
}

func TestRuntime_IdentifiesDispatchesAndConcludes(t *testing.T) {
	fs := newFakeSentinel(t)
	defer fs.close()

	outDir := t.TempDir()
	cfg := DefaultConfig(fs.ln.Addr().String(), outDir)
	cfg.HeartbeatInterval = 50 * time.Millisecond

	rt := New(cfg, "w-runtime-test")
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- rt.Run() }()

	identify := fs.acceptIdentify(t)
	assert.Equal(t, "w-runtime-test", identify.WorkerID)
	assert.NotEmpty(t, identify.Endpoint)

	fs.dispatch(t, wire.DispatchMsg{
		JobID:        "job-rt-1",
		PluginName:   "csv_parser",
		PluginSource: `printf '{"id":"1","value":"7"}\n'`,
		LocationPath: "/irrelevant.csv",
		Topics:       []wire.TopicSpec{testTopic(t, outDir)},
	})

	var concl wire.ConcludeMsg
	for {
		frame := fs.readFrame(t)
		if frame.Header.Op == wire.OpHeartbeat {
			continue
		}
		require.Equal(t, wire.OpConclude, frame.Header.Op)
		require.NoError(t, json.Unmarshal(frame.Payload, &concl))
		break
	}

	assert.Equal(t, "completed", concl.Status)
	assert.EqualValues(t, 1, concl.RowsAccepted)

	rt.Stop()
	<-runErrCh
}

func TestRuntime_AbortCancelsRunningJob(t *testing.T) {
	fs := newFakeSentinel(t)
	defer fs.close()

	outDir := t.TempDir()
	cfg := DefaultConfig(fs.ln.Addr().String(), outDir)
	cfg.HeartbeatInterval = time.Minute

	rt := New(cfg, "w-runtime-abort")
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- rt.Run() }()

	fs.acceptIdentify(t)

	fs.dispatch(t, wire.DispatchMsg{
		JobID:        "job-rt-2",
		PluginName:   "csv_parser",
		PluginSource: `sleep 5; printf '{"id":"1","value":"1"}\n'`,
		LocationPath: "/irrelevant.csv",
		Topics:       []wire.TopicSpec{testTopic(t, outDir)},
	})

	time.Sleep(100 * time.Millisecond)
	payload, err := json.Marshal(wire.AbortMsg{JobID: "job-rt-2", Reason: "test abort"})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(fs.conn, wire.OpAbort, 0, payload))

	var concl wire.ConcludeMsg
	for {
		frame := fs.readFrame(t)
		if frame.Header.Op == wire.OpHeartbeat {
			continue
		}
		require.Equal(t, wire.OpConclude, frame.Header.Op)
		require.NoError(t, json.Unmarshal(frame.Payload, &concl))
		break
	}
	assert.Equal(t, "failed", concl.Status)
	assert.Equal(t, "aborted", concl.ErrorMessage)

	rt.Stop()
	<-runErrCh
}
