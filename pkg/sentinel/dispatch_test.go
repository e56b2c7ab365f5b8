package sentinel

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casparian/flow/pkg/catalog"
	"github.com/casparian/flow/pkg/events"
	"github.com/casparian/flow/pkg/types"
	"github.com/casparian/flow/pkg/wire"
)

func newTestFixture(t *testing.T) (catalog.Store, *types.ProcessingJob) {
	t.Helper()
	store, err := catalog.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.PutPluginManifest(&types.PluginManifest{
		SourceHash: "h1", Name: "csv_parser", SourceCode: "print(1)", Status: types.PluginActive,
	}))

	loc := &types.FileLocation{SourceRootID: "root-1", RelPath: "a.csv"}
	version, _, err := store.UpsertFileVersion(loc, "hash-a", 10, time.Now(), []string{"csv"}, "")
	require.NoError(t, err)

	job := &types.ProcessingJob{FileVersionID: version.ID, PluginName: "csv_parser", Status: types.JobQueued}
	require.NoError(t, store.CreateJob(job))

	return store, job
}

// fakeWorker dials the dispatcher, completes the Identify handshake, and
// exposes its frames for the test to drive.
type fakeWorker struct {
	conn net.Conn
	r    *bufio.Reader
	ln   net.Listener // liveness-probe target
}

func dialFakeWorker(t *testing.T, dispatcherAddr, workerID string) *fakeWorker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	conn, err := net.Dial("tcp", dispatcherAddr)
	require.NoError(t, err)

	identify := wire.IdentifyMsg{WorkerID: workerID, Endpoint: ln.Addr().String(), PID: 1}
	payload, err := json.Marshal(identify)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.OpIdentify, 0, payload))

	return &fakeWorker{conn: conn, r: bufio.NewReader(conn), ln: ln}
}

func (fw *fakeWorker) close() {
	fw.conn.Close()
	fw.ln.Close()
}

func TestDispatcher_DispatchesQueuedJobToRegisteredWorker(t *testing.T) {
	store, job := newTestFixture(t)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	cfg := DefaultConfig("127.0.0.1:0")
	d := New(cfg, store, broker)
	require.NoError(t, d.Run())
	defer d.Stop()

	fw := dialFakeWorker(t, d.Addr().String(), "w1")
	defer fw.close()

	frame, err := wire.ReadFrame(fw.r)
	require.NoError(t, err)
	assert.Equal(t, wire.OpDispatch, frame.Header.Op)

	var dispatchMsg wire.DispatchMsg
	require.NoError(t, json.Unmarshal(frame.Payload, &dispatchMsg))
	assert.Equal(t, job.ID, dispatchMsg.JobID)
	assert.Equal(t, "a.csv", dispatchMsg.LocationPath)
	assert.Equal(t, "csv_parser", dispatchMsg.PluginName)
	assert.Equal(t, "print(1)", dispatchMsg.PluginSource)

	roster := d.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, types.WorkerBusy, roster[0].Status)
}

func TestDispatcher_ConcludeMarksJobCompletedAndWorkerIdle(t *testing.T) {
	store, job := newTestFixture(t)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	cfg := DefaultConfig("127.0.0.1:0")
	d := New(cfg, store, broker)
	require.NoError(t, d.Run())
	defer d.Stop()

	fw := dialFakeWorker(t, d.Addr().String(), "w1")
	defer fw.close()

	_, err := wire.ReadFrame(fw.r)
	require.NoError(t, err)

	concl := wire.ConcludeMsg{JobID: job.ID, Status: "completed", RowsAccepted: 5}
	payload, err := json.Marshal(concl)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(fw.conn, wire.OpConclude, 0, payload))

	require.Eventually(t, func() bool {
		got, err := store.GetJob(job.ID)
		return err == nil && got.Status == types.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		roster := d.Roster()
		return len(roster) == 1 && roster[0].Status == types.WorkerIdle
	}, 2*time.Second, 10*time.Millisecond)
}
