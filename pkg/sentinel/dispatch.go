package sentinel

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/casparian/flow/pkg/catalog"
	"github.com/casparian/flow/pkg/events"
	"github.com/casparian/flow/pkg/log"
	"github.com/casparian/flow/pkg/metrics"
	"github.com/casparian/flow/pkg/types"
	"github.com/casparian/flow/pkg/wire"
)

// registerRequest is how a handshake goroutine asks the central loop to
// admit a worker; reply carries the accept/reject decision back.
type registerRequest struct {
	worker   *workerConn
	endpoint string
	reply    chan bool
}

// inboundMsg carries a decoded frame from a worker's readPump to the
// central loop.
type inboundMsg struct {
	workerID string
	frame    wire.Frame
}

// rosterEntry is the dispatcher's working copy of one worker; wraps
// types.RosterEntry with the live connection handle.
type rosterEntry struct {
	types.RosterEntry
	conn *workerConn
}

// Dispatcher is the single-threaded dispatch loop of spec section 4.5. All
// roster and in-flight state is owned by run(); nothing outside it reads
// or writes that state directly — external callers go through Roster()
// and Signal().
type Dispatcher struct {
	cfg    Config
	store  catalog.Store
	broker *events.Broker
	logger zerolog.Logger

	registerCh   chan registerRequest
	disconnectCh chan string
	inboundCh    chan inboundMsg
	queueCh      chan struct{}
	rosterReqCh  chan rosterRequest
	stopCh       chan struct{}
	doneCh       chan struct{}

	ln net.Listener
}

type rosterRequest struct {
	reply chan []types.RosterEntry
}

// New creates a Dispatcher. Call Run to start serving.
func New(cfg Config, store catalog.Store, broker *events.Broker) *Dispatcher {
	return &Dispatcher{
		cfg:          cfg.clamp(),
		store:        store,
		broker:       broker,
		logger:       log.WithComponent("sentinel"),
		registerCh:   make(chan registerRequest),
		disconnectCh: make(chan string),
		inboundCh:    make(chan inboundMsg, 64),
		queueCh:      make(chan struct{}, 1),
		rosterReqCh:  make(chan rosterRequest),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Run binds the listener and runs the accept loop and dispatch loop until
// Stop is called or an unrecoverable bind error occurs.
func (d *Dispatcher) Run() error {
	ln, err := net.Listen("tcp", d.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("sentinel: listen %s: %w", d.cfg.BindAddr, err)
	}
	d.ln = ln
	d.logger.Info().Str("addr", ln.Addr().String()).Msg("sentinel listening")

	go d.acceptLoop(ln)
	go func() {
		d.run()
		ln.Close()
	}()
	return nil
}

// Addr returns the listener's bound address. Valid only after Run returns
// with a nil error.
func (d *Dispatcher) Addr() net.Addr {
	return d.ln.Addr()
}

// Stop shuts the dispatcher down and blocks until the loop exits.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

// Signal wakes the dispatch loop to re-attempt a claim, e.g. after a scan
// or a CLI enqueue adds QUEUED jobs.
func (d *Dispatcher) Signal() {
	select {
	case d.queueCh <- struct{}{}:
	default:
	}
}

// Roster returns a snapshot of the worker roster via the loop's message
// interface (spec section 5: "external queries go through a message
// interface").
func (d *Dispatcher) Roster() []types.RosterEntry {
	reply := make(chan []types.RosterEntry, 1)
	select {
	case d.rosterReqCh <- rosterRequest{reply: reply}:
		return <-reply
	case <-d.stopCh:
		return nil
	}
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	roster := make(map[string]*rosterEntry)
	var idleOrder []string // worker ids, arrival order, front is next-served

	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	popIdle := func() *rosterEntry {
		for len(idleOrder) > 0 {
			id := idleOrder[0]
			idleOrder = idleOrder[1:]
			if e, ok := roster[id]; ok && e.Status == types.WorkerIdle {
				return e
			}
		}
		return nil
	}

	attemptDispatch := func() {
		for {
			e := popIdle()
			if e == nil {
				return
			}
			jobs, err := d.store.ClaimJobs(e.WorkerID, 1, d.cfg.LeaseSeconds)
			if err != nil {
				d.logger.Error().Err(err).Msg("claim_jobs failed")
				idleOrder = append([]string{e.WorkerID}, idleOrder...)
				return
			}
			if len(jobs) == 0 {
				idleOrder = append([]string{e.WorkerID}, idleOrder...)
				return
			}
			job := jobs[0]
			if err := d.dispatchJob(e, job); err != nil {
				d.logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatch failed")
				_ = d.store.ReleaseLease(job.ID)
				idleOrder = append([]string{e.WorkerID}, idleOrder...)
				continue
			}
			e.Status = types.WorkerBusy
			e.CurrentJobID = job.ID
			metrics.JobsDispatchedTotal.Inc()
		}
	}

	for {
		select {
		case req := <-d.registerCh:
			if len(roster) >= d.cfg.MaxWorkers {
				req.reply <- false
				continue
			}
			roster[req.worker.id] = &rosterEntry{
				RosterEntry: types.RosterEntry{
					WorkerID:      req.worker.id,
					Endpoint:      req.endpoint,
					LastHeartbeat: time.Now(),
					Status:        types.WorkerIdle,
				},
				conn: req.worker,
			}
			idleOrder = append(idleOrder, req.worker.id)
			req.reply <- true
			d.logger.Info().Str("worker_id", req.worker.id).Msg("worker registered")
			d.broker.Publish(&types.Event{Type: events.TypeWorkerJoined, SourceID: req.worker.id})
			attemptDispatch()

		case workerID := <-d.disconnectCh:
			d.handleDisconnect(roster, workerID)

		case msg := <-d.inboundCh:
			d.handleInbound(roster, msg)
			attemptDispatch()

		case <-d.queueCh:
			attemptDispatch()

		case <-ticker.C:
			d.reapOffline(roster)
			if n, err := d.store.ReapExpiredLeases(time.Now()); err == nil && n > 0 {
				metrics.LeasesReapedTotal.Add(float64(n))
			}
			for id, e := range roster {
				if e.Status == types.WorkerIdle {
					found := false
					for _, x := range idleOrder {
						if x == id {
							found = true
							break
						}
					}
					if !found {
						idleOrder = append(idleOrder, id)
					}
				}
			}
			attemptDispatch()

		case req := <-d.rosterReqCh:
			snap := make([]types.RosterEntry, 0, len(roster))
			for _, e := range roster {
				snap = append(snap, e.RosterEntry)
			}
			req.reply <- snap

		case <-d.stopCh:
			for _, e := range roster {
				close(e.conn.outbox)
			}
			return
		}
	}
}

func (d *Dispatcher) dispatchJob(e *rosterEntry, job *types.ProcessingJob) error {
	version, err := d.store.GetFileVersion(job.FileVersionID)
	if err != nil {
		return fmt.Errorf("sentinel: load file version: %w", err)
	}
	loc, err := d.store.GetLocationByID(version.LocationID)
	if err != nil {
		return fmt.Errorf("sentinel: load location: %w", err)
	}
	manifest, err := d.store.GetActivePluginByName(job.PluginName)
	if err != nil {
		return fmt.Errorf("sentinel: load plugin manifest: %w", err)
	}
	topics, err := d.topicSpecsFor(job.PluginName)
	if err != nil {
		return fmt.Errorf("sentinel: load topic configs: %w", err)
	}

	dispatchMsg := wire.DispatchMsg{
		JobID:         job.ID,
		FileVersionID: job.FileVersionID,
		LocationPath:  loc.RelPath,
		ContentHash:   version.ContentHash,
		PluginName:    job.PluginName,
		PluginSource:  manifest.SourceCode,
		PluginVersion: manifest.Version,
		Tags:          version.AppliedTags,
		Topics:        topics,
	}
	payload, err := json.Marshal(dispatchMsg)
	if err != nil {
		return fmt.Errorf("sentinel: marshal dispatch: %w", err)
	}
	e.conn.send(wire.OpDispatch, payload)
	d.broker.Publish(&types.Event{Type: events.TypeJobDispatched, JobID: job.ID, SourceID: e.WorkerID})
	return nil
}

// topicSpecsFor gathers every topic configured for pluginName into the
// wire-transportable form a worker needs, since a worker has no catalog
// access of its own.
func (d *Dispatcher) topicSpecsFor(pluginName string) ([]wire.TopicSpec, error) {
	all, err := d.store.ListTopicConfigs()
	if err != nil {
		return nil, err
	}
	var specs []wire.TopicSpec
	for _, tc := range all {
		if tc.PluginName != pluginName {
			continue
		}
		cols := make([]wire.TopicColumn, 0, len(tc.Contract.Columns))
		for _, col := range tc.Contract.Columns {
			cols = append(cols, wire.TopicColumn{
				Name:         col.Name,
				Type:         string(col.Type),
				Nullable:     col.Nullable,
				DecimalScale: col.DecimalScale,
				Timezone:     col.Timezone,
			})
		}
		specs = append(specs, wire.TopicSpec{
			TopicName: tc.TopicName,
			SinkURI:   tc.SinkURI,
			Mode:      string(tc.Mode),
			Columns:   cols,
		})
	}
	return specs, nil
}

func (d *Dispatcher) handleDisconnect(roster map[string]*rosterEntry, workerID string) {
	e, ok := roster[workerID]
	if !ok {
		return
	}
	if e.CurrentJobID != "" {
		_ = d.store.ReleaseLease(e.CurrentJobID)
	}
	delete(roster, workerID)
	close(e.conn.outbox)
	d.logger.Info().Str("worker_id", workerID).Msg("worker disconnected")
	d.broker.Publish(&types.Event{Type: events.TypeWorkerOffline, SourceID: workerID})
}

func (d *Dispatcher) reapOffline(roster map[string]*rosterEntry) {
	now := time.Now()
	for id, e := range roster {
		if e.Status == types.WorkerOffline {
			continue
		}
		if now.Sub(e.LastHeartbeat) <= d.cfg.OfflineAfter {
			continue
		}
		d.logger.Warn().Str("worker_id", id).Dur("silence", now.Sub(e.LastHeartbeat)).Msg("worker offline")
		e.Status = types.WorkerOffline
		if e.CurrentJobID != "" {
			abortMsg := wire.AbortMsg{JobID: e.CurrentJobID, Reason: "worker offline"}
			if payload, err := json.Marshal(abortMsg); err == nil {
				e.conn.send(wire.OpAbort, payload)
			}
			_ = d.store.ReleaseLease(e.CurrentJobID)
			e.CurrentJobID = ""
		}
		d.broker.Publish(&types.Event{Type: events.TypeWorkerOffline, SourceID: id})
	}
}

func (d *Dispatcher) handleInbound(roster map[string]*rosterEntry, msg inboundMsg) {
	e, ok := roster[msg.workerID]
	if !ok {
		return
	}

	switch msg.frame.Header.Op {
	case wire.OpHeartbeat:
		e.LastHeartbeat = time.Now()

	case wire.OpConclude:
		var concl wire.ConcludeMsg
		if err := json.Unmarshal(msg.frame.Payload, &concl); err != nil {
			d.logger.Warn().Err(err).Msg("malformed CONCLUDE payload")
			return
		}
		d.handleConclude(e, concl)

	case wire.OpErr:
		var errMsg wire.ErrMsg
		if err := json.Unmarshal(msg.frame.Payload, &errMsg); err != nil {
			d.logger.Warn().Err(err).Msg("malformed ERR payload")
			return
		}
		d.handleErr(e, errMsg)

	default:
		d.logger.Warn().Str("op", msg.frame.Header.Op.String()).Msg("unexpected opcode from worker")
	}
}

func (d *Dispatcher) handleConclude(e *rosterEntry, concl wire.ConcludeMsg) {
	job, err := d.store.GetJob(concl.JobID)
	if err != nil {
		d.logger.Error().Err(err).Str("job_id", concl.JobID).Msg("conclude for unknown job")
		return
	}

	job.EndTime = time.Now()
	job.ResultSummary = fmt.Sprintf("accepted=%d quarantined=%d: %s", concl.RowsAccepted, concl.RowsQuarantined, concl.ResultSummary)
	job.ErrorMessage = concl.ErrorMessage

	eventType := events.TypeJobCompleted
	if concl.Status == "completed" {
		job.Status = types.JobCompleted
	} else {
		job.Status = types.JobFailed
		eventType = events.TypeJobFailed
	}
	if err := d.store.UpdateJob(job); err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist conclude")
	}
	metrics.JobsConcludedTotal.WithLabelValues(string(job.Status)).Inc()

	e.Status = types.WorkerIdle
	e.CurrentJobID = ""
	d.broker.Publish(&types.Event{Type: eventType, JobID: job.ID, SourceID: e.WorkerID, Message: concl.ResultSummary})
}

func (d *Dispatcher) handleErr(e *rosterEntry, errMsg wire.ErrMsg) {
	if errMsg.JobID == "" {
		d.logger.Warn().Str("worker_id", e.WorkerID).Str("message", errMsg.Message).Msg("worker-level error")
		return
	}
	job, err := d.store.GetJob(errMsg.JobID)
	if err != nil {
		d.logger.Error().Err(err).Str("job_id", errMsg.JobID).Msg("err for unknown job")
		return
	}

	if errMsg.Retryable && job.RetryCount < d.cfg.RetryCeiling {
		job.RetryCount++
		job.Status = types.JobQueued
		job.WorkerHost = ""
		job.LeaseExpiresAt = time.Time{}
		job.ErrorMessage = errMsg.Message
		d.broker.Publish(&types.Event{Type: events.TypeJobQueued, JobID: job.ID, Message: "requeued: " + errMsg.Message})
	} else {
		job.Status = types.JobFailed
		job.ErrorMessage = errMsg.Message
		job.EndTime = time.Now()
		d.broker.Publish(&types.Event{Type: events.TypeJobFailed, JobID: job.ID, Message: errMsg.Message})
		metrics.JobsConcludedTotal.WithLabelValues(string(types.JobFailed)).Inc()
	}
	if err := d.store.UpdateJob(job); err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist err outcome")
	}

	e.Status = types.WorkerIdle
	e.CurrentJobID = ""
}
