package workerrt

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/casparian/flow/pkg/log"
	"github.com/casparian/flow/pkg/wire"
)

type outboundFrame struct {
	op      wire.Op
	payload []byte
}

// Runtime holds one worker's connection to a Sentinel. It runs at most one
// job at a time (spec section 4.6: heterogeneous/parallel execution of a
// single job is a non-goal), so there is no roster or queue here — only a
// current-job pointer guarded by mu.
type Runtime struct {
	cfg      Config
	workerID string
	logger   zerolog.Logger

	conn   net.Conn
	outbox chan outboundFrame

	mu        sync.Mutex
	currentID string
	abortCh   chan struct{}

	stopCh chan struct{}
}

// New creates a Runtime for workerID.
func New(cfg Config, workerID string) *Runtime {
	return &Runtime{
		cfg:      cfg,
		workerID: workerID,
		logger:   log.WithComponent("worker").With().Str("worker_id", workerID).Logger(),
		outbox:   make(chan outboundFrame, 8),
		stopCh:   make(chan struct{}),
	}
}

// Run dials the sentinel, completes the Identify handshake, and serves
// Dispatch/Abort frames until the connection drops or Stop is called. It
// returns when the connection closes; callers that want auto-reconnect
// loop around Run themselves.
func (rt *Runtime) Run() error {
	livenessLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("workerrt: liveness listener: %w", err)
	}
	go rt.serveLiveness(livenessLn)

	conn, err := net.Dial("tcp", rt.cfg.ConnectAddr)
	if err != nil {
		livenessLn.Close()
		return fmt.Errorf("workerrt: dial %s: %w", rt.cfg.ConnectAddr, err)
	}
	rt.conn = conn

	identify := wire.IdentifyMsg{WorkerID: rt.workerID, Endpoint: livenessLn.Addr().String(), PID: os.Getpid()}
	payload, err := json.Marshal(identify)
	if err != nil {
		return fmt.Errorf("workerrt: marshal identify: %w", err)
	}
	if err := wire.WriteFrame(conn, wire.OpIdentify, 0, payload); err != nil {
		return fmt.Errorf("workerrt: send identify: %w", err)
	}

	go rt.writePump()
	go rt.heartbeatLoop()

	defer livenessLn.Close()
	defer conn.Close()
	return rt.readLoop()
}

// RunOnce executes a single dispatch synchronously, with no sentinel
// connection at all. It backs the CLI's one-shot `run` command, which has
// a file and a plugin in hand already and no roster to join.
func (rt *Runtime) RunOnce(d wire.DispatchMsg) wire.ConcludeMsg {
	return rt.runJob(d, make(chan struct{}))
}

// Stop asks the runtime to disconnect.
func (rt *Runtime) Stop() {
	close(rt.stopCh)
	if rt.conn != nil {
		rt.conn.Close()
	}
}

func (rt *Runtime) serveLiveness(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		c.Close()
	}
}

func (rt *Runtime) writePump() {
	for f := range rt.outbox {
		if err := wire.WriteFrame(rt.conn, f.op, 0, f.payload); err != nil {
			rt.logger.Warn().Err(err).Msg("write to sentinel failed")
			return
		}
	}
}

func (rt *Runtime) send(op wire.Op, payload []byte) {
	select {
	case rt.outbox <- outboundFrame{op: op, payload: payload}:
	case <-rt.stopCh:
	}
}

func (rt *Runtime) heartbeatLoop() {
	ticker := time.NewTicker(rt.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rt.mu.Lock()
			jobID := rt.currentID
			rt.mu.Unlock()
			msg := wire.HeartbeatMsg{WorkerID: rt.workerID, JobID: jobID, Timestamp: time.Now()}
			if payload, err := json.Marshal(msg); err == nil {
				rt.send(wire.OpHeartbeat, payload)
			}
		case <-rt.stopCh:
			return
		}
	}
}

func (rt *Runtime) readLoop() error {
	r := bufio.NewReader(rt.conn)
	for {
		frame, err := wire.ReadFrame(r)
		if err != nil {
			return fmt.Errorf("workerrt: read frame: %w", err)
		}

		switch frame.Header.Op {
		case wire.OpDispatch:
			var dispatchMsg wire.DispatchMsg
			if err := json.Unmarshal(frame.Payload, &dispatchMsg); err != nil {
				rt.logger.Warn().Err(err).Msg("malformed DISPATCH payload")
				continue
			}
			rt.mu.Lock()
			if rt.currentID != "" {
				rt.mu.Unlock()
				rt.logger.Warn().Str("job_id", dispatchMsg.JobID).Msg("dispatch received while busy, ignoring")
				continue
			}
			rt.currentID = dispatchMsg.JobID
			rt.abortCh = make(chan struct{})
			abortCh := rt.abortCh
			rt.mu.Unlock()

			go func() {
				concl := rt.runJob(dispatchMsg, abortCh)
				payload, err := json.Marshal(concl)
				if err == nil {
					rt.send(wire.OpConclude, payload)
				}
				rt.mu.Lock()
				rt.currentID = ""
				rt.abortCh = nil
				rt.mu.Unlock()
			}()

		case wire.OpAbort:
			var abortMsg wire.AbortMsg
			if err := json.Unmarshal(frame.Payload, &abortMsg); err != nil {
				rt.logger.Warn().Err(err).Msg("malformed ABORT payload")
				continue
			}
			rt.mu.Lock()
			if rt.currentID == abortMsg.JobID && rt.abortCh != nil {
				close(rt.abortCh)
				rt.abortCh = nil
			}
			rt.mu.Unlock()

		case wire.OpHeartbeat:
			// the sentinel does not send heartbeats; ignore one if it arrives

		default:
			rt.logger.Warn().Str("op", frame.Header.Op.String()).Msg("unexpected opcode from sentinel")
		}
	}
}
