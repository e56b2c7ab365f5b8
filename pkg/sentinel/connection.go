package sentinel

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/casparian/flow/pkg/health"
	"github.com/casparian/flow/pkg/wire"
)

// outboundFrame is one frame queued for a worker's writer goroutine. The
// header's JobID is a wire-local correlation id, not the catalog's string
// job id, which travels in the JSON payload instead; pre-v1 callers leave
// it zero.
type outboundFrame struct {
	op      wire.Op
	payload []byte
}

// workerConn is the dispatcher's handle to one connected worker. Only the
// writer goroutine touches conn for writes; only readPump touches it for
// reads. Nothing outside this file's two goroutines touches conn at all,
// matching the rule that no shared mutable state crosses the dispatcher/
// worker boundary except via the wire protocol.
type workerConn struct {
	id     string
	conn   net.Conn
	outbox chan outboundFrame
}

func (wc *workerConn) send(op wire.Op, payload []byte) {
	select {
	case wc.outbox <- outboundFrame{op: op, payload: payload}:
	default:
		// outbox full: worker is wedged, readPump's failure will surface
		// the disconnect and the central loop will clean up the roster.
	}
}

func (wc *workerConn) writePump() {
	for f := range wc.outbox {
		if err := wire.WriteFrame(wc.conn, f.op, 0, f.payload); err != nil {
			return
		}
	}
}

func (d *Dispatcher) readPump(wc *workerConn) {
	r := bufio.NewReader(wc.conn)
	for {
		frame, err := wire.ReadFrame(r)
		if err != nil {
			d.disconnectCh <- wc.id
			return
		}
		d.inboundCh <- inboundMsg{workerID: wc.id, frame: frame}
	}
}

// acceptLoop accepts connections until the listener closes or d.stopCh
// fires. Each connection performs its Identify handshake and liveness
// probe on its own goroutine so a slow or hostile peer never blocks
// registration of anyone else.
func (d *Dispatcher) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-d.stopCh:
				return
			default:
				d.logger.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		go d.handleHandshake(conn)
	}
}

func (d *Dispatcher) handleHandshake(conn net.Conn) {
	r := bufio.NewReader(conn)
	frame, err := wire.ReadFrame(r)
	if err != nil {
		d.logger.Warn().Err(err).Msg("handshake: read failed")
		conn.Close()
		return
	}
	if frame.Header.Op != wire.OpIdentify {
		d.logger.Warn().Str("op", frame.Header.Op.String()).Msg("handshake: expected IDENTIFY")
		conn.Close()
		return
	}
	var identify wire.IdentifyMsg
	if err := json.Unmarshal(frame.Payload, &identify); err != nil {
		d.logger.Warn().Err(err).Msg("handshake: malformed IDENTIFY payload")
		conn.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	checker := health.NewTCPChecker(identify.Endpoint)
	result := checker.Check(ctx)
	cancel()
	if !result.Healthy {
		d.logger.Warn().Str("worker_id", identify.WorkerID).Str("endpoint", identify.Endpoint).
			Msg("handshake: liveness probe failed, refusing registration")
		conn.Close()
		return
	}

	wc := &workerConn{id: identify.WorkerID, conn: conn, outbox: make(chan outboundFrame, 8)}
	reply := make(chan bool, 1)
	d.registerCh <- registerRequest{worker: wc, endpoint: identify.Endpoint, reply: reply}
	if !<-reply {
		conn.Close()
		return
	}

	go wc.writePump()
	d.readPump(wc)
}
