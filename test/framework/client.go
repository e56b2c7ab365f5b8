package framework

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/casparian/flow/pkg/wire"
)

// WireClient speaks the sentinel's wire protocol directly, playing the
// part of a worker without spawning the real worker binary. It is for
// integration tests that need to control exactly which frames are sent
// and observe exactly which frames come back, rather than driving a full
// worker runtime subprocess.
type WireClient struct {
	WorkerID string

	conn net.Conn
	r    *bufio.Reader

	// livenessLn backs the Endpoint advertised in the Identify handshake:
	// the sentinel dials it back during registration to confirm the
	// worker is actually reachable, so a real listener has to exist even
	// though this client never serves anything on it.
	livenessLn net.Listener
}

// DialWorker connects to a sentinel at addr and sends the Identify
// handshake a real worker would send. It opens a throwaway local
// listener first and advertises that as its Endpoint, since the
// sentinel's handshake refuses any worker whose advertised endpoint
// fails a TCP liveness probe.
func DialWorker(addr, workerID string) (*WireClient, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("open liveness listener: %w", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("dial sentinel at %s: %w", addr, err)
	}
	c := &WireClient{WorkerID: workerID, conn: conn, r: bufio.NewReader(conn), livenessLn: ln}

	msg := wire.IdentifyMsg{WorkerID: workerID, Endpoint: ln.Addr().String(), PID: os.Getpid()}
	if err := c.send(wire.OpIdentify, msg); err != nil {
		c.Close()
		return nil, fmt.Errorf("send identify: %w", err)
	}
	return c, nil
}

// Close closes the underlying connection and the liveness listener.
func (c *WireClient) Close() error {
	c.livenessLn.Close()
	return c.conn.Close()
}

// SendHeartbeat sends a keepalive heartbeat carrying no in-flight job.
func (c *WireClient) SendHeartbeat() error {
	return c.send(wire.OpHeartbeat, wire.HeartbeatMsg{WorkerID: c.WorkerID, Timestamp: time.Now()})
}

// Conclude reports a job's terminal outcome, as a real worker would after
// running its plugin.
func (c *WireClient) Conclude(msg wire.ConcludeMsg) error {
	return c.send(wire.OpConclude, msg)
}

// ReportErr reports a classified error for a job.
func (c *WireClient) ReportErr(msg wire.ErrMsg) error {
	return c.send(wire.OpErr, msg)
}

// ReadFrame blocks until the sentinel sends a frame (typically a
// Dispatch or an Abort) and returns it decoded.
func (c *WireClient) ReadFrame() (wire.Frame, error) {
	return wire.ReadFrame(c.r)
}

// ReadDispatch reads frames until a Dispatch arrives, skipping any
// other frame in between.
func (c *WireClient) ReadDispatch(timeout time.Duration) (wire.DispatchMsg, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return wire.DispatchMsg{}, err
		}
		frame, err := c.ReadFrame()
		if err != nil {
			return wire.DispatchMsg{}, fmt.Errorf("read frame waiting for dispatch: %w", err)
		}
		if frame.Header.Op != wire.OpDispatch {
			continue
		}
		var d wire.DispatchMsg
		if err := json.Unmarshal(frame.Payload, &d); err != nil {
			return wire.DispatchMsg{}, fmt.Errorf("decode dispatch: %w", err)
		}
		return d, nil
	}
}

func (c *WireClient) send(op wire.Op, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", op, err)
	}
	return wire.WriteFrame(c.conn, op, 0, payload)
}
