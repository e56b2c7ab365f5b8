// Package wire implements the fixed-header binary protocol that is the
// sole network interface between a Sentinel dispatcher and its Worker
// processes. There is no gRPC, no protobuf: every message is a 16-byte
// header followed by a JSON payload of LEN bytes, framed over a single
// long-lived TCP connection per worker.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolVersion is the VER byte every header carries. A peer that does
// not recognize it must close the connection rather than guess.
const ProtocolVersion = 4

// MaxPayloadLen caps a single frame's payload. Anything larger indicates a
// misbehaving or confused peer, not a legitimate batch.
const MaxPayloadLen = 16 << 20 // 16 MiB

// HeaderLen is the fixed size of every frame header in bytes:
// VER(1) OP(1) RES(2) JOB_ID(8) LEN(4).
const HeaderLen = 16

// Op is the wire opcode. Each value is carried in the header's OP byte.
type Op byte

const (
	OpIdentify  Op = 1
	OpDispatch  Op = 2
	OpAbort     Op = 3
	OpHeartbeat Op = 4
	OpConclude  Op = 5
	OpErr       Op = 6
	OpReload    Op = 7
	OpDeploy    Op = 10
	OpAck       Op = 11
)

func (o Op) String() string {
	switch o {
	case OpIdentify:
		return "IDENTIFY"
	case OpDispatch:
		return "DISPATCH"
	case OpAbort:
		return "ABORT"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpConclude:
		return "CONCLUDE"
	case OpErr:
		return "ERR"
	case OpReload:
		return "RELOAD"
	case OpDeploy:
		return "DEPLOY"
	case OpAck:
		return "ACK"
	default:
		return fmt.Sprintf("OP(%d)", byte(o))
	}
}

// Valid reports whether o is one of the declared opcodes.
func (o Op) Valid() bool {
	switch o {
	case OpIdentify, OpDispatch, OpAbort, OpHeartbeat, OpConclude, OpErr, OpReload, OpDeploy, OpAck:
		return true
	default:
		return false
	}
}

// Header is the 16-byte fixed frame header.
type Header struct {
	Ver   byte
	Op    Op
	Res   uint16 // reserved, must round-trip as zero pre-v1
	JobID uint64 // wire-local correlation id, distinct from the catalog's string job id
	Len   uint32 // payload length in bytes
}

// Marshal encodes h into a 16-byte buffer.
func (h Header) Marshal() [HeaderLen]byte {
	var buf [HeaderLen]byte
	buf[0] = h.Ver
	buf[1] = byte(h.Op)
	binary.BigEndian.PutUint16(buf[2:4], h.Res)
	binary.BigEndian.PutUint64(buf[4:12], h.JobID)
	binary.BigEndian.PutUint32(buf[12:16], h.Len)
	return buf
}

// UnmarshalHeader decodes a 16-byte buffer into a Header.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderLen {
		return Header{}, fmt.Errorf("wire: header must be %d bytes, got %d", HeaderLen, len(buf))
	}
	h := Header{
		Ver:   buf[0],
		Op:    Op(buf[1]),
		Res:   binary.BigEndian.Uint16(buf[2:4]),
		JobID: binary.BigEndian.Uint64(buf[4:12]),
		Len:   binary.BigEndian.Uint32(buf[12:16]),
	}
	return h, nil
}

// Frame is a decoded header plus its payload bytes.
type Frame struct {
	Header  Header
	Payload []byte
}

// WriteFrame writes a header and payload to w as one frame. Callers pass
// an already-marshaled JSON payload; wire does not know about message
// schemas, only about framing.
func WriteFrame(w io.Writer, op Op, jobID uint64, payload []byte) error {
	if len(payload) > MaxPayloadLen {
		return fmt.Errorf("wire: payload of %d bytes exceeds max %d", len(payload), MaxPayloadLen)
	}
	h := Header{Ver: ProtocolVersion, Op: op, JobID: jobID, Len: uint32(len(payload))}
	hb := h.Marshal()
	if _, err := w.Write(hb[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one frame from r, rejecting any header whose VER does
// not match ProtocolVersion or whose LEN exceeds MaxPayloadLen.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	hb := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, hb); err != nil {
		return Frame{}, fmt.Errorf("wire: read header: %w", err)
	}
	h, err := UnmarshalHeader(hb)
	if err != nil {
		return Frame{}, err
	}
	if h.Ver != ProtocolVersion {
		return Frame{}, fmt.Errorf("%w: peer version %d, want %d", ErrProtocolMismatch, h.Ver, ProtocolVersion)
	}
	if h.Len > MaxPayloadLen {
		return Frame{}, fmt.Errorf("wire: frame length %d exceeds max %d", h.Len, MaxPayloadLen)
	}
	payload := make([]byte, h.Len)
	if h.Len > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("wire: read payload: %w", err)
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// ErrProtocolMismatch is returned by ReadFrame when a peer's VER byte does
// not match ProtocolVersion.
var ErrProtocolMismatch = fmt.Errorf("wire: protocol version mismatch")
