package tftp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Option is a single negotiated name/value pair. Options are kept as an
// ordered slice, not a map, so OACK replies enumerate them in a stable
// order.
type Option struct {
	Name  string
	Value string
}

// Options is an ordered list of TFTP options.
type Options []Option

// Get returns the value for name (case-insensitive) and whether it was
// present.
func (o Options) Get(name string) (string, bool) {
	for _, opt := range o {
		if equalFold(opt.Name, name) {
			return opt.Value, true
		}
	}
	return "", false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Request is a decoded RRQ or WRQ packet.
type Request struct {
	Op       Opcode
	Filename string
	Mode     string
	Options  Options
}

func opcodeOf(data []byte) (Opcode, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("tftp: packet too short for opcode")
	}
	return Opcode(binary.BigEndian.Uint16(data[:2])), nil
}

// DecodeRequest parses an RRQ or WRQ packet: 2-byte opcode, NUL-terminated
// filename, NUL-terminated mode, then zero or more NUL-terminated
// name/value option pairs (RFC 1350 §5, RFC 2347 §2).
func DecodeRequest(data []byte) (*Request, error) {
	op, err := opcodeOf(data)
	if err != nil {
		return nil, err
	}
	if op != OpRRQ && op != OpWRQ {
		return nil, fmt.Errorf("tftp: not a request packet: opcode %s", op)
	}

	fields, err := splitNulFields(data[2:])
	if err != nil {
		return nil, err
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("tftp: malformed request: missing filename or mode")
	}
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("tftp: malformed request: trailing option without a value")
	}

	req := &Request{Op: op, Filename: fields[0], Mode: fields[1]}
	for i := 2; i+1 < len(fields); i += 2 {
		req.Options = append(req.Options, Option{Name: fields[i], Value: fields[i+1]})
	}
	return req, nil
}

// splitNulFields splits a NUL-terminated sequence of fields. The trailing
// byte must be a NUL; any data after the last terminator is an error.
func splitNulFields(data []byte) ([]string, error) {
	var fields []string
	start := 0
	for i, b := range data {
		if b == 0 {
			fields = append(fields, string(data[start:i]))
			start = i + 1
		}
	}
	if start != len(data) {
		return nil, fmt.Errorf("tftp: request not NUL-terminated")
	}
	return fields, nil
}

// EncodeRequest serializes an RRQ/WRQ. Provided for symmetry and tests;
// this server never originates requests.
func EncodeRequest(op Opcode, filename, mode string, opts Options) []byte {
	var buf bytes.Buffer
	writeUint16(&buf, uint16(op))
	buf.WriteString(filename)
	buf.WriteByte(0)
	buf.WriteString(mode)
	buf.WriteByte(0)
	for _, o := range opts {
		buf.WriteString(o.Name)
		buf.WriteByte(0)
		buf.WriteString(o.Value)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// EncodeData builds a DATA packet: opcode, block number, payload.
func EncodeData(block uint16, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(OpDATA))
	binary.BigEndian.PutUint16(buf[2:4], block)
	copy(buf[4:], payload)
	return buf
}

// DecodeData parses a DATA packet, returning its block number and payload.
// The returned payload aliases data and must be copied if retained beyond
// the caller's read buffer's lifetime.
func DecodeData(data []byte) (block uint16, payload []byte, err error) {
	op, err := opcodeOf(data)
	if err != nil {
		return 0, nil, err
	}
	if op != OpDATA {
		return 0, nil, fmt.Errorf("tftp: not a DATA packet: opcode %s", op)
	}
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("tftp: truncated DATA packet")
	}
	return binary.BigEndian.Uint16(data[2:4]), data[4:], nil
}

// EncodeACK builds an ACK packet for the given block number.
func EncodeACK(block uint16) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], uint16(OpACK))
	binary.BigEndian.PutUint16(buf[2:4], block)
	return buf
}

// DecodeACK parses an ACK packet, returning its block number.
func DecodeACK(data []byte) (block uint16, err error) {
	op, err := opcodeOf(data)
	if err != nil {
		return 0, err
	}
	if op != OpACK {
		return 0, fmt.Errorf("tftp: not an ACK packet: opcode %s", op)
	}
	if len(data) < 4 {
		return 0, fmt.Errorf("tftp: truncated ACK packet")
	}
	return binary.BigEndian.Uint16(data[2:4]), nil
}

// EncodeError builds an ERROR packet.
func EncodeError(code uint16, message string) []byte {
	var buf bytes.Buffer
	writeUint16(&buf, uint16(OpERROR))
	writeUint16(&buf, code)
	buf.WriteString(message)
	buf.WriteByte(0)
	return buf.Bytes()
}

// DecodeError parses an ERROR packet.
func DecodeError(data []byte) (code uint16, message string, err error) {
	op, err := opcodeOf(data)
	if err != nil {
		return 0, "", err
	}
	if op != OpERROR {
		return 0, "", fmt.Errorf("tftp: not an ERROR packet: opcode %s", op)
	}
	if len(data) < 4 {
		return 0, "", fmt.Errorf("tftp: truncated ERROR packet")
	}
	msg := data[4:]
	if n := bytes.IndexByte(msg, 0); n >= 0 {
		msg = msg[:n]
	}
	return binary.BigEndian.Uint16(data[2:4]), string(msg), nil
}

// EncodeOACK builds an OACK packet carrying the accepted options
// (RFC 2347 §2). An empty Options yields an OACK with no bodies, which is
// valid but pointless — callers should skip sending OACK entirely when no
// options were negotiated.
func EncodeOACK(opts Options) []byte {
	var buf bytes.Buffer
	writeUint16(&buf, uint16(OpOACK))
	for _, o := range opts {
		buf.WriteString(o.Name)
		buf.WriteByte(0)
		buf.WriteString(o.Value)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeOACK parses an OACK packet.
func DecodeOACK(data []byte) (Options, error) {
	op, err := opcodeOf(data)
	if err != nil {
		return nil, err
	}
	if op != OpOACK {
		return nil, fmt.Errorf("tftp: not an OACK packet: opcode %s", op)
	}
	fields, err := splitNulFields(data[2:])
	if err != nil {
		return nil, err
	}
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("tftp: malformed OACK: trailing option without a value")
	}
	var opts Options
	for i := 0; i+1 < len(fields); i += 2 {
		opts = append(opts, Option{Name: fields[i], Value: fields[i+1]})
	}
	return opts, nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
