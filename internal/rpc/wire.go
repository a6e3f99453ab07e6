// Package rpc implements the asset hub's capability-based RPC surface
// over a length-prefixed gob framing: the connection host, the
// per-connection vat, the service root, and the wire codec. There is no
// Cap'n Proto (or any other RPC framework) in the example corpus this
// core is grounded on, so the wire format here is a deliberately simple
// stand-in that preserves the source's capability-table semantics —
// snapshot and listener capabilities are opaque handles scoped to one
// connection — without requiring a schema compiler.
package rpc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"sync"
)

// frameKind tags what a frame's payload decodes as.
type frameKind uint8

const (
	frameRequest frameKind = iota
	frameResponse
	framePush
)

// maxFrameSize bounds a single frame's payload to guard against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const maxFrameSize = 64 << 20 // 64 MiB

// Codec reads and writes frames on one connection. Writes are
// mutex-guarded because both the vat's request dispatcher and the
// broadcaster's per-listener delivery loop write to the same connection
// concurrently (§5: "all capability methods on a given vat are
// serialized" governs call dispatch, not the independent listener push
// path).
type Codec struct {
	writeMu sync.Mutex
	w       io.Writer
	r       *bufio.Reader
}

// NewCodec wraps rw for frame-level reads and writes.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{w: rw, r: bufio.NewReaderSize(rw, 32*1024)}
}

func (c *Codec) writeFrame(kind frameKind, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[:4], uint32(buf.Len()))
	header[4] = byte(kind)
	if _, err := c.w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// WriteRequest sends a client→server call.
func (c *Codec) WriteRequest(req *Request) error { return c.writeFrame(frameRequest, req) }

// WriteResponse sends a server→client reply.
func (c *Codec) WriteResponse(resp *Response) error { return c.writeFrame(frameResponse, resp) }

// WritePush sends a server-initiated listener update.
func (c *Codec) WritePush(push *Push) error { return c.writeFrame(framePush, push) }

// ReadFrame blocks for the next frame and decodes it into the
// appropriate type based on its kind, returning it as `any`
// (*Request, *Response, or *Push).
func (c *Codec) ReadFrame() (any, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(c.r, header); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:4])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds limit", size)
	}
	kind := frameKind(header[4])

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	dec := gob.NewDecoder(bytes.NewReader(payload))
	switch kind {
	case frameRequest:
		var req Request
		if err := dec.Decode(&req); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		return &req, nil
	case frameResponse:
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &resp, nil
	case framePush:
		var push Push
		if err := dec.Decode(&push); err != nil {
			return nil, fmt.Errorf("decode push: %w", err)
		}
		return &push, nil
	default:
		return nil, fmt.Errorf("unknown frame kind %d", kind)
	}
}
