package pbwire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// ReadVarint decodes the varint starting at off.
// It returns the value and the offset just past its last byte. If the buffer
// ends before a terminating byte, it returns (0, off) so the caller sees no progress.
func ReadVarint(buf []byte, off int) (uint64, int) {
	if off < 0 || off >= len(buf) {
		return 0, off
	}
	v, n := protowire.ConsumeVarint(buf[off:])
	if n < 0 {
		return 0, off
	}
	return v, off + n
}

// Reader is a forward-only cursor over a wire-format buffer.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset reports the current read position.
func (r *Reader) Offset() int {
	return r.off
}

// Done reports whether the whole buffer has been consumed.
func (r *Reader) Done() bool {
	return r.off >= len(r.buf)
}

// Next reads the next field tag.
// ok is false at the end of the buffer or on a truncated tag.
func (r *Reader) Next() (num protowire.Number, typ protowire.Type, ok bool) {
	tag, next := ReadVarint(r.buf, r.off)
	if next == r.off {
		return 0, 0, false
	}
	r.off = next
	return protowire.Number(tag >> 3), protowire.Type(tag & 7), true
}

// Bytes reads a length-delimited payload. The returned slice aliases the buffer.
func (r *Reader) Bytes() ([]byte, bool) {
	length, next := ReadVarint(r.buf, r.off)
	if next == r.off {
		return nil, false
	}
	if length > uint64(len(r.buf)-next) {
		return nil, false
	}
	end := next + int(length)
	r.off = end
	return r.buf[next:end], true
}

// Skip advances past the payload of a field with wire type typ.
// It returns false for unsupported wire types and truncated payloads.
func (r *Reader) Skip(typ protowire.Type) bool {
	switch typ {
	case protowire.VarintType:
		_, next := ReadVarint(r.buf, r.off)
		if next == r.off {
			return false
		}
		r.off = next
		return true
	case protowire.Fixed64Type:
		return r.advance(8)
	case protowire.Fixed32Type:
		return r.advance(4)
	case protowire.BytesType:
		_, ok := r.Bytes()
		return ok
	default:
		return false
	}
}

func (r *Reader) advance(n int) bool {
	if len(r.buf)-r.off < n {
		return false
	}
	r.off += n
	return true
}

// Field returns the payload of the first length-delimited field numbered num.
// The walk stops at the first match; fields after it are never parsed.
func Field(buf []byte, num protowire.Number) ([]byte, bool) {
	r := NewReader(buf)
	for !r.Done() {
		n, typ, ok := r.Next()
		if !ok {
			return nil, false
		}
		if typ != protowire.BytesType {
			if !r.Skip(typ) {
				return nil, false
			}
			continue
		}
		payload, ok := r.Bytes()
		if !ok {
			return nil, false
		}
		if n == num {
			return payload, true
		}
	}
	return nil, false
}

// NestedString follows path through nested messages and returns the last
// field's payload as text.
func NestedString(buf []byte, path ...protowire.Number) (string, bool) {
	if len(path) == 0 {
		return "", false
	}
	cur := buf
	for _, num := range path {
		payload, ok := Field(cur, num)
		if !ok {
			return "", false
		}
		cur = payload
	}
	return string(cur), true
}
