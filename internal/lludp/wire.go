package lludp

import (
	"encoding/binary"
	"errors"
	"math"

	"verdantia/simulator/internal/core"
)

// errShortPayload reports a message body shorter than its declared layout.
var errShortPayload = errors.New("lludp: short message payload")

// wireReader walks a message payload field by field. The first failed read
// latches the error and every later read returns a zero value, so handlers
// can parse a whole layout and check err once at the end.
type wireReader struct {
	buf []byte
	off int
	err error
}

func newWireReader(buf []byte) *wireReader { return &wireReader{buf: buf} }

func (r *wireReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = errShortPayload
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *wireReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *wireReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *wireReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *wireReader) i32() int32 { return int32(r.u32()) }

func (r *wireReader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *wireReader) uuid() [16]byte {
	var out [16]byte
	copy(out[:], r.take(16))
	return out
}

func (r *wireReader) userID() core.UserID {
	raw := r.uuid()
	if r.err != nil {
		return core.UserID{}
	}
	id, err := core.UserIDFromBytes(raw[:])
	if err != nil {
		r.err = err
		return core.UserID{}
	}
	return id
}

func (r *wireReader) sessionID() core.SessionID {
	raw := r.uuid()
	if r.err != nil {
		return core.SessionID{}
	}
	id, err := core.SessionIDFromBytes(raw[:])
	if err != nil {
		r.err = err
		return core.SessionID{}
	}
	return id
}

func (r *wireReader) vector3() core.Vector3 {
	return core.Vector3{X: r.f32(), Y: r.f32(), Z: r.f32()}
}

func (r *wireReader) quaternion() core.Quaternion {
	return core.Quaternion{X: r.f32(), Y: r.f32(), Z: r.f32(), W: r.f32()}
}

// string16 reads a u16 length prefix followed by that many bytes.
func (r *wireReader) string16() string {
	n := int(r.u16())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

// Append-style builders mirroring the reader's layouts.

func appendU16(buf []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(buf, v) }

func appendU32(buf []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(buf, v) }

func appendU64(buf []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(buf, v) }

func appendF32(buf []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
}

func appendUUID(buf []byte, id [16]byte) []byte { return append(buf, id[:]...) }

func appendVector3(buf []byte, v core.Vector3) []byte {
	buf = appendF32(buf, v.X)
	buf = appendF32(buf, v.Y)
	return appendF32(buf, v.Z)
}

func appendString16(buf []byte, s string) []byte {
	buf = appendU16(buf, uint16(len(s)))
	return append(buf, s...)
}
