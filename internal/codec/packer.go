package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// Packer writes Go values onto the wire in the tag/length format. It holds
// per-connection negotiated capabilities: byte-array support is disabled for
// servers whose negotiated protocol version predates it, matching the
// init-observer wrapper's responsibility in the protocol engine.
type Packer struct {
	w              io.Writer
	byteArraysOK   bool
}

// NewPacker wraps w (typically a chunk.Writer, so every Pack call is
// automatically re-chunked).
func NewPacker(w io.Writer) *Packer {
	return &Packer{w: w, byteArraysOK: true}
}

// SetByteArraySupport toggles whether Pack accepts []byte values. The init
// observer calls this with false once it learns the server predates
// byte-array support.
func (p *Packer) SetByteArraySupport(ok bool) { p.byteArraysOK = ok }

func (p *Packer) writeByte(b byte) error {
	_, err := p.w.Write([]byte{b})
	return err
}

func (p *Packer) write(b []byte) error {
	_, err := p.w.Write(b)
	return err
}

// Pack encodes v, dispatching on its Go type. Supported types: nil, bool,
// int, int8, int16, int32 and int64 (encoded as int64; unsigned kinds are
// rejected), float64, string, []byte, []any (list), map[string]any (map;
// keys are written in sorted order, since Go maps have no insertion order),
// and Structure.
func (p *Packer) Pack(v any) error {
	switch val := v.(type) {
	case nil:
		return p.writeByte(TagNull)
	case bool:
		if val {
			return p.writeByte(TagTrue)
		}
		return p.writeByte(TagFalse)
	case int:
		return p.packInt(int64(val))
	case int8:
		return p.packInt(int64(val))
	case int16:
		return p.packInt(int64(val))
	case int32:
		return p.packInt(int64(val))
	case int64:
		return p.packInt(val)
	case float64:
		return p.packFloat(val)
	case string:
		return p.packString(val)
	case []byte:
		return p.packBytes(val)
	case []any:
		return p.packList(val)
	case map[string]any:
		return p.packMap(val)
	case Structure:
		return p.packStruct(val.Signature, val.Fields)
	default:
		return fmt.Errorf("codec: cannot pack value of type %T", v)
	}
}

func (p *Packer) packInt(v int64) error {
	if v >= TinyIntMin && v <= TinyIntMax {
		return p.writeByte(byte(v))
	}
	if v >= math.MinInt8 && v <= math.MaxInt8 {
		return p.write([]byte{TagInt8, byte(v)})
	}
	if v >= math.MinInt16 && v <= math.MaxInt16 {
		buf := make([]byte, 3)
		buf[0] = TagInt16
		binary.BigEndian.PutUint16(buf[1:], uint16(v))
		return p.write(buf)
	}
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		buf := make([]byte, 5)
		buf[0] = TagInt32
		binary.BigEndian.PutUint32(buf[1:], uint32(v))
		return p.write(buf)
	}
	buf := make([]byte, 9)
	buf[0] = TagInt64
	binary.BigEndian.PutUint64(buf[1:], uint64(v))
	return p.write(buf)
}

func (p *Packer) packFloat(v float64) error {
	buf := make([]byte, 9)
	buf[0] = TagFloat64
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v))
	return p.write(buf)
}

func (p *Packer) packString(s string) error {
	n := len(s)
	if err := p.packSizeHeader(TinyStringMarker, TagString8, TagString16, TagString32, n); err != nil {
		return err
	}
	return p.write([]byte(s))
}

func (p *Packer) packBytes(b []byte) error {
	if !p.byteArraysOK {
		return fmt.Errorf("codec: byte arrays are not supported by the negotiated protocol version")
	}
	n := len(b)
	var tag8, tag16, tag32 byte = TagBytes8, TagBytes16, TagBytes32
	switch {
	case n <= math.MaxUint8:
		if err := p.write([]byte{tag8, byte(n)}); err != nil {
			return err
		}
	case n <= math.MaxUint16:
		buf := make([]byte, 3)
		buf[0] = tag16
		binary.BigEndian.PutUint16(buf[1:], uint16(n))
		if err := p.write(buf); err != nil {
			return err
		}
	default:
		buf := make([]byte, 5)
		buf[0] = tag32
		binary.BigEndian.PutUint32(buf[1:], uint32(n))
		if err := p.write(buf); err != nil {
			return err
		}
	}
	return p.write(b)
}

func (p *Packer) packList(list []any) error {
	if err := p.packSizeHeader(TinyListMarker, TagList8, TagList16, TagList32, len(list)); err != nil {
		return err
	}
	for _, v := range list {
		if err := p.Pack(v); err != nil {
			return err
		}
	}
	return nil
}

func (p *Packer) packMap(m map[string]any) error {
	if err := p.packSizeHeader(TinyMapMarker, TagMap8, TagMap16, TagMap32, len(m)); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := p.packString(k); err != nil {
			return err
		}
		if err := p.Pack(m[k]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Packer) packStruct(signature byte, fields []any) error {
	n := len(fields)
	switch {
	case n <= 0x0F:
		if err := p.writeByte(TinyStructMarker | byte(n)); err != nil {
			return err
		}
	case n <= math.MaxUint8:
		if err := p.write([]byte{TagStruct8, byte(n)}); err != nil {
			return err
		}
	default:
		buf := make([]byte, 3)
		buf[0] = TagStruct16
		binary.BigEndian.PutUint16(buf[1:], uint16(n))
		if err := p.write(buf); err != nil {
			return err
		}
	}
	if err := p.writeByte(signature); err != nil {
		return err
	}
	for _, f := range fields {
		if err := p.Pack(f); err != nil {
			return err
		}
	}
	return nil
}

// packSizeHeader writes the tiny/8/16/32 size marker shared by strings,
// lists and maps: tiny packs n into the low nibble of tinyMarker, larger
// sizes use a dedicated tag followed by a big-endian size field.
func (p *Packer) packSizeHeader(tinyMarker, tag8, tag16, tag32 byte, n int) error {
	switch {
	case n <= 0x0F:
		return p.writeByte(tinyMarker | byte(n))
	case n <= math.MaxUint8:
		return p.write([]byte{tag8, byte(n)})
	case n <= math.MaxUint16:
		buf := make([]byte, 3)
		buf[0] = tag16
		binary.BigEndian.PutUint16(buf[1:], uint16(n))
		return p.write(buf)
	default:
		buf := make([]byte, 5)
		buf[0] = tag32
		binary.BigEndian.PutUint32(buf[1:], uint32(n))
		return p.write(buf)
	}
}
