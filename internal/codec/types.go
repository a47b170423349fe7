package codec

//
// AMQP 1.0 type system, restricted to what SASL bodies need.
//
// See https://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-types-v1.0-os.html.
//

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ooni/minisasl/internal/bytesx"
)

// AMQP format codes.
const (
	typeDescribed  = 0x00
	typeNull       = 0x40
	typeTrue       = 0x41
	typeFalse      = 0x42
	typeUint0      = 0x43
	typeUlong0     = 0x44
	typeList0      = 0x45
	typeUbyte      = 0x50
	typeSmallUint  = 0x52
	typeSmallUlong = 0x53
	typeBool       = 0x56
	typeUint       = 0x70
	typeUlong      = 0x80
	typeVbin8      = 0xa0
	typeStr8       = 0xa1
	typeSym8       = 0xa3
	typeVbin32     = 0xb0
	typeStr32      = 0xb1
	typeSym32      = 0xb3
	typeList8      = 0xc0
	typeList32     = 0xd0
	typeArray8     = 0xe0
	typeArray32    = 0xf0
)

// symbol is an AMQP symbol, which we must distinguish from a string when decoding.
type symbol string

// described is a described value.
type described struct {
	descriptor any
	value      any
}

// writeNull appends the null value.
func writeNull(buf *bytes.Buffer) {
	buf.WriteByte(typeNull)
}

// writeUbyte appends an ubyte value.
func writeUbyte(buf *bytes.Buffer, v uint8) {
	buf.WriteByte(typeUbyte)
	buf.WriteByte(v)
}

// writeVariable appends a variable width value using the short form when possible.
func writeVariable(buf *bytes.Buffer, short, long byte, data []byte) error {
	switch {
	case len(data) <= math.MaxUint8:
		buf.WriteByte(short)
		buf.WriteByte(byte(len(data)))
	case uint64(len(data)) <= math.MaxUint32:
		buf.WriteByte(long)
		bytesx.WriteUint32(buf, uint32(len(data)))
	default:
		return fmt.Errorf("%w: value too large", ErrEncode)
	}
	buf.Write(data)
	return nil
}

func writeBinary(buf *bytes.Buffer, data []byte) error {
	return writeVariable(buf, typeVbin8, typeVbin32, data)
}

func writeString(buf *bytes.Buffer, s string) error {
	return writeVariable(buf, typeStr8, typeStr32, []byte(s))
}

func writeSymbol(buf *bytes.Buffer, s string) error {
	return writeVariable(buf, typeSym8, typeSym32, []byte(s))
}

// writeSymbolArray appends an array of symbols sharing a single constructor.
func writeSymbolArray(buf *bytes.Buffer, symbols []string) error {
	wide := false
	for _, s := range symbols {
		if len(s) > math.MaxUint8 {
			wide = true
		}
	}
	elems := &bytes.Buffer{}
	if wide {
		elems.WriteByte(typeSym32)
	} else {
		elems.WriteByte(typeSym8)
	}
	for _, s := range symbols {
		if wide {
			bytesx.WriteUint32(elems, uint32(len(s)))
		} else {
			elems.WriteByte(byte(len(s)))
		}
		elems.WriteString(s)
	}
	return writeCompound(buf, typeArray8, typeArray32, len(symbols), elems.Bytes())
}

// writeCompound appends a list or array header followed by the encoded elements.
// The size field counts the count field plus the elements.
func writeCompound(buf *bytes.Buffer, short, long byte, count int, elems []byte) error {
	if count <= math.MaxUint8 && len(elems)+1 <= math.MaxUint8 {
		buf.WriteByte(short)
		buf.WriteByte(byte(len(elems) + 1))
		buf.WriteByte(byte(count))
		buf.Write(elems)
		return nil
	}
	if uint64(len(elems))+4 > math.MaxUint32 {
		return fmt.Errorf("%w: compound value too large", ErrEncode)
	}
	buf.WriteByte(long)
	bytesx.WriteUint32(buf, uint32(len(elems)+4))
	bytesx.WriteUint32(buf, uint32(count))
	buf.Write(elems)
	return nil
}

// writeDescribedList appends a described list using a small ulong descriptor.
// The fields are already encoded; trailing null fields must have been trimmed.
func writeDescribedList(buf *bytes.Buffer, code uint64, fields [][]byte) error {
	buf.WriteByte(typeDescribed)
	buf.WriteByte(typeSmallUlong)
	buf.WriteByte(byte(code))
	if len(fields) == 0 {
		buf.WriteByte(typeList0)
		return nil
	}
	return writeCompound(buf, typeList8, typeList32, len(fields), bytes.Join(fields, nil))
}

// readValue decodes the next value from buf.
func readValue(buf *bytes.Buffer) (any, error) {
	constructor, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: missing constructor", ErrDecode)
	}
	if constructor == typeDescribed {
		descriptor, err := readValue(buf)
		if err != nil {
			return nil, err
		}
		value, err := readValue(buf)
		if err != nil {
			return nil, err
		}
		return &described{descriptor: descriptor, value: value}, nil
	}
	return readTyped(buf, constructor)
}

// readTyped decodes a value whose constructor has already been read.
func readTyped(buf *bytes.Buffer, constructor byte) (any, error) {
	switch constructor {
	case typeNull:
		return nil, nil
	case typeTrue:
		return true, nil
	case typeFalse:
		return false, nil
	case typeBool:
		b, err := readFixed(buf, 1)
		if err != nil {
			return nil, err
		}
		return b[0] != 0x00, nil
	case typeUbyte:
		b, err := readFixed(buf, 1)
		if err != nil {
			return nil, err
		}
		return b[0], nil
	case typeUint0, typeUlong0:
		return uint64(0), nil
	case typeSmallUint, typeSmallUlong:
		b, err := readFixed(buf, 1)
		if err != nil {
			return nil, err
		}
		return uint64(b[0]), nil
	case typeUint:
		v, err := bytesx.ReadUint32(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecode, err)
		}
		return uint64(v), nil
	case typeUlong:
		v, err := bytesx.ReadUint64(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecode, err)
		}
		return v, nil
	case typeVbin8, typeVbin32:
		return readVariable(buf, constructor == typeVbin32)
	case typeStr8, typeStr32:
		b, err := readVariable(buf, constructor == typeStr32)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case typeSym8, typeSym32:
		b, err := readVariable(buf, constructor == typeSym32)
		if err != nil {
			return nil, err
		}
		return symbol(b), nil
	case typeList0:
		return []any{}, nil
	case typeList8, typeList32:
		return readList(buf, constructor == typeList32)
	case typeArray8, typeArray32:
		return readArray(buf, constructor == typeArray32)
	default:
		return nil, fmt.Errorf("%w: unsupported constructor 0x%02x", ErrDecode, constructor)
	}
}

func readFixed(buf *bytes.Buffer, n int) ([]byte, error) {
	b, err := bytesx.ReadBytes(buf, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	return b, nil
}

// readWidth reads a one or four byte unsigned width.
func readWidth(buf *bytes.Buffer, wide bool) (int, error) {
	if !wide {
		b, err := readFixed(buf, 1)
		if err != nil {
			return 0, err
		}
		return int(b[0]), nil
	}
	b, err := readFixed(buf, 4)
	if err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b)
	if uint64(v) > uint64(buf.Len()) {
		return 0, fmt.Errorf("%w: width %d exceeds available %d bytes", ErrDecode, v, buf.Len())
	}
	return int(v), nil
}

func readVariable(buf *bytes.Buffer, wide bool) ([]byte, error) {
	n, err := readWidth(buf, wide)
	if err != nil {
		return nil, err
	}
	return readFixed(buf, n)
}

// readCompoundBody reads size and count and returns a buffer holding exactly the elements.
func readCompoundBody(buf *bytes.Buffer, wide bool) (*bytes.Buffer, int, error) {
	size, err := readWidth(buf, wide)
	if err != nil {
		return nil, 0, err
	}
	body, err := readFixed(buf, size)
	if err != nil {
		return nil, 0, err
	}
	inner := bytes.NewBuffer(body)
	count, err := readWidth(inner, wide)
	if err != nil {
		return nil, 0, err
	}
	return inner, count, nil
}

func readList(buf *bytes.Buffer, wide bool) ([]any, error) {
	inner, count, err := readCompoundBody(buf, wide)
	if err != nil {
		return nil, err
	}
	// each element takes at least one byte
	if count > inner.Len() {
		return nil, fmt.Errorf("%w: list count %d too large", ErrDecode, count)
	}
	out := make([]any, 0, count)
	for i := 0; i < count; i++ {
		v, err := readValue(inner)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func readArray(buf *bytes.Buffer, wide bool) ([]any, error) {
	inner, count, err := readCompoundBody(buf, wide)
	if err != nil {
		return nil, err
	}
	constructor, err := inner.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: array without constructor", ErrDecode)
	}
	if constructor == typeDescribed {
		return nil, fmt.Errorf("%w: described arrays are not supported", ErrDecode)
	}
	if isZeroWidth(constructor) {
		return nil, fmt.Errorf("%w: arrays of zero-width values are not supported", ErrDecode)
	}
	// each element takes at least one byte
	if count > inner.Len() {
		return nil, fmt.Errorf("%w: array count %d too large", ErrDecode, count)
	}
	out := make([]any, 0, count)
	for i := 0; i < count; i++ {
		v, err := readTyped(inner, constructor)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// isZeroWidth returns whether values with this constructor take no bytes.
func isZeroWidth(constructor byte) bool {
	switch constructor {
	case typeNull, typeTrue, typeFalse, typeUint0, typeUlong0, typeList0:
		return true
	default:
		return false
	}
}
