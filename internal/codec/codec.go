// Package codec encodes and decodes SASL frames.
//
// A SASL frame is an AMQP 1.0 frame whose type is [FrameTypeSASL] and whose
// body is one of the five SASL performatives, each one a described list.
// Before any frame, each peer writes the 8-byte [Header].
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ooni/minisasl/internal/model"
)

var (
	// ErrEncode indicates we cannot encode a frame body.
	ErrEncode = errors.New("sasl codec: cannot encode")

	// ErrDecode indicates we cannot decode a frame body.
	ErrDecode = errors.New("sasl codec: cannot decode")

	// ErrUnknownBody indicates a well-formed body whose descriptor is not a SASL performative.
	ErrUnknownBody = errors.New("sasl codec: unknown body")

	// ErrBadFrameHeader indicates an invalid frame header.
	ErrBadFrameHeader = errors.New("sasl codec: bad frame header")
)

// Header is the protocol header announcing the SASL layer: "AMQP", protocol-id 3, version 1.0.0.
var Header = []byte{'A', 'M', 'Q', 'P', 0x03, 0x01, 0x00, 0x00}

const (
	// FrameTypeSASL is the frame type used by SASL frames.
	FrameTypeSASL = 0x01

	// FrameHeaderSize is the size of the fixed frame header.
	FrameHeaderSize = 8

	// MinMaxFrameSize is the smallest max frame size a peer may use, which is
	// also the largest SASL frame a peer must accept.
	MinMaxFrameSize = 512
)

// symbolic descriptors are also legal on the wire.
var symbolicDescriptors = map[symbol]model.BodyCode{
	"amqp:sasl-mechanisms:list": model.CodeMechanisms,
	"amqp:sasl-init:list":       model.CodeInit,
	"amqp:sasl-challenge:list":  model.CodeChallenge,
	"amqp:sasl-response:list":   model.CodeResponse,
	"amqp:sasl-outcome:list":    model.CodeOutcome,
}

// SASL implements the frame encoder and decoder for SASL frames. The zero
// value is ready to use.
type SASL struct{}

// EncodeFrame serializes body into a complete SASL frame.
func (SASL) EncodeFrame(body model.FrameBody) ([]byte, error) {
	encoded, err := EncodeBody(body)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, FrameHeaderSize, FrameHeaderSize+len(encoded))
	binary.BigEndian.PutUint32(frame[0:4], uint32(FrameHeaderSize+len(encoded)))
	frame[4] = FrameHeaderSize / 4 // data offset in 4-byte words
	frame[5] = FrameTypeSASL
	// bytes 6 and 7 are the channel, ignored for SASL frames
	return append(frame, encoded...), nil
}

// DecodeFrame parses a complete SASL frame and returns the body and any
// payload bytes following the body inside the frame.
func (SASL) DecodeFrame(frame []byte) (model.FrameBody, []byte, error) {
	if len(frame) < FrameHeaderSize {
		return nil, nil, fmt.Errorf("%w: frame too short", ErrBadFrameHeader)
	}
	size := binary.BigEndian.Uint32(frame[0:4])
	if uint64(size) != uint64(len(frame)) {
		return nil, nil, fmt.Errorf("%w: size %d does not match %d bytes", ErrBadFrameHeader, size, len(frame))
	}
	doff := int(frame[4]) * 4
	if doff < FrameHeaderSize || doff > len(frame) {
		return nil, nil, fmt.Errorf("%w: bad data offset %d", ErrBadFrameHeader, frame[4])
	}
	if frame[5] != FrameTypeSASL {
		return nil, nil, fmt.Errorf("%w: frame type 0x%02x is not SASL", ErrBadFrameHeader, frame[5])
	}
	if doff == len(frame) {
		return nil, nil, fmt.Errorf("%w: empty SASL frame", ErrDecode)
	}
	return DecodeBody(frame[doff:])
}

// EncodeBody serializes a SASL frame body.
func EncodeBody(body model.FrameBody) ([]byte, error) {
	var fields [][]byte
	var err error
	switch b := body.(type) {
	case *model.Mechanisms:
		fields, err = mechanismsFields(b)
	case *model.Init:
		fields, err = initFields(b)
	case *model.Challenge:
		fields, err = binaryFields(b.Challenge)
	case *model.Response:
		fields, err = binaryFields(b.Response)
	case *model.OutcomeBody:
		fields, err = outcomeFields(b)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownBody, body)
	}
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if err := writeDescribedList(buf, uint64(body.Code()), trimNulls(fields)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// field runs fx against a fresh buffer and returns the encoded bytes.
func field(fx func(buf *bytes.Buffer) error) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := fx(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var nullField = []byte{typeNull}

// trimNulls removes trailing null fields, which the encoding allows to omit.
func trimNulls(fields [][]byte) [][]byte {
	for len(fields) > 0 && bytes.Equal(fields[len(fields)-1], nullField) {
		fields = fields[:len(fields)-1]
	}
	return fields
}

func mechanismsFields(b *model.Mechanisms) ([][]byte, error) {
	if len(b.Mechanisms) == 0 {
		return nil, fmt.Errorf("%w: sasl-mechanisms needs at least one mechanism", ErrEncode)
	}
	f, err := field(func(buf *bytes.Buffer) error {
		if len(b.Mechanisms) == 1 {
			return writeSymbol(buf, b.Mechanisms[0])
		}
		return writeSymbolArray(buf, b.Mechanisms)
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{f}, nil
}

func initFields(b *model.Init) ([][]byte, error) {
	if b.Mechanism == "" {
		return nil, fmt.Errorf("%w: sasl-init needs a mechanism", ErrEncode)
	}
	mech, err := field(func(buf *bytes.Buffer) error { return writeSymbol(buf, b.Mechanism) })
	if err != nil {
		return nil, err
	}
	resp := nullField
	if b.InitialResponse != nil {
		if resp, err = field(func(buf *bytes.Buffer) error { return writeBinary(buf, b.InitialResponse) }); err != nil {
			return nil, err
		}
	}
	host := nullField
	if b.Hostname != "" {
		if host, err = field(func(buf *bytes.Buffer) error { return writeString(buf, b.Hostname) }); err != nil {
			return nil, err
		}
	}
	return [][]byte{mech, resp, host}, nil
}

func binaryFields(data []byte) ([][]byte, error) {
	if data == nil {
		data = []byte{}
	}
	f, err := field(func(buf *bytes.Buffer) error { return writeBinary(buf, data) })
	if err != nil {
		return nil, err
	}
	return [][]byte{f}, nil
}

func outcomeFields(b *model.OutcomeBody) ([][]byte, error) {
	if !b.Outcome.IsValidCode() {
		return nil, fmt.Errorf("%w: outcome %s has no code", ErrEncode, b.Outcome)
	}
	code, _ := field(func(buf *bytes.Buffer) error {
		writeUbyte(buf, uint8(b.Outcome))
		return nil
	})
	extra := nullField
	if b.AdditionalData != nil {
		var err error
		if extra, err = field(func(buf *bytes.Buffer) error { return writeBinary(buf, b.AdditionalData) }); err != nil {
			return nil, err
		}
	}
	return [][]byte{code, extra}, nil
}

// DecodeBody parses a SASL frame body and returns the body and the bytes
// following it.
func DecodeBody(data []byte) (model.FrameBody, []byte, error) {
	buf := bytes.NewBuffer(data)
	value, err := readValue(buf)
	if err != nil {
		return nil, nil, err
	}
	desc, ok := value.(*described)
	if !ok {
		return nil, nil, fmt.Errorf("%w: body is not a described type", ErrDecode)
	}
	code, err := bodyCode(desc.descriptor)
	if err != nil {
		return nil, nil, err
	}
	fields, ok := desc.value.([]any)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s body is not a list", ErrDecode, code)
	}
	body, err := bodyFromFields(code, fields)
	if err != nil {
		return nil, nil, err
	}
	return body, buf.Bytes(), nil
}

func bodyCode(descriptor any) (model.BodyCode, error) {
	switch d := descriptor.(type) {
	case uint64:
		code := model.BodyCode(d)
		if code < model.CodeMechanisms || code > model.CodeOutcome {
			return 0, fmt.Errorf("%w: descriptor 0x%x", ErrUnknownBody, d)
		}
		return code, nil
	case symbol:
		code, found := symbolicDescriptors[d]
		if !found {
			return 0, fmt.Errorf("%w: descriptor %q", ErrUnknownBody, string(d))
		}
		return code, nil
	default:
		return 0, fmt.Errorf("%w: unexpected descriptor type %T", ErrDecode, descriptor)
	}
}

// fieldAt returns the i-th field or nil when the list is shorter.
func fieldAt(fields []any, i int) any {
	if i < len(fields) {
		return fields[i]
	}
	return nil
}

func bodyFromFields(code model.BodyCode, fields []any) (model.FrameBody, error) {
	switch code {
	case model.CodeMechanisms:
		mechs, err := symbols(fieldAt(fields, 0))
		if err != nil {
			return nil, err
		}
		return &model.Mechanisms{Mechanisms: mechs}, nil

	case model.CodeInit:
		mech, ok := fieldAt(fields, 0).(symbol)
		if !ok {
			return nil, fmt.Errorf("%w: sasl-init without mechanism", ErrDecode)
		}
		resp, err := optionalBinary(fieldAt(fields, 1))
		if err != nil {
			return nil, err
		}
		var host string
		switch h := fieldAt(fields, 2).(type) {
		case nil:
		case string:
			host = h
		default:
			return nil, fmt.Errorf("%w: sasl-init hostname has type %T", ErrDecode, h)
		}
		return &model.Init{Mechanism: string(mech), InitialResponse: resp, Hostname: host}, nil

	case model.CodeChallenge:
		data, ok := fieldAt(fields, 0).([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: sasl-challenge without challenge", ErrDecode)
		}
		return &model.Challenge{Challenge: data}, nil

	case model.CodeResponse:
		data, ok := fieldAt(fields, 0).([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: sasl-response without response", ErrDecode)
		}
		return &model.Response{Response: data}, nil

	case model.CodeOutcome:
		raw, ok := fieldAt(fields, 0).(uint8)
		if !ok {
			return nil, fmt.Errorf("%w: sasl-outcome without code", ErrDecode)
		}
		outcome := model.Outcome(raw)
		if !outcome.IsValidCode() {
			return nil, fmt.Errorf("%w: sasl-outcome code %d", ErrDecode, raw)
		}
		extra, err := optionalBinary(fieldAt(fields, 1))
		if err != nil {
			return nil, err
		}
		return &model.OutcomeBody{Outcome: outcome, AdditionalData: extra}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBody, code)
	}
}

func optionalBinary(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	default:
		return nil, fmt.Errorf("%w: expected binary, got %T", ErrDecode, v)
	}
}

// symbols decodes a multiple symbol field: either one symbol or an array of them.
func symbols(v any) ([]string, error) {
	switch s := v.(type) {
	case symbol:
		return []string{string(s)}, nil
	case []any:
		if len(s) == 0 {
			return nil, fmt.Errorf("%w: empty mechanism list", ErrDecode)
		}
		out := make([]string, 0, len(s))
		for _, e := range s {
			sym, ok := e.(symbol)
			if !ok {
				return nil, fmt.Errorf("%w: mechanism has type %T", ErrDecode, e)
			}
			out = append(out, string(sym))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: sasl-mechanisms without mechanisms", ErrDecode)
	}
}
