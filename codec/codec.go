// Package codec encodes and decodes bus messages.
//
// A message on the bus is laid out as
//
//	[uvarint kind][16-byte correlation id][JSON payload]
//
// Decoding is staged so a consumer can reject a message by kind or by
// correlation id before paying for the payload decode.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/multiformats/go-varint"

	"github.com/c360/reliabus/errors"
)

// Kind tags the payload type of a message.
type Kind uint64

// Message kinds carried on the bus. Other kinds may appear and are left to
// the consumer to ignore.
const (
	KindMultiplyRequest  Kind = 1
	KindMultiplyResponse Kind = 2
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindMultiplyRequest:
		return "multiply_request"
	case KindMultiplyResponse:
		return "multiply_response"
	default:
		return fmt.Sprintf("kind(%d)", uint64(k))
	}
}

// Payload is a typed message body.
type Payload interface {
	Kind() Kind
}

// MultiplyRequest asks the system under test to multiply two operands.
type MultiplyRequest struct {
	Value      int64 `json:"value"`
	Multiplier int64 `json:"multiplier"`
}

// Kind implements Payload
func (MultiplyRequest) Kind() Kind { return KindMultiplyRequest }

// UnmarshalJSON requires both operands to be present and not null
func (r *MultiplyRequest) UnmarshalJSON(b []byte) error {
	var wire struct {
		Value      *int64 `json:"value"`
		Multiplier *int64 `json:"multiplier"`
	}
	if err := strictUnmarshal(b, &wire); err != nil {
		return err
	}
	if wire.Value == nil || wire.Multiplier == nil {
		return fmt.Errorf("%w: value and multiplier are required", errors.ErrInvalidData)
	}
	r.Value, r.Multiplier = *wire.Value, *wire.Multiplier
	return nil
}

// MultiplyResponse carries the product computed by the system under test.
type MultiplyResponse struct {
	Result int64 `json:"result"`
}

// Kind implements Payload
func (MultiplyResponse) Kind() Kind { return KindMultiplyResponse }

// UnmarshalJSON requires the result to be present and not null
func (r *MultiplyResponse) UnmarshalJSON(b []byte) error {
	var wire struct {
		Result *int64 `json:"result"`
	}
	if err := strictUnmarshal(b, &wire); err != nil {
		return err
	}
	if wire.Result == nil {
		return fmt.Errorf("%w: result is required", errors.ErrInvalidData)
	}
	r.Result = *wire.Result
	return nil
}

// strictUnmarshal rejects unknown fields. A custom UnmarshalJSON does not
// inherit the settings of the outer decoder.
func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Encode serializes payload addressed by id.
func Encode(id uuid.UUID, payload Payload) ([]byte, error) {
	if payload == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "codec", "Encode", "nil payload")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WrapInvalid(err, "codec", "Encode", "marshal payload")
	}

	kind := varint.ToUvarint(uint64(payload.Kind()))
	out := make([]byte, 0, len(kind)+len(id)+len(body))
	out = append(out, kind...)
	out = append(out, id[:]...)
	out = append(out, body...)
	return out, nil
}

// EncodeRequest encodes a multiply request
func EncodeRequest(id uuid.UUID, req MultiplyRequest) ([]byte, error) {
	return Encode(id, req)
}

// EncodeResponse encodes a multiply response
func EncodeResponse(id uuid.UUID, resp MultiplyResponse) ([]byte, error) {
	return Encode(id, resp)
}

// DecodeKind reads the leading kind tag and returns the remaining bytes.
func DecodeKind(b []byte) (Kind, []byte, error) {
	if len(b) == 0 {
		return 0, nil, errors.WrapInvalid(errors.ErrTruncated, "codec", "DecodeKind", "read kind tag")
	}
	k, n, err := varint.FromUvarint(b)
	if err != nil {
		return 0, nil, errors.WrapInvalid(err, "codec", "DecodeKind", "read kind tag")
	}
	return Kind(k), b[n:], nil
}

// DecodeID reads the correlation id and returns the remaining bytes.
func DecodeID(b []byte) (uuid.UUID, []byte, error) {
	var id uuid.UUID
	if len(b) < len(id) {
		return uuid.Nil, nil, errors.WrapInvalid(errors.ErrTruncated, "codec", "DecodeID",
			fmt.Sprintf("read correlation id from %d bytes", len(b)))
	}
	copy(id[:], b[:len(id)])
	return id, b[len(id):], nil
}

// DecodePayload decodes the payload bytes into T. Unknown fields, missing
// fields and a null payload are rejected.
func DecodePayload[T any](b []byte) (T, error) {
	var v T
	if len(b) == 0 {
		return v, errors.WrapInvalid(errors.ErrTruncated, "codec", "DecodePayload", "read payload")
	}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return v, errors.WrapInvalid(errors.ErrInvalidData, "codec", "DecodePayload", "null payload")
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
			"codec", "DecodePayload", "unmarshal payload")
	}
	if dec.More() {
		return v, errors.WrapInvalid(errors.ErrInvalidData, "codec", "DecodePayload", "trailing data")
	}
	return v, nil
}
