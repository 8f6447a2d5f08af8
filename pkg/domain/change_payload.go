package domain

import (
	"bytes"
	"encoding/json"
)

// ChangePayload wraps the ledger encoding of a record before or after a
// change. An undefined payload means the record did not exist on that side.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload builds a payload from raw ledger bytes. The bytes are
// cloned so later writes to the caller's buffer cannot leak in.
func NewChangePayload(raw []byte) ChangePayload {
	payload := ChangePayload{defined: true}
	if raw != nil {
		payload.raw = bytes.Clone(raw)
	}
	return payload
}

// NewChangePayloadFromValue marshals a typed record into a ChangePayload.
func NewChangePayloadFromValue[T any](value T) (ChangePayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ChangePayload{}, err
	}
	return NewChangePayload(raw), nil
}

// UndefinedChangePayload returns the payload of a record that did not exist.
func UndefinedChangePayload() ChangePayload {
	return ChangePayload{}
}

// Defined reports whether the payload has been initialized.
func (p ChangePayload) Defined() bool {
	return p.defined
}

// IsEmpty reports whether the payload contains no bytes.
func (p ChangePayload) IsEmpty() bool {
	return !p.defined || len(p.raw) == 0
}

// Raw returns a copy of the underlying bytes, or nil when undefined or empty.
func (p ChangePayload) Raw() json.RawMessage {
	if p.IsEmpty() {
		return nil
	}
	return bytes.Clone(p.raw)
}

// DecodeChangePayload decodes a payload into a typed record. It reports false
// for undefined, empty, or undecodable payloads.
func DecodeChangePayload[T any](p ChangePayload) (T, bool) {
	var out T
	if p.IsEmpty() {
		return out, false
	}
	if err := json.Unmarshal(p.raw, &out); err != nil {
		return out, false
	}
	return out, true
}
