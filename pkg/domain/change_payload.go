package domain

import "encoding/json"

// ChangePayload carries the before or after image of an entity touched by a
// transaction, as raw JSON. A change for a fresh append has no before image;
// the zero value distinguishes that from an image that marshalled to nothing.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload wraps raw JSON in a payload. The bytes are copied on the
// way in, so the caller may reuse its buffer. A nil slice still counts as
// defined; UndefinedChangePayload marks the absence of an image.
func NewChangePayload(raw json.RawMessage) ChangePayload {
	p := ChangePayload{defined: true}
	if raw != nil {
		p.raw = copyRaw(raw)
	}
	return p
}

// NewChangePayloadFromValue marshals a version, endorsement, or relation
// snapshot into a payload.
func NewChangePayloadFromValue[T any](value T) (ChangePayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ChangePayload{}, err
	}
	return NewChangePayload(raw), nil
}

// UndefinedChangePayload marks a change side with no image at all.
func UndefinedChangePayload() ChangePayload {
	return ChangePayload{}
}

// Defined reports whether an image was recorded for this side of the change.
func (p ChangePayload) Defined() bool {
	return p.defined
}

// IsEmpty is true for undefined payloads and for defined payloads holding no
// bytes.
func (p ChangePayload) IsEmpty() bool {
	return !p.defined || len(p.raw) == 0
}

// Raw hands out a copy of the stored JSON, or nil when there is nothing to
// hand out. The payload's own bytes never escape.
func (p ChangePayload) Raw() json.RawMessage {
	if p.IsEmpty() {
		return nil
	}
	return copyRaw(p.raw)
}

// DecodeChangePayload unmarshals the stored image into a typed value. The
// boolean reports whether a value was produced; empty payloads and decode
// failures both yield false.
func DecodeChangePayload[T any](p ChangePayload) (T, bool) {
	var value T
	if p.IsEmpty() {
		return value, false
	}
	if err := json.Unmarshal(p.raw, &value); err != nil {
		return value, false
	}
	return value, true
}

func copyRaw(raw json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
