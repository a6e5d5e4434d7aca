// Copyright 2018 Axel Wagner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Sentinel errors returned by Decode. Callers match them with errors.Is;
// the returned error additionally wraps context via fmt.Errorf("...: %w").
var (
	ErrMessageTooShort = errors.New("wire: message too short")
	ErrBadOffset       = errors.New("wire: offset out of range or out of order")
	ErrUnsortedTags    = errors.New("wire: tags not in ascending order")
	ErrDuplicateTag    = errors.New("wire: duplicate tag")
	ErrUnknownTag      = errors.New("wire: unknown tag")
	ErrBadFieldLength  = errors.New("wire: field length not a multiple of 4")
	ErrBadTagWidth     = errors.New("wire: integer field is neither 4 nor 8 bytes")
	ErrRoundTrip       = errors.New("wire: decoded message does not re-encode to its input")
)

// Kind distinguishes an opaque byte payload from a nested sub-message.
type Kind int

const (
	// KindOpaque values are stored and transmitted as-is.
	KindOpaque Kind = iota
	// KindNested values are themselves a Message, recursively encoded.
	KindNested
)

// Classifier tells the decoder, for a tag encountered while decoding the
// message nested at ctx (the empty string at the top level, or the String()
// of the enclosing tag otherwise), whether that tag is known and whether it
// holds an opaque payload or a nested message. This is the "static table
// keyed by tag key and nesting context" the wire format calls for: the
// roughtime package supplies one, this package has no built-in knowledge of
// Roughtime's tag set.
type Classifier func(ctx string, t Tag) (kind Kind, ok bool)

// Value is the payload of a single field: either opaque bytes or a nested
// Message, never both.
type Value struct {
	bytes  []byte
	nested *Message
}

// OpaqueValue wraps a byte slice whose length must be a multiple of 4.
func OpaqueValue(b []byte) Value {
	if len(b)%4 != 0 {
		panic("wire: opaque value length not a multiple of 4")
	}
	return Value{bytes: b}
}

// Uint32Value encodes v as a 4-byte little-endian opaque value.
func Uint32Value(v uint32) Value {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return Value{bytes: b[:]}
}

// Uint64Value encodes v as an 8-byte little-endian opaque value.
func Uint64Value(v uint64) Value {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return Value{bytes: b[:]}
}

// NestedValue wraps a sub-message.
func NestedValue(m *Message) Value {
	return Value{nested: m}
}

// IsNested reports whether the value holds a sub-message.
func (v Value) IsNested() bool { return v.nested != nil }

// Bytes returns the opaque payload. It panics if v is a nested value -
// callers are expected to have classified the tag already.
func (v Value) Bytes() []byte {
	if v.nested != nil {
		panic("wire: Bytes called on a nested value")
	}
	return v.bytes
}

// Nested returns the sub-message. It panics if v is an opaque value.
func (v Value) Nested() *Message {
	if v.nested == nil {
		panic("wire: Nested called on an opaque value")
	}
	return v.nested
}

// ToInt decodes an opaque value as a little-endian uint32 or uint64,
// depending on its length. Any other length is BadTagWidth.
func (v Value) ToInt() (uint64, error) {
	switch len(v.bytes) {
	case 4:
		return uint64(binary.LittleEndian.Uint32(v.bytes)), nil
	case 8:
		return binary.LittleEndian.Uint64(v.bytes), nil
	default:
		return 0, fmt.Errorf("%w: length %d", ErrBadTagWidth, len(v.bytes))
	}
}

func (v Value) len() int {
	if v.nested != nil {
		return v.nested.encodedLen()
	}
	return len(v.bytes)
}

// Field is a single (tag, value) pair of a Message.
type Field struct {
	Tag   Tag
	Value Value
}

// Message is an ordered list of fields with unique tags. The zero value is
// an empty message.
type Message struct {
	fields []Field
}

// NewMessage builds a Message out of fields, which may be given in any
// order: Encode always emits them sorted ascending by Tag. It is an error
// to pass the same tag twice.
func NewMessage(fields ...Field) (*Message, error) {
	m := &Message{fields: append([]Field(nil), fields...)}
	seen := make(map[Tag]bool, len(fields))
	for _, f := range m.fields {
		if seen[f.Tag] {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateTag, f.Tag)
		}
		seen[f.Tag] = true
	}
	sortFields(m.fields)
	return m, nil
}

func sortFields(f []Field) {
	// Insertion sort: Roughtime messages carry at most a handful of fields,
	// so the simplicity outweighs any asymptotic concern.
	for i := 1; i < len(f); i++ {
		for j := i; j > 0 && f[j-1].Tag > f[j].Tag; j-- {
			f[j-1], f[j] = f[j], f[j-1]
		}
	}
}

// Get returns the value stored under t, if present.
func (m *Message) Get(t Tag) (Value, bool) {
	for _, f := range m.fields {
		if f.Tag == t {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Fields returns the message's fields in ascending tag order.
func (m *Message) Fields() []Field {
	return m.fields
}

func (m *Message) encodedLen() int {
	n := len(m.fields)
	total := 4 + 4*max(n-1, 0) + 4*n
	for _, f := range m.fields {
		total += f.Value.len()
	}
	return total
}

// Encode serializes m: a 4-byte tag count, n-1 cumulative offsets, n tag
// keys, then the concatenated values, per the Roughtime container format.
func Encode(m *Message) []byte {
	buf := make([]byte, m.encodedLen())
	encodeInto(buf, m)
	return buf
}

func encodeInto(buf []byte, m *Message) {
	n := uint32(len(m.fields))
	binary.LittleEndian.PutUint32(buf, n)
	hdr := buf[:8*n]
	body := buf[8*n:]
	offset := uint32(0)
	for i, f := range m.fields {
		if i > 0 {
			binary.LittleEndian.PutUint32(hdr[4*uint32(i):], offset)
		}
		binary.LittleEndian.PutUint32(hdr[4*n+4*uint32(i):], uint32(f.Tag))
		l := uint32(f.Value.len())
		if f.Value.IsNested() {
			encodeInto(body[offset:offset+l], f.Value.Nested())
		} else {
			copy(body[offset:offset+l], f.Value.Bytes())
		}
		offset += l
	}
}

// Decode parses buf as a top-level message, classifying tags with classify.
// It enforces: value lengths are multiples of 4, tags are unique and
// strictly ascending, every tag is known to classify, and the decoded
// message re-encodes to exactly buf (the format's structural checksum).
func Decode(buf []byte, classify Classifier) (*Message, error) {
	return decodeMessage(buf, "", classify)
}

func decodeMessage(buf []byte, ctx string, classify Classifier) (*Message, error) {
	if len(buf) < 4 {
		return nil, ErrMessageTooShort
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d", ErrBadFieldLength, len(buf))
	}
	n := binary.LittleEndian.Uint32(buf)
	if uint64(n)*8 > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: %d tags in %d-byte message", ErrMessageTooShort, n, len(buf))
	}
	hdr := buf[:8*n]
	body := buf[8*n:]

	fields := make([]Field, n)
	var lastTag Tag
	var lastOffset uint32
	for i := uint32(0); i < n; i++ {
		tag := Tag(binary.LittleEndian.Uint32(hdr[4*n+4*i:]))
		if i > 0 && tag == lastTag {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateTag, tag)
		}
		if i > 0 && tag < lastTag {
			return nil, fmt.Errorf("%w: %v after %v", ErrUnsortedTags, tag, lastTag)
		}
		start := uint32(0)
		if i > 0 {
			start = lastOffset
		}
		end := uint32(len(body))
		if i+1 < n {
			end = binary.LittleEndian.Uint32(hdr[4*(i+1):])
		}
		if end < start || end > uint32(len(body)) {
			return nil, fmt.Errorf("%w: tag %v, [%d,%d) in %d-byte body", ErrBadOffset, tag, start, end, len(body))
		}
		if (end-start)%4 != 0 {
			return nil, fmt.Errorf("%w: tag %v, length %d", ErrBadFieldLength, tag, end-start)
		}
		raw := body[start:end]

		kind, ok := classify(ctx, tag)
		if !ok {
			return nil, fmt.Errorf("%w: %v in context %q", ErrUnknownTag, tag, ctx)
		}
		var val Value
		switch kind {
		case KindNested:
			sub, err := decodeMessage(raw, tag.String(), classify)
			if err != nil {
				return nil, fmt.Errorf("decoding nested %v: %w", tag, err)
			}
			val = NestedValue(sub)
		default:
			val = OpaqueValue(raw)
		}
		fields[i] = Field{Tag: tag, Value: val}

		lastTag = tag
		if i+1 < n {
			lastOffset = binary.LittleEndian.Uint32(hdr[4*(i+1):])
		}
	}

	m := &Message{fields: fields}
	if got := Encode(m); !bytesEqual(got, buf) {
		return nil, ErrRoundTrip
	}
	return m, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
