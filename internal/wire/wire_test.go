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
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

// allOpaque classifies every tag as an opaque leaf: enough for the
// container-format tests below, which don't exercise nested messages.
func allOpaque(ctx string, t Tag) (Kind, bool) {
	return KindOpaque, true
}

func TestDecode(t *testing.T) {
	tcs := []struct {
		in        string
		wantTags  []string
		wantBytes []string
		wantErr   bool
	}{
		// No data
		{"", nil, nil, true},
		// Data too short
		{"010203", nil, nil, true},
		// No fields
		{"00000000", nil, nil, false},
		// Missing tags
		{"01000000", nil, nil, true},
		// Empty field
		{"0100000054455354", []string{"TEST"}, []string{""}, false},
		// Field length not multiple of 4
		{"0100000054455354464f4f", nil, nil, true},
		// Single field
		{"0100000054455354464f4f0a", []string{"TEST"}, []string{"FOO\n"}, false},
		// Wrong order of tags
		{"0200000004000000454747535350414d464f4f0a4241520a", nil, nil, true},
		// Two fields
		{"02000000040000005350414d45474753464f4f0a4241520a", []string{"SPAM", "EGGS"}, []string{"FOO\n", "BAR\n"}, false},
		// Wrong order of offsets
		{"0300000008000000040000005350414d4547475354455354464f4f0a4241520a", nil, nil, true},
		// Three fields
		{"0300000004000000080000005350414d4547475354455354464f4f0a4241520a", []string{"SPAM", "EGGS", "TEST"}, []string{"FOO\n", "BAR\n", ""}, false},
	}
	for _, tc := range tcs {
		msg, err := Decode(hexBytes(tc.in), allOpaque)
		if err != nil && !tc.wantErr {
			t.Errorf("Decode(%q) = %v, want nil", tc.in, err)
			continue
		}
		if err == nil && tc.wantErr {
			t.Errorf("Decode(%q) = <nil>, want error", tc.in)
			continue
		}
		if err != nil {
			continue
		}
		for i, stag := range tc.wantTags {
			v, ok := msg.Get(makeTag(stag))
			if !ok {
				t.Errorf("Decode(%q): missing tag %v", tc.in, stag)
				continue
			}
			if !bytes.Equal(v.Bytes(), []byte(tc.wantBytes[i])) {
				t.Errorf("Decode(%q).Get(%v) = %x, want %x", tc.in, stag, v.Bytes(), tc.wantBytes[i])
			}
		}
		if len(msg.Fields()) != len(tc.wantTags) {
			t.Errorf("Decode(%q) has %d fields, want %d", tc.in, len(msg.Fields()), len(tc.wantTags))
		}
	}
}

func TestEncode(t *testing.T) {
	tcs := []struct {
		inTags  []string
		inBytes []string
		want    string
	}{
		{nil, nil, "00000000"},
		{[]string{"TEST"}, []string{""}, "0100000054455354"},
		{[]string{"TEST"}, []string{"FOO\n"}, "0100000054455354464f4f0a"},
		{[]string{"SPAM", "EGGS"}, []string{"FOO\n", "BAR\n"}, "02000000040000005350414d45474753464f4f0a4241520a"},
		{[]string{"SPAM", "EGGS", "TEST"}, []string{"FOO\n", "BAR\n", ""}, "0300000004000000080000005350414d4547475354455354464f4f0a4241520a"},
	}
	for _, tc := range tcs {
		fields := make([]Field, len(tc.inTags))
		for i, stag := range tc.inTags {
			fields[i] = Field{Tag: makeTag(stag), Value: OpaqueValue([]byte(tc.inBytes[i]))}
		}
		msg, err := NewMessage(fields...)
		if err != nil {
			t.Errorf("NewMessage(%v) = %v", tc.inTags, err)
			continue
		}
		got := Encode(msg)
		if want := hexBytes(tc.want); !bytes.Equal(got, want) {
			t.Errorf("Encode(%v) = %x, want %x", tc.inTags, got, want)
		}
	}
}

func TestDuplicateTag(t *testing.T) {
	_, err := NewMessage(
		Field{Tag: makeTag("TEST"), Value: OpaqueValue(nil)},
		Field{Tag: makeTag("TEST"), Value: OpaqueValue(nil)},
	)
	if !errors.Is(err, ErrDuplicateTag) {
		t.Errorf("NewMessage with duplicate tags = %v, want ErrDuplicateTag", err)
	}
}

func TestRoundTrip(t *testing.T) {
	msg, err := NewMessage(
		Field{Tag: makeTag("EGGS"), Value: OpaqueValue([]byte("BAR\n"))},
		Field{Tag: makeTag("SPAM"), Value: OpaqueValue([]byte("FOO\n"))},
	)
	if err != nil {
		t.Fatal(err)
	}
	encoded := Encode(msg)
	decoded, err := Decode(encoded, allOpaque)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(Encode(decoded), encoded) {
		t.Errorf("decode(encode(m)) did not re-encode to the same bytes")
	}
}

func TestNestedMessage(t *testing.T) {
	inner, err := NewMessage(Field{Tag: makeTag("PUBK"), Value: OpaqueValue(make([]byte, 32))})
	if err != nil {
		t.Fatal(err)
	}
	outer, err := NewMessage(Field{Tag: makeTag("DELE"), Value: NestedValue(inner)})
	if err != nil {
		t.Fatal(err)
	}
	classify := func(ctx string, t Tag) (Kind, bool) {
		if ctx == "" && t == makeTag("DELE") {
			return KindNested, true
		}
		return KindOpaque, true
	}
	encoded := Encode(outer)
	decoded, err := Decode(encoded, classify)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	v, ok := decoded.Get(makeTag("DELE"))
	if !ok || !v.IsNested() {
		t.Fatalf("decoded message missing nested DELE")
	}
	if _, ok := v.Nested().Get(makeTag("PUBK")); !ok {
		t.Errorf("nested DELE missing PUBK")
	}
}

func hexBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func makeTag(s string) Tag {
	if len(s) != 4 {
		panic("invalid tag")
	}
	return MakeTag(s)
}
