package roughtime

import (
	"fmt"
	"time"

	"github.com/axwalt/roughtime/internal/wire"
)

// Delegation is the DELE sub-message: a short-lived public key and its
// validity window, to be signed by a long-term key.
type Delegation struct {
	Min       time.Time
	Max       time.Time
	PublicKey [32]byte
}

func (d Delegation) toMessage() (*wire.Message, error) {
	return wire.NewMessage(
		wire.Field{Tag: tagMINT, Value: wire.Uint64Value(microsFromTime(d.Min))},
		wire.Field{Tag: tagMAXT, Value: wire.Uint64Value(microsFromTime(d.Max))},
		wire.Field{Tag: tagPUBK, Value: wire.OpaqueValue(d.PublicKey[:])},
	)
}

func delegationFromMessage(m *wire.Message) (Delegation, error) {
	var d Delegation
	mint, ok := m.Get(tagMINT)
	if !ok {
		return d, fmt.Errorf("%w: MINT", ErrMissingTag)
	}
	maxt, ok := m.Get(tagMAXT)
	if !ok {
		return d, fmt.Errorf("%w: MAXT", ErrMissingTag)
	}
	pubk, ok := m.Get(tagPUBK)
	if !ok {
		return d, fmt.Errorf("%w: PUBK", ErrMissingTag)
	}
	if len(pubk.Bytes()) != 32 {
		return d, fmt.Errorf("roughtime: PUBK is %d bytes, want 32", len(pubk.Bytes()))
	}
	minV, err := mint.ToInt()
	if err != nil {
		return d, fmt.Errorf("MINT: %w", err)
	}
	maxV, err := maxt.ToInt()
	if err != nil {
		return d, fmt.Errorf("MAXT: %w", err)
	}
	d.Min = timeFromMicros(minV)
	d.Max = timeFromMicros(maxV)
	copy(d.PublicKey[:], pubk.Bytes())
	return d, nil
}

// Certificate is the CERT message: a Delegation plus the long-term
// signature over it.
type Certificate struct {
	Signature  [64]byte
	Delegation Delegation
}

func (c Certificate) toMessage() (*wire.Message, error) {
	dele, err := c.Delegation.toMessage()
	if err != nil {
		return nil, err
	}
	return wire.NewMessage(
		wire.Field{Tag: tagSIG, Value: wire.OpaqueValue(c.Signature[:])},
		wire.Field{Tag: tagDELE, Value: wire.NestedValue(dele)},
	)
}

func certificateFromMessage(m *wire.Message) (Certificate, error) {
	var c Certificate
	sig, ok := m.Get(tagSIG)
	if !ok {
		return c, fmt.Errorf("%w: CERT.SIG", ErrMissingTag)
	}
	if len(sig.Bytes()) != 64 {
		return c, fmt.Errorf("roughtime: CERT.SIG is %d bytes, want 64", len(sig.Bytes()))
	}
	dele, ok := m.Get(tagDELE)
	if !ok {
		return c, fmt.Errorf("%w: DELE", ErrMissingTag)
	}
	delegation, err := delegationFromMessage(dele.Nested())
	if err != nil {
		return c, err
	}
	copy(c.Signature[:], sig.Bytes())
	c.Delegation = delegation
	return c, nil
}

// Encode serializes the CERT message. It is exactly 152 bytes for a
// well-formed certificate, per the wire format's fixed field widths.
func (c Certificate) Encode() ([]byte, error) {
	m, err := c.toMessage()
	if err != nil {
		return nil, err
	}
	return wire.Encode(m), nil
}

// DecodeCertificate parses a standalone CERT message, such as one loaded
// from an operator's on-disk delegate file.
func DecodeCertificate(buf []byte) (Certificate, error) {
	m, err := wire.Decode(buf, func(ctx string, t wire.Tag) (wire.Kind, bool) {
		return schema("CERT", t)
	})
	if err != nil {
		return Certificate{}, err
	}
	return certificateFromMessage(m)
}

// SignedResponse is the SREP sub-message.
type SignedResponse struct {
	Root     [64]byte
	Midpoint time.Time
	Radius   time.Duration
}

func (s SignedResponse) toMessage() (*wire.Message, error) {
	return wire.NewMessage(
		wire.Field{Tag: tagRADI, Value: wire.Uint32Value(uint32(s.Radius / time.Microsecond))},
		wire.Field{Tag: tagMIDP, Value: wire.Uint64Value(microsFromTime(s.Midpoint))},
		wire.Field{Tag: tagROOT, Value: wire.OpaqueValue(s.Root[:])},
	)
}

func signedResponseFromMessage(m *wire.Message) (SignedResponse, error) {
	var s SignedResponse
	radi, ok := m.Get(tagRADI)
	if !ok {
		return s, fmt.Errorf("%w: RADI", ErrMissingTag)
	}
	midp, ok := m.Get(tagMIDP)
	if !ok {
		return s, fmt.Errorf("%w: MIDP", ErrMissingTag)
	}
	root, ok := m.Get(tagROOT)
	if !ok {
		return s, fmt.Errorf("%w: ROOT", ErrMissingTag)
	}
	if len(root.Bytes()) != 64 {
		return s, fmt.Errorf("roughtime: ROOT is %d bytes, want 64", len(root.Bytes()))
	}
	radiV, err := radi.ToInt()
	if err != nil {
		return s, fmt.Errorf("RADI: %w", err)
	}
	midpV, err := midp.ToInt()
	if err != nil {
		return s, fmt.Errorf("MIDP: %w", err)
	}
	s.Radius = time.Duration(radiV) * time.Microsecond
	s.Midpoint = timeFromMicros(midpV)
	copy(s.Root[:], root.Bytes())
	return s, nil
}

// Reply is the full message a server sends back to a client.
type Reply struct {
	Signature      [64]byte
	Path           [][64]byte
	SignedResponse SignedResponse
	Certificate    Certificate
	Index          uint32
}

func (r Reply) toMessage() (*wire.Message, error) {
	srep, err := r.SignedResponse.toMessage()
	if err != nil {
		return nil, err
	}
	cert, err := r.Certificate.toMessage()
	if err != nil {
		return nil, err
	}
	path := make([]byte, 0, 64*len(r.Path))
	for _, h := range r.Path {
		path = append(path, h[:]...)
	}
	return wire.NewMessage(
		wire.Field{Tag: tagSIG, Value: wire.OpaqueValue(r.Signature[:])},
		wire.Field{Tag: tagPATH, Value: wire.OpaqueValue(path)},
		wire.Field{Tag: tagSREP, Value: wire.NestedValue(srep)},
		wire.Field{Tag: tagCERT, Value: wire.NestedValue(cert)},
		wire.Field{Tag: tagINDX, Value: wire.Uint32Value(r.Index)},
	)
}

// Encode serializes the reply message.
func (r Reply) Encode() ([]byte, error) {
	m, err := r.toMessage()
	if err != nil {
		return nil, err
	}
	return wire.Encode(m), nil
}

// DecodeReply parses a server's reply datagram.
func DecodeReply(buf []byte) (Reply, error) {
	var r Reply
	m, err := wire.Decode(buf, schema)
	if err != nil {
		return r, err
	}
	sig, ok := m.Get(tagSIG)
	if !ok {
		return r, fmt.Errorf("%w: SIG", ErrMissingTag)
	}
	if len(sig.Bytes()) != 64 {
		return r, fmt.Errorf("roughtime: SIG is %d bytes, want 64", len(sig.Bytes()))
	}
	pathField, ok := m.Get(tagPATH)
	if !ok {
		return r, fmt.Errorf("%w: PATH", ErrMissingTag)
	}
	path, err := splitPath(pathField.Bytes())
	if err != nil {
		return r, err
	}
	srep, ok := m.Get(tagSREP)
	if !ok {
		return r, fmt.Errorf("%w: SREP", ErrMissingTag)
	}
	signedResponse, err := signedResponseFromMessage(srep.Nested())
	if err != nil {
		return r, err
	}
	cert, ok := m.Get(tagCERT)
	if !ok {
		return r, fmt.Errorf("%w: CERT", ErrMissingTag)
	}
	certificate, err := certificateFromMessage(cert.Nested())
	if err != nil {
		return r, err
	}
	indx, ok := m.Get(tagINDX)
	if !ok {
		return r, fmt.Errorf("%w: INDX", ErrMissingTag)
	}
	indxV, err := indx.ToInt()
	if err != nil {
		return r, fmt.Errorf("INDX: %w", err)
	}

	copy(r.Signature[:], sig.Bytes())
	r.Path = path
	r.SignedResponse = signedResponse
	r.Certificate = certificate
	r.Index = uint32(indxV)
	return r, nil
}

// splitPath validates and splits a PATH field's bytes into 64-byte hashes.
// The wire format allows at most 32 hashes (a tree depth of 32).
func splitPath(b []byte) ([][64]byte, error) {
	if len(b)%64 != 0 {
		return nil, fmt.Errorf("%w: length %d not a multiple of 64", ErrBadPath, len(b))
	}
	if len(b)/64 > 32 {
		return nil, fmt.Errorf("%w: %d hashes exceeds the maximum of 32", ErrBadPath, len(b)/64)
	}
	path := make([][64]byte, len(b)/64)
	for i := range path {
		copy(path[i][:], b[i*64:(i+1)*64])
	}
	return path, nil
}

// EncodeRequest builds and pads a client request carrying nonce.
func EncodeRequest(nonce [64]byte) ([]byte, error) {
	m, err := wire.NewMessage(
		wire.Field{Tag: tagNONC, Value: wire.OpaqueValue(nonce[:])},
	)
	if err != nil {
		return nil, err
	}
	return addPadding(m)
}

// DecodeRequest parses a client request datagram and returns its nonce.
// It does not itself enforce the ≥1024-byte minimum; callers that accept
// requests from the network (the server) must check that separately so
// the check happens before any parsing work is done.
func DecodeRequest(buf []byte) ([64]byte, error) {
	var nonce [64]byte
	m, err := wire.Decode(buf, schema)
	if err != nil {
		return nonce, err
	}
	v, ok := m.Get(tagNONC)
	if !ok {
		return nonce, fmt.Errorf("%w: NONC", ErrMissingTag)
	}
	if len(v.Bytes()) != 64 {
		return nonce, fmt.Errorf("roughtime: NONC is %d bytes, want 64", len(v.Bytes()))
	}
	copy(nonce[:], v.Bytes())
	return nonce, nil
}

// addPadding appends a PAD field, if necessary, so the encoded message is
// exactly 1024 bytes. It is a no-op if m already encodes to ≥1024 bytes.
func addPadding(m *wire.Message) ([]byte, error) {
	encoded := wire.Encode(m)
	if len(encoded) >= 1024 {
		return encoded, nil
	}
	padded, err := wire.NewMessage(append(m.Fields(),
		wire.Field{Tag: tagPAD, Value: wire.OpaqueValue(make([]byte, 1016-len(encoded)))},
	)...)
	if err != nil {
		return nil, err
	}
	return wire.Encode(padded), nil
}

// microsFromTime converts t to microseconds since the Unix epoch.
func microsFromTime(t time.Time) uint64 {
	return uint64(t.UnixMicro())
}

// timeFromMicros converts microseconds since the Unix epoch back to a
// time.Time.
func timeFromMicros(v uint64) time.Time {
	return time.UnixMicro(int64(v)).UTC()
}
