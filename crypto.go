package roughtime

import (
	"crypto/rand"
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/ed25519"
)

// Signature contexts, prepended to the payload before signing or verifying
// so that a CERT signature can never be replayed as an SREP signature or
// vice versa. Byte-for-byte, including the trailing terminators, these
// values are part of the wire protocol.
var (
	certContext = []byte("RoughTime v1 delegation signature--\x00")
	respContext = []byte("RoughTime v1 response signature\x00")
)

// generateKeypair returns a fresh Ed25519 keypair using a CSPRNG.
func generateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// randomBytes returns n cryptographically random bytes.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// hashLeaf computes a Merkle leaf hash: SHA-512(0x00 || nonce).
func hashLeaf(nonce []byte) [64]byte {
	return hashPrefixed(0x00, nonce)
}

// hashNode computes a Merkle internal-node hash: SHA-512(0x01 || l || r).
func hashNode(l, r [64]byte) [64]byte {
	h := sha512.New()
	h.Write([]byte{0x01})
	h.Write(l[:])
	h.Write(r[:])
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

func hashPrefixed(prefix byte, b []byte) [64]byte {
	h := sha512.New()
	h.Write([]byte{prefix})
	h.Write(b)
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// deriveNonce computes sha512(prevReply || blind), the chained nonce a
// client sends with its next query.
func deriveNonce(prevReply, blind []byte) []byte {
	h := sha512.New()
	h.Write(prevReply)
	h.Write(blind)
	return h.Sum(nil)
}
