package roughtime

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"
)

func startTestServer(t *testing.T) (host string, port int, longPub ed25519.PublicKey, stop func()) {
	t.Helper()
	srv, pub := newTestServer(t)
	require.NoError(t, srv.Start("127.0.0.1", 0))
	addr := srv.Addr().(*net.UDPAddr)
	return "127.0.0.1", addr.Port, pub, srv.Stop
}

func TestClientQueryEndToEnd(t *testing.T) {
	host, port, pub, stop := startTestServer(t)
	defer stop()

	client := NewClient(8, nil, nil)
	result, err := client.Query(context.Background(), host, port, pub, 2*time.Second)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), result.Midpoint, time.Minute)

	got := client.PreviousReplies()
	require.Len(t, got, 1)
}

func TestClientSequentialQueriesPassCausalityAudit(t *testing.T) {
	host, port, pub, stop := startTestServer(t)
	defer stop()

	client := NewClient(8, nil, nil)
	for i := 0; i < 3; i++ {
		_, err := client.Query(context.Background(), host, port, pub, 2*time.Second)
		require.NoErrorf(t, err, "query #%d", i)
	}
	assert.Empty(t, client.VerifyReplies(), "VerifyReplies should report no violations among a server's own consistent replies")
}

func TestDeriveNonceHashesEvenWithEmptyPrev(t *testing.T) {
	// A fresh Client's first query has no history, so deriveNonce must
	// still run blind through SHA-512 with an empty (not omitted)
	// prevReplyBytes, rather than a caller shortcutting to the raw blind.
	blind := make([]byte, 64)
	for i := range blind {
		blind[i] = byte(i)
	}
	sum := sha512.Sum512(blind)
	assert.Equal(t, sum[:], deriveNonce(nil, blind))
	assert.NotEqual(t, blind, deriveNonce(nil, blind))
}

func TestClientQueryRejectsWrongServerKey(t *testing.T) {
	host, port, _, stop := startTestServer(t)
	defer stop()

	_, wrongPub, err := GenerateLongTermKeypair()
	require.NoError(t, err)
	client := NewClient(8, nil, nil)
	_, err = client.Query(context.Background(), host, port, wrongPub, 500*time.Millisecond)
	assert.ErrorIs(t, err, ErrBadDelegationSignature)
}

func TestClientQueryTimesOutAgainstDeadServer(t *testing.T) {
	// Bind a UDP socket that never replies, to exercise the timeout path.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)

	_, pub, err := GenerateLongTermKeypair()
	require.NoError(t, err)
	client := NewClient(8, nil, nil)
	_, err = client.Query(context.Background(), "127.0.0.1", addr.Port, pub, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestVerifyReplyRejectsMidpointOutsideWindow(t *testing.T) {
	longPub, longPriv, err := GenerateLongTermKeypair()
	require.NoError(t, err)
	mint := time.Now().UTC().Add(-2 * time.Hour)
	cert, delegatePriv, err := CreateDelegate(longPriv, mint, mint.Add(time.Hour)) // validly signed window that ended an hour ago
	require.NoError(t, err)
	srv, err := NewServer(cert, delegatePriv, DefaultRadius, nil, nil)
	require.NoError(t, err)

	var nonce [64]byte
	req, err := EncodeRequest(nonce)
	require.NoError(t, err)
	replyBytes, err := srv.buildReply(req)
	require.NoError(t, err)
	reply, err := DecodeReply(replyBytes)
	require.NoError(t, err)

	err = verifyReply(nonce, reply, longPub)
	assert.ErrorIs(t, err, ErrMidpointOutsideDelegateWindow)
}

func TestVerifyReplyRejectsFlippedRoot(t *testing.T) {
	srv, longPub := newTestServer(t)

	var nonce [64]byte
	req, err := EncodeRequest(nonce)
	require.NoError(t, err)
	replyBytes, err := srv.buildReply(req)
	require.NoError(t, err)
	reply, err := DecodeReply(replyBytes)
	require.NoError(t, err)

	reply.SignedResponse.Root[0] ^= 0xFF
	err = verifyReply(nonce, reply, longPub)
	assert.Truef(t, err == ErrBadResponseSignature || err == ErrBadMerkleRoot,
		"verifyReply with flipped ROOT = %v, want a signature or Merkle-root failure", err)
}

func TestQueryAllFansOutAcrossServers(t *testing.T) {
	host1, port1, pub1, stop1 := startTestServer(t)
	defer stop1()
	host2, port2, pub2, stop2 := startTestServer(t)
	defer stop2()

	entries := []ServerEntry{
		{Name: "one", Host: host1, Port: port1, PublicKeyB64: base64.StdEncoding.EncodeToString(pub1)},
		{Name: "two", Host: host2, Port: port2, PublicKeyB64: base64.StdEncoding.EncodeToString(pub2)},
	}
	client := NewClient(8, nil, nil)
	results := client.QueryAll(context.Background(), entries, 2*time.Second)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoErrorf(t, r.Err, "server %q", r.Server)
	}
}
