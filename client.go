package roughtime

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/axwalt/roughtime/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/sync/errgroup"
)

// Result is what a successful Query returns: the server's claimed time and
// the full, already-verified Reply it was drawn from.
type Result struct {
	Midpoint time.Time
	Radius   time.Duration
	Reply    Reply
}

// queryRecord is one entry in a Client's history, kept for causality
// auditing and for deriving the next query's chained nonce.
type queryRecord struct {
	server     string
	nonce      [64]byte
	replyBytes []byte
	reply      Reply
	receivedAt time.Time
}

// Client issues Roughtime queries, verifies every reply against the
// protocol's invariants, and keeps a bounded history of past replies so
// callers can audit causality across queries (VerifyReplies) and so
// successive queries chain their nonces to each other. A Client is safe
// for concurrent use; QueryAll relies on this to fan a single Client out
// across many servers at once.
type Client struct {
	maxHistory int
	logger     *zap.Logger
	metrics    *clientMetrics

	mu      sync.Mutex
	history []queryRecord
}

// NewClient returns a Client retaining at most maxHistoryLen replies. A
// non-positive maxHistoryLen disables chaining and auditing: every query
// uses a fresh random nonce and VerifyReplies always reports no
// violations. logger and reg may be nil.
func NewClient(maxHistoryLen int, logger *zap.Logger, reg prometheus.Registerer) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		maxHistory: maxHistoryLen,
		logger:     logger.Named("roughtime.client"),
		metrics:    newClientMetrics(reg),
	}
}

// Query sends one request to host:port, verifies the reply against
// serverPub, and records it in the Client's history (unless the Client was
// built with a non-positive maxHistoryLen). The nonce sent is
// chained from the previous reply in history, if any, per the protocol's
// blinding scheme; a fresh Client's first query uses an unchained random
// nonce.
func (c *Client) Query(ctx context.Context, host string, port int, serverPub ed25519.PublicKey, timeout time.Duration) (Result, error) {
	server := net.JoinHostPort(host, strconv.Itoa(port))
	start := time.Now()
	outcome := "error"
	defer func(begin time.Time) {
		c.metrics.queries.WithLabelValues(server, outcome).Inc()
		c.metrics.queryDuration.WithLabelValues(server).Observe(time.Since(begin).Seconds())
	}(start)

	nonce, err := c.nextNonce()
	if err != nil {
		return Result{}, err
	}
	req, err := EncodeRequest(nonce)
	if err != nil {
		return Result{}, err
	}

	conn, err := net.Dial("udp", server)
	if err != nil {
		return Result{}, fmt.Errorf("roughtime: dialing %s: %w", server, err)
	}
	defer conn.Close()

	if _, err := conn.Write(req); err != nil {
		return Result{}, fmt.Errorf("roughtime: sending request to %s: %w", server, err)
	}

	replyBytes, err := readReply(ctx, conn, timeout)
	if err != nil {
		if err == ErrTimeout {
			outcome = "timeout"
		}
		return Result{}, err
	}

	reply, err := DecodeReply(replyBytes)
	if err != nil {
		return Result{}, err
	}
	if err := verifyReply(nonce, reply, serverPub); err != nil {
		return Result{}, err
	}

	if c.maxHistory > 0 {
		c.mu.Lock()
		c.history = append(c.history, queryRecord{
			server:     server,
			nonce:      nonce,
			replyBytes: replyBytes,
			reply:      reply,
			receivedAt: time.Now().UTC(),
		})
		if len(c.history) > c.maxHistory {
			c.history = c.history[len(c.history)-c.maxHistory:]
		}
		c.mu.Unlock()
	}

	outcome = "ok"
	c.logger.Debug("query succeeded", zap.String("server", server), zap.Time("midpoint", reply.SignedResponse.Midpoint))
	return Result{
		Midpoint: reply.SignedResponse.Midpoint,
		Radius:   reply.SignedResponse.Radius,
		Reply:    reply,
	}, nil
}

// readReply polls conn for a datagram, honoring both ctx and an overall
// timeout. It mirrors the server's polling style rather than blocking on
// a single deadline, so a cancelled ctx is noticed promptly.
func readReply(ctx context.Context, conn net.Conn, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		now := time.Now()
		if now.After(deadline) {
			return nil, ErrTimeout
		}
		next := now.Add(pollInterval)
		if next.After(deadline) {
			next = deadline
		}
		conn.SetReadDeadline(next)
		n, err := conn.Read(buf)
		if err == nil {
			return append([]byte(nil), buf[:n]...), nil
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			continue
		}
		return nil, err
	}
}

// nextNonce derives the nonce for the next query: always
// SHA512(prevReplyBytes || blind), with prevReplyBytes empty on a fresh
// Client's first query rather than omitted, so every nonce sent on the
// wire is a hash digest, never raw randomness.
func (c *Client) nextNonce() ([64]byte, error) {
	var nonce [64]byte
	blind, err := randomBytes(64)
	if err != nil {
		return nonce, err
	}
	c.mu.Lock()
	n := len(c.history)
	var prev []byte
	if n > 0 {
		prev = c.history[n-1].replyBytes
	}
	c.mu.Unlock()

	copy(nonce[:], deriveNonce(prev, blind))
	return nonce, nil
}

// verifyReply runs the full verification pipeline a reply to a request
// carrying nonce must pass before its Midpoint can be trusted: the
// long-term signature over the delegation, the delegate window, the
// Merkle path and root, and the delegate's signature over the response.
func verifyReply(nonce [64]byte, reply Reply, serverPub ed25519.PublicKey) error {
	deleMsg, err := reply.Certificate.Delegation.toMessage()
	if err != nil {
		return err
	}
	signed := append(append([]byte(nil), certContext...), wire.Encode(deleMsg)...)
	if !ed25519.Verify(serverPub, signed, reply.Certificate.Signature[:]) {
		return ErrBadDelegationSignature
	}

	mid := reply.SignedResponse.Midpoint
	if mid.Before(reply.Certificate.Delegation.Min) || mid.After(reply.Certificate.Delegation.Max) {
		return ErrMidpointOutsideDelegateWindow
	}

	leaf := hashLeaf(nonce[:])
	root, remaining := reconstructMerkleRoot(leaf, reply.Path, reply.Index)
	if remaining != 0 {
		return ErrBadPathIndex
	}
	if root != reply.SignedResponse.Root {
		return ErrBadMerkleRoot
	}

	srepMsg, err := reply.SignedResponse.toMessage()
	if err != nil {
		return err
	}
	respSigned := append(append([]byte(nil), respContext...), wire.Encode(srepMsg)...)
	if !ed25519.Verify(reply.Certificate.Delegation.PublicKey[:], respSigned, reply.Signature[:]) {
		return ErrBadResponseSignature
	}
	return nil
}

// reconstructMerkleRoot walks path from leaf up, combining with each
// sibling according to the corresponding bit of index, and returns the
// resulting root along with whatever bits of index were left unconsumed.
// A well-formed reply leaves no bits unconsumed.
func reconstructMerkleRoot(leaf [64]byte, path [][64]byte, index uint32) (root [64]byte, remaining uint32) {
	cur := leaf
	idx := index
	for _, sib := range path {
		if idx&1 == 0 {
			cur = hashNode(cur, sib)
		} else {
			cur = hashNode(sib, cur)
		}
		idx >>= 1
	}
	return cur, idx
}

// VerifyReplies audits every pair of replies in history for a causality
// violation: if query i was sent strictly before query k (as recorded by
// history order) but reply i's earliest possible true time (MIDP - RADI) is
// still after reply k's latest possible true time (MIDP + RADI), the two
// servers (or one server
// across two queries) disagree about the direction of time. It returns
// the index pairs [i, k] that violate causality.
func (c *Client) VerifyReplies() [][2]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var violations [][2]int
	for i := 0; i < len(c.history); i++ {
		ri := c.history[i]
		earliestI := ri.reply.SignedResponse.Midpoint.Add(-ri.reply.SignedResponse.Radius)
		for k := i + 1; k < len(c.history); k++ {
			rk := c.history[k]
			latestK := rk.reply.SignedResponse.Midpoint.Add(rk.reply.SignedResponse.Radius)
			if earliestI.After(latestK) {
				violations = append(violations, [2]int{i, k})
				c.metrics.causalityViolations.Inc()
			}
		}
	}
	return violations
}

// PreviousReplies returns every reply currently retained in history,
// oldest first.
func (c *Client) PreviousReplies() []Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Reply, len(c.history))
	for i, r := range c.history {
		out[i] = r.reply
	}
	return out
}

// FanOutResult is one server's outcome from QueryAll.
type FanOutResult struct {
	Server string
	Result Result
	Err    error
}

// QueryAll queries every entry in servers concurrently using c, via
// golang.org/x/sync/errgroup. One server's failure does not cancel the
// others: every entry gets a result, successful or not.
func (c *Client) QueryAll(ctx context.Context, servers []ServerEntry, timeout time.Duration) []FanOutResult {
	results := make([]FanOutResult, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range servers {
		i, entry := i, entry
		g.Go(func() error {
			pub, err := entry.PublicKey()
			if err != nil {
				results[i] = FanOutResult{Server: entry.Name, Err: err}
				return nil
			}
			res, err := c.Query(gctx, entry.Host, entry.Port, pub, timeout)
			results[i] = FanOutResult{Server: entry.Name, Result: res, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}
