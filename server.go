package roughtime

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/axwalt/roughtime/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/crypto/ed25519"
)

// DefaultRadius is the uncertainty radius (RADI) a Server reports when none
// is configured explicitly.
const DefaultRadius = 100 * time.Millisecond

// DefaultDelegateValidity is how long a freshly issued delegate certificate
// remains valid when no explicit window is given to CreateDelegate.
const DefaultDelegateValidity = 30 * 24 * time.Hour

// pollInterval is how often the server's receive loop checks its socket
// for a pending datagram before re-checking whether it has been told to
// stop. It mirrors the reference implementation's polling period. Stop
// closes the socket only after the loop has exited, so the loop notices a
// stop request only between polls; 1ms keeps that shutdown latency low.
const pollInterval = time.Millisecond

// GenerateLongTermKeypair creates a fresh Ed25519 keypair for a server
// operator's long-term identity.
func GenerateLongTermKeypair() (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	return generateKeypair()
}

// CreateDelegate issues a delegate certificate, signed by longPriv, valid
// over [mint, maxt]. A zero mint defaults to now; a zero or non-positive
// (maxt - mint) defaults maxt to mint + DefaultDelegateValidity.
func CreateDelegate(longPriv ed25519.PrivateKey, mint, maxt time.Time) (Certificate, ed25519.PrivateKey, error) {
	if mint.IsZero() {
		mint = time.Now().UTC()
	}
	if !maxt.After(mint) {
		maxt = mint.Add(DefaultDelegateValidity)
	}
	dpub, dpriv, err := generateKeypair()
	if err != nil {
		return Certificate{}, nil, err
	}
	dele := Delegation{Min: mint, Max: maxt}
	copy(dele.PublicKey[:], dpub)

	deleMsg, err := dele.toMessage()
	if err != nil {
		return Certificate{}, nil, err
	}
	sig := ed25519.Sign(longPriv, append(append([]byte(nil), certContext...), wire.Encode(deleMsg)...))

	cert := Certificate{Delegation: dele}
	copy(cert.Signature[:], sig)
	return cert, dpriv, nil
}

// Server answers Roughtime requests over UDP, signing each response with a
// delegate key whose certificate chains to a long-term identity the client
// already trusts. All of its state (the certificate, delegate key, radius,
// logger, metrics) is fixed at construction and never mutated, so the
// receive loop needs no locking on the hot path.
type Server struct {
	cert         Certificate
	certBytes    []byte
	delegatePriv ed25519.PrivateKey
	radius       time.Duration
	logger       *zap.Logger
	metrics      *serverMetrics

	mu      sync.Mutex // guards the fields below
	conn    net.PacketConn
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewServer validates that cert and delegatePriv form a matching pair (the
// delegate public key embedded in cert.Delegation must correspond to
// delegatePriv) and returns a Server ready to Start. logger and reg may be
// nil, in which case a no-op logger is used and no metrics are registered.
func NewServer(cert Certificate, delegatePriv ed25519.PrivateKey, radius time.Duration, logger *zap.Logger, reg prometheus.Registerer) (*Server, error) {
	certBytes, err := cert.Encode()
	if err != nil {
		return nil, err
	}
	if len(certBytes) != 152 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrCertLength, len(certBytes))
	}
	testSig := ed25519.Sign(delegatePriv, respContext)
	if !ed25519.Verify(cert.Delegation.PublicKey[:], respContext, testSig) {
		return nil, ErrCertMismatch
	}
	if radius <= 0 {
		radius = DefaultRadius
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cert:         cert,
		certBytes:    certBytes,
		delegatePriv: delegatePriv,
		radius:       radius,
		logger:       logger.Named("roughtime.server"),
		metrics:      newServerMetrics(reg),
	}, nil
}

// Start binds a UDP socket on ip:port and begins answering requests in a
// background goroutine. It returns once the socket is bound.
func (s *Server) Start(ip string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("roughtime: server already running")
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(ip), Port: port})
	if err != nil {
		return fmt.Errorf("roughtime: listen: %w", err)
	}
	s.conn = conn
	s.stopCh = make(chan struct{})
	s.running = true
	s.wg.Add(1)
	go s.loop(conn, s.stopCh)
	s.logger.Info("server started", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// Addr returns the address the server is listening on, or nil if Start
// has not been called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop idempotently halts the receive loop and releases the socket. It
// blocks until any in-flight request finishes being handled.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	conn := s.conn
	s.mu.Unlock()

	s.wg.Wait()
	conn.Close()
	s.logger.Info("server stopped")
}

func (s *Server) loop(conn net.PacketConn, stop <-chan struct{}) {
	defer s.wg.Done()
	buf := make([]byte, 1500)
	for {
		select {
		case <-stop:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			continue // timeout or transient error; re-check stop
		}
		s.handle(conn, addr, append([]byte(nil), buf[:n]...))
	}
}

func (s *Server) handle(conn net.PacketConn, addr net.Addr, req []byte) {
	start := time.Now()
	reply, err := s.buildReply(req)
	if err != nil {
		s.logger.Debug("dropping request", zap.Error(err))
		s.metrics.dropped.WithLabelValues(dropReason(err)).Inc()
		return
	}
	if _, err := conn.WriteTo(reply, addr); err != nil {
		s.logger.Debug("failed to send reply", zap.Error(err))
		return
	}
	s.metrics.responses.Inc()
	s.metrics.handleDuration.Observe(time.Since(start).Seconds())
}

// buildReply validates req and, if valid, signs and encodes a reply. It
// never touches the network: handle is the only caller that sends bytes.
func (s *Server) buildReply(req []byte) ([]byte, error) {
	if len(req) < 1024 {
		return nil, ErrRequestTooShort
	}
	nonce, err := DecodeRequest(req)
	if err != nil {
		return nil, err
	}

	tree, err := buildMerkleTree([][]byte{nonce[:]}, func() ([64]byte, error) {
		var f [64]byte
		b, err := randomBytes(64)
		if err != nil {
			return f, err
		}
		copy(f[:], b)
		return f, nil
	})
	if err != nil {
		return nil, err
	}

	srep := SignedResponse{
		Root:     tree.root(),
		Midpoint: time.Now().UTC(),
		Radius:   s.radius,
	}
	srepMsg, err := srep.toMessage()
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(s.delegatePriv, append(append([]byte(nil), respContext...), wire.Encode(srepMsg)...))

	reply := Reply{
		Path:           tree.path(0),
		SignedResponse: srep,
		Certificate:    s.cert,
		Index:          0,
	}
	copy(reply.Signature[:], sig)
	return reply.Encode()
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrRequestTooShort):
		return "too_short"
	case errors.Is(err, ErrMissingTag):
		return "missing_nonce"
	default:
		return "malformed"
	}
}
