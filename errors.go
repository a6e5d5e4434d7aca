package roughtime

import "errors"

// Sentinel errors for the client verification pipeline and server
// construction, matched by callers with errors.Is. The server never
// returns these to a network peer; it only logs and counts them (see
// Server.handle).
var (
	ErrCertLength                    = errors.New("roughtime: encoded CERT is not 152 bytes")
	ErrCertMismatch                  = errors.New("roughtime: delegate public key does not match delegate private key")
	ErrMissingTag                    = errors.New("roughtime: required tag missing from reply")
	ErrBadDelegationSignature        = errors.New("roughtime: long-term signature over DELE is invalid")
	ErrMidpointOutsideDelegateWindow = errors.New("roughtime: MIDP outside [MINT, MAXT]")
	ErrBadPath                       = errors.New("roughtime: PATH length is not a multiple of 64, or exceeds 32 hashes")
	ErrBadPathIndex                  = errors.New("roughtime: INDX is nonzero after walking PATH")
	ErrBadMerkleRoot                 = errors.New("roughtime: reconstructed Merkle root does not match ROOT")
	ErrBadResponseSignature          = errors.New("roughtime: delegate signature over SREP is invalid")
	ErrTimeout                       = errors.New("roughtime: timed out waiting for a reply")
	ErrRequestTooShort               = errors.New("roughtime: encoded request is shorter than 1024 bytes")
)
