package roughtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ed25519"
)

// ServerEntry describes one server in an operator-curated list: a name for
// logging and metrics labels, an address, and the long-term public key a
// Client verifies replies against. On disk, a list is a JSON array of
// objects with "name", "host", "port" and "publicKeyBase64" keys.
type ServerEntry struct {
	Name         string `json:"name" validate:"required"`
	Host         string `json:"host" validate:"required,hostname|ip"`
	Port         int    `json:"port" validate:"required,min=1,max=65535"`
	PublicKeyB64 string `json:"publicKeyBase64" validate:"required,base64"`
}

// PublicKey decodes PublicKeyB64 into an ed25519.PublicKey.
func (e ServerEntry) PublicKey() (ed25519.PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(e.PublicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("roughtime: decoding public key for %q: %w", e.Name, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("roughtime: public key for %q is %d bytes, want %d", e.Name, len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

var listValidate = validator.New()

// LoadServerList reads and validates a JSON array of ServerEntry from r.
// Validation covers required fields and address shape; it also eagerly
// decodes each PublicKeyB64 so a malformed list fails fast, before any
// query is attempted.
func LoadServerList(r io.Reader) ([]ServerEntry, error) {
	var entries []ServerEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("roughtime: decoding server list: %w", err)
	}
	for i, e := range entries {
		if err := listValidate.Struct(e); err != nil {
			return nil, fmt.Errorf("roughtime: server list entry %d (%s): %w", i, e.Name, err)
		}
		if _, err := e.PublicKey(); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
