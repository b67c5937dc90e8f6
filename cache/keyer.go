package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Keyer derives cache keys from a namespace and an arbitrary input.
//
// Contract:
// - Determinism: equal inputs produce equal keys, regardless of map order or
//   whether the input is a struct or the equivalent map.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(namespace string, input any) (string, error)
}

// DefaultKeyer derives keys of the form <namespace>:<hash>, where hash is
// the first 16 hex characters of SHA-256 over the canonical JSON of input.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

func (k *DefaultKeyer) Key(namespace string, input any) (string, error) {
	canonical, err := canonicalJSON(input)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	key := namespace + ":" + hex.EncodeToString(sum[:8])
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// canonicalJSON encodes v, decodes it into generic values and encodes it
// again. encoding/json sorts map keys, so structs and maps with the same
// fields meet on the same bytes. Numbers keep their literal form.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

var _ Keyer = (*DefaultKeyer)(nil)
