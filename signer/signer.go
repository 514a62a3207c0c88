// Package signer signs and verifies component state.
//
// State is normalised before signing and before verifying: empty strings
// become null at any depth, except inside a value marked as a paginator,
// which is kept as is. The canonical form is the JSON encoding of
// {"id": componentID, "state": normalisedState}; encoding/json sorts map
// keys, so key order never affects a signature.
package signer

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// PaginatorMarker flags a state value whose contents are signed verbatim.
const PaginatorMarker = "__paginator"

// MinSecretLen is the shortest accepted signing secret.
const MinSecretLen = 32

var (
	ErrSecretTooShort   = errors.New("signer: secret shorter than 32 bytes")
	ErrInvalidSignature = errors.New("signer: invalid state signature")
)

// Algorithm names a keyed MAC.
type Algorithm string

const (
	HMACSHA256 Algorithm = "hmac-sha256"
	BLAKE2b    Algorithm = "blake2b"
	BLAKE3     Algorithm = "blake3"
)

// ParseAlgorithm validates an algorithm name. The empty string selects
// HMACSHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case "":
		return HMACSHA256, nil
	case HMACSHA256, BLAKE2b, BLAKE3:
		return a, nil
	}
	return "", fmt.Errorf("signer: unknown algorithm %q", s)
}

// Signer computes state signatures with one secret and algorithm. It is
// safe for concurrent use.
type Signer struct {
	alg    Algorithm
	newMAC func() hash.Hash
}

// Option configures a Signer.
type Option func(*Signer)

// WithAlgorithm selects the MAC. The default is HMACSHA256.
func WithAlgorithm(a Algorithm) Option {
	return func(s *Signer) { s.alg = a }
}

// New creates a Signer keyed with secret.
func New(secret []byte, opts ...Option) (*Signer, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	s := &Signer{alg: HMACSHA256}
	for _, o := range opts {
		o(s)
	}
	key := append([]byte(nil), secret...)

	switch s.alg {
	case HMACSHA256:
		s.newMAC = func() hash.Hash { return hmac.New(sha256.New, key) }
	case BLAKE2b:
		if len(key) > blake2b.Size {
			sum := blake2b.Sum256(key)
			key = sum[:]
		}
		if _, err := blake2b.New256(key); err != nil {
			return nil, fmt.Errorf("signer: blake2b key: %w", err)
		}
		s.newMAC = func() hash.Hash {
			h, _ := blake2b.New256(key)
			return h
		}
	case BLAKE3:
		derived := make([]byte, 32)
		blake3.DeriveKey("domdiff component state signing", key, derived)
		if _, err := blake3.NewKeyed(derived); err != nil {
			return nil, fmt.Errorf("signer: blake3 key: %w", err)
		}
		s.newMAC = func() hash.Hash {
			h, _ := blake3.NewKeyed(derived)
			return h
		}
	default:
		return nil, fmt.Errorf("signer: unknown algorithm %q", s.alg)
	}
	return s, nil
}

// Algorithm returns the MAC in use.
func (s *Signer) Algorithm() Algorithm { return s.alg }

// Sign returns the hex signature of state for componentID.
func (s *Signer) Sign(state map[string]any, componentID string) (string, error) {
	msg, err := Canonical(state, componentID)
	if err != nil {
		return "", err
	}
	mac := s.newMAC()
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches state for componentID.
func (s *Signer) Verify(state map[string]any, componentID, signature string) bool {
	want, err := s.Sign(state, componentID)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}

// Check is Verify returning ErrInvalidSignature on mismatch.
func (s *Signer) Check(state map[string]any, componentID, signature string) error {
	if !s.Verify(state, componentID, signature) {
		return fmt.Errorf("%w for component %q", ErrInvalidSignature, componentID)
	}
	return nil
}

// Canonical returns the bytes that get signed.
func Canonical(state map[string]any, componentID string) ([]byte, error) {
	norm, err := Normalize(state)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(struct {
		ID    string         `json:"id"`
		State map[string]any `json:"state"`
	}{componentID, norm}); err != nil {
		return nil, fmt.Errorf("signer: encode canonical form: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Normalize returns the signing form of state. Values are first reduced to
// their JSON shape, so a struct and the map it encodes to sign identically.
func Normalize(state map[string]any) (map[string]any, error) {
	if state == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("signer: encode state: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var plain map[string]any
	if err := dec.Decode(&plain); err != nil {
		return nil, fmt.Errorf("signer: decode state: %w", err)
	}
	for k, v := range plain {
		plain[k] = normalizeValue(v)
	}
	return plain, nil
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		return x
	case map[string]any:
		if marker, ok := x[PaginatorMarker].(bool); ok && marker {
			return x
		}
		for k, c := range x {
			x[k] = normalizeValue(c)
		}
		return x
	case []any:
		for i, c := range x {
			x[i] = normalizeValue(c)
		}
		return x
	}
	return v
}
