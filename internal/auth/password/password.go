// Package password hashes and verifies account secrets. Every hash is stored
// with the Version that produced it so the algorithm can rotate without
// invalidating existing records.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Version identifies the algorithm that produced a stored hash.
type Version int16

const (
	VersionBcrypt   Version = 1
	VersionArgon2id Version = 2
)

func (v Version) String() string {
	switch v {
	case VersionBcrypt:
		return "bcrypt"
	case VersionArgon2id:
		return "argon2id"
	default:
		return fmt.Sprintf("unknown(%d)", int16(v))
	}
}

var (
	ErrEmptySecret     = errors.New("secret cannot be empty")
	ErrUnknownVersion  = errors.New("unknown hash version")
	ErrMalformedHash   = errors.New("malformed hash")
	ErrSecretTooLong   = errors.New("secret is too long")
	errIncompatibleVer = errors.New("incompatible argon2 version")
)

// Argon2Params tunes the argon2id key derivation.
type Argon2Params struct {
	Memory      uint32 `yaml:"memory_kib"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
}

// DefaultArgon2Params follows the RFC 9106 second recommended option.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes new secrets with its current version and verifies secrets
// against hashes of any supported version.
type Hasher struct {
	current    Version
	bcryptCost int
	argon      Argon2Params
	dummy      string
}

type Option func(*Hasher)

// WithCurrentVersion selects the algorithm used for new hashes.
func WithCurrentVersion(v Version) Option {
	return func(h *Hasher) {
		h.current = v
	}
}

func WithBcryptCost(cost int) Option {
	return func(h *Hasher) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.bcryptCost = cost
		}
	}
}

func WithArgon2Params(p Argon2Params) Option {
	return func(h *Hasher) {
		h.argon = p
	}
}

// New builds a Hasher. It precomputes the dummy hash used by DummyCompare.
func New(opts ...Option) (*Hasher, error) {
	h := &Hasher{
		current:    VersionArgon2id,
		bcryptCost: bcrypt.DefaultCost,
		argon:      DefaultArgon2Params(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.current != VersionBcrypt && h.current != VersionArgon2id {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, h.current)
	}
	dummy, _, err := h.Hash("hireloop-dummy-secret-0")
	if err != nil {
		return nil, fmt.Errorf("compute dummy hash: %w", err)
	}
	h.dummy = dummy
	return h, nil
}

// Current returns the version new hashes are produced with.
func (h *Hasher) Current() Version {
	return h.current
}

// Hash hashes secret with the current version.
func (h *Hasher) Hash(secret string) (string, Version, error) {
	if secret == "" {
		return "", 0, ErrEmptySecret
	}
	switch h.current {
	case VersionBcrypt:
		out, err := bcrypt.GenerateFromPassword([]byte(secret), h.bcryptCost)
		if err != nil {
			if errors.Is(err, bcrypt.ErrPasswordTooLong) {
				return "", 0, ErrSecretTooLong
			}
			return "", 0, fmt.Errorf("bcrypt: %w", err)
		}
		return string(out), VersionBcrypt, nil
	case VersionArgon2id:
		out, err := h.hashArgon2id(secret)
		if err != nil {
			return "", 0, err
		}
		return out, VersionArgon2id, nil
	default:
		return "", 0, ErrUnknownVersion
	}
}

// Verify reports whether secret matches hash. A mismatch is (false, nil); an
// error means the hash itself could not be evaluated.
func (h *Hasher) Verify(hash string, v Version, secret string) (bool, error) {
	switch v {
	case VersionBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("bcrypt: %w", err)
	case VersionArgon2id:
		return verifyArgon2id(hash, secret)
	default:
		return false, fmt.Errorf("%w: %d", ErrUnknownVersion, v)
	}
}

// NeedsRehash reports whether a hash of version v should be replaced.
func (h *Hasher) NeedsRehash(v Version) bool {
	return v != h.current
}

// DummyCompare spends the same work as a real verification. Callers use it
// when the identifier is unknown so response timing does not reveal it.
func (h *Hasher) DummyCompare(secret string) {
	_, _ = h.Verify(h.dummy, h.current, secret)
}

func (h *Hasher) hashArgon2id(secret string) (string, error) {
	salt := make([]byte, h.argon.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.argon.Iterations, h.argon.Memory, h.argon.Parallelism, h.argon.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.argon.Memory, h.argon.Iterations, h.argon.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// verifyArgon2id checks a PHC-formatted argon2id hash using the parameters
// encoded in it.
func verifyArgon2id(encoded, secret string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, ErrMalformedHash
	}
	if version != argon2.Version {
		return false, errIncompatibleVer
	}
	var p Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return false, ErrMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, ErrMalformedHash
	}
	got := argon2.IDKey([]byte(secret), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
