package password

import (
	"errors"
	"fmt"
)

// Supported algorithm identifiers for [Config.Algorithm].
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// Config selects the hashing algorithm and its cost parameters.
//
// Config instances are intended to be configured during initialization and then
// treated as immutable.
type Config struct {
	Algorithm string // "argon2id" (default) or "bcrypt"

	// Argon2id parameters. Zero values take the package defaults.
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// bcrypt cost. Zero selects bcrypt.DefaultCost.
	BcryptCost int
}

// DefaultConfig returns the Argon2id baseline parameters.
func DefaultConfig() Config {
	return Config{
		Algorithm:   AlgorithmArgon2id,
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Policy hashes with the configured algorithm and verifies against any
// supported digest encoding, so stored credentials survive an algorithm
// migration.
type Policy struct {
	algorithm string
	argon2    *Argon2
	bcrypt    *Bcrypt
}

// New builds a Policy from cfg. Both hashers are constructed regardless of the
// configured algorithm: verification must accept legacy digests.
func New(cfg Config) (*Policy, error) {
	base := DefaultConfig()
	if cfg.Algorithm == "" {
		cfg.Algorithm = base.Algorithm
	}
	if cfg.Memory == 0 {
		cfg.Memory = base.Memory
	}
	if cfg.Time == 0 {
		cfg.Time = base.Time
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = base.Parallelism
	}
	if cfg.SaltLength == 0 {
		cfg.SaltLength = base.SaltLength
	}
	if cfg.KeyLength == 0 {
		cfg.KeyLength = base.KeyLength
	}

	switch cfg.Algorithm {
	case AlgorithmArgon2id, AlgorithmBcrypt:
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}

	a, err := NewArgon2(Argon2Config{
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	b, err := NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	return &Policy{algorithm: cfg.Algorithm, argon2: a, bcrypt: b}, nil
}

// Algorithm returns the configured hashing algorithm identifier.
func (p *Policy) Algorithm() string {
	return p.algorithm
}

// Hash derives a digest with the configured algorithm.
func (p *Policy) Hash(password string) (string, error) {
	if p.algorithm == AlgorithmBcrypt {
		return p.bcrypt.Hash(password)
	}
	return p.argon2.Hash(password)
}

// Verify dispatches on the digest encoding, not the configured algorithm.
func (p *Policy) Verify(password, encodedHash string) (bool, error) {
	switch {
	case isArgon2Digest(encodedHash):
		return p.argon2.Verify(password, encodedHash)
	case isBcryptDigest(encodedHash):
		return p.bcrypt.Verify(password, encodedHash)
	default:
		return false, errors.New("unrecognized digest format")
	}
}

// NeedsRehash reports whether encodedHash should be regenerated: either the
// digest algorithm differs from the configured one, or its embedded parameters
// are weaker than the configured ones.
func (p *Policy) NeedsRehash(encodedHash string) (bool, error) {
	switch {
	case isArgon2Digest(encodedHash):
		if p.algorithm != AlgorithmArgon2id {
			return true, nil
		}
		return p.argon2.NeedsRehash(encodedHash)
	case isBcryptDigest(encodedHash):
		if p.algorithm != AlgorithmBcrypt {
			return true, nil
		}
		return p.bcrypt.NeedsRehash(encodedHash)
	default:
		return false, errors.New("unrecognized digest format")
	}
}
