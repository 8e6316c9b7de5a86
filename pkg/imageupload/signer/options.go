package signer

import (
	"crypto/sha1"
	"crypto/sha256"
	"hash"
	"time"
)

// Option is a functional option for configuring a Signer
type Option func(*Signer)

// WithSecret sets the shared secret appended to the canonical string
func WithSecret(secret string) Option {
	return func(s *Signer) {
		s.secret = []byte(secret)
	}
}

// Algorithm names accepted by WithAlgorithm.
const (
	AlgorithmSHA1   = "sha1"
	AlgorithmSHA256 = "sha256"
)

// WithAlgorithm selects the digest. SHA-1 is the default and what the
// hosting service expects unless the account is configured otherwise.
func WithAlgorithm(name string) Option {
	return func(s *Signer) {
		switch name {
		case AlgorithmSHA256:
			s.newHash = func() hash.Hash { return sha256.New() }
		default:
			s.newHash = func() hash.Hash { return sha1.New() }
		}
	}
}

// WithMaxAge rejects signatures whose timestamp is older than d during
// verification. Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(s *Signer) {
		s.maxAge = d
	}
}

// WithClock overrides the time source used by the max-age check
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}
