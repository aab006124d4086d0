// Package token issues and consumes the single-use keys that gate the IP
// endpoint.
//
// A Store only ever holds unused tokens: presence means the token may still
// authorize exactly one response. Take removes the token and reports whether
// it was present in one atomic step, so two concurrent callers presenting the
// same token can never both observe success.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Length is the number of random bytes behind each token (128 bits).
const Length = 16

// ErrEmptyToken is returned when an empty token is issued.
var ErrEmptyToken = errors.New("token is required")

// Store tracks issued, not yet consumed tokens.
type Store interface {
	// Issue records token as unused.
	Issue(ctx context.Context, token string) error
	// Take removes token and reports whether it was present and unused.
	// Removing an absent token is a no-op.
	Take(ctx context.Context, token string) (bool, error)
	Close() error
}

// Counter is implemented by stores that can report how many tokens are
// outstanding.
type Counter interface {
	Len() int
}

// Generate returns a new random token rendered as lowercase hex.
func Generate() (string, error) {
	return GenerateWithLength(Length)
}

// GenerateWithLength returns a hex token backed by length random bytes.
func GenerateWithLength(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", length)
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IssueNew generates a token and records it in store.
func IssueNew(ctx context.Context, store Store) (string, error) {
	tok, err := Generate()
	if err != nil {
		return "", err
	}
	if err := store.Issue(ctx, tok); err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return tok, nil
}
