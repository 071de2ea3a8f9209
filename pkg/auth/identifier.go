package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// IdentifierLength is the number of characters in a generated identifier.
	IdentifierLength = 8
	identifierChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateIdentifier samples a random uppercase alphanumeric identifier.
func GenerateIdentifier() (string, error) {
	buf := make([]byte, IdentifierLength)
	max := big.NewInt(int64(len(identifierChars)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate identifier: %w", err)
		}
		buf[i] = identifierChars[n.Int64()]
	}
	return string(buf), nil
}

// NextFreeIdentifier keeps sampling until taken reports a candidate as free.
// The loop is unbounded; with 36^8 candidates it terminates in practice.
func NextFreeIdentifier(ctx context.Context, taken func(context.Context, string) (bool, error)) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate, err := GenerateIdentifier()
		if err != nil {
			return "", err
		}
		exists, err := taken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}
