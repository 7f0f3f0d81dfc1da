// Package blob provides the keyed byte store behind shards and indices.
package blob

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when no object exists for the key.
var ErrNotFound = errors.New("blob not found")

// Store is durable keyed storage. Keys are slash-separated paths.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
