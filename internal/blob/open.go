package blob

import (
	"context"
	"fmt"
)

// Open builds the Store selected by backend ("fs" or "gcs").
func Open(ctx context.Context, backend, root, bucket, prefix string) (Store, error) {
	switch backend {
	case "", "fs":
		return NewFSStore(root)
	case "gcs":
		return NewGCSStore(ctx, bucket, prefix)
	case "mem":
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
