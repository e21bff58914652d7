// Package lease provides short-lived exclusive ownership of a key across
// worker processes.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maraichr/sheetflow/pkg/models"
)

// ErrNotHeld is returned by Extend when the caller no longer owns the lease,
// either because it expired or because it was never acquired.
var ErrNotHeld = errors.New("lease not held")

// Lease is one acquisition of a key. Token is unique per acquisition, so a
// holder whose lease expired and was taken over cannot touch the new one.
type Lease struct {
	Key   string
	Token string
}

// Service grants leases. Release of a lease that is no longer held is a
// no-op; Extend returns ErrNotHeld.
type Service interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
	Release(ctx context.Context, l Lease) error
	Extend(ctx context.Context, l Lease, ttl time.Duration) error
}

// ChunkKey is the lease key guarding one chunk.
func ChunkKey(k models.ChunkKey) string {
	return fmt.Sprintf("lock:%s:%d", k.UploadID, k.ChunkIndex)
}
