package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/spacecache/internal/services/cache/storage"
)

// nativePruneFactor stretches the sweep interval into the native mode index
// pruning cadence.
const nativePruneFactor = 10

// Native enables the backing store's own expiry and waits for shutdown.
//
// Backends that expire documents natively may still keep index entries for
// evicted documents, so Native also runs a slow sweep that drops them.
type Native struct {
	expirer storage.NativeExpirer
	pruner  *Sweeper
}

// NewNative fails when backend has no native expiry. A nil clearer disables
// index pruning; otherwise clearer runs every pruneInterval.
func NewNative(backend storage.Backend, clearer Clearer, pruneInterval time.Duration) (*Native, error) {
	expirer, ok := backend.(storage.NativeExpirer)
	if !ok {
		return nil, fmt.Errorf("backend %T does not support native expiry", backend)
	}
	native := &Native{expirer: expirer}
	if clearer != nil {
		pruner, err := NewSweeper(clearer, pruneInterval)
		if err != nil {
			return nil, fmt.Errorf("index pruner: %w", err)
		}
		native.pruner = pruner
	}
	return native, nil
}

// Mode reports ModeNative.
func (n *Native) Mode() Mode {
	return ModeNative
}

// PruneInterval returns the index pruning interval, zero when disabled.
func (n *Native) PruneInterval() time.Duration {
	if n.pruner == nil {
		return 0
	}
	return n.pruner.Interval()
}

// Run enables native expiry and blocks until ctx is cancelled.
func (n *Native) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := n.expirer.SetNativeExpiry(context.WithoutCancel(ctx), true); err != nil {
		return fmt.Errorf("enable native expiry: %w", err)
	}
	if n.pruner != nil {
		return n.pruner.Run(ctx)
	}
	<-ctx.Done()
	return nil
}
