// Package expiry removes expired cache documents in the background.
//
// Two strategies exist: Sweeper periodically deletes expired documents from
// every collection, and Native delegates removal to the backing store. Read
// paths treat expired documents as misses either way.
package expiry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/spacecache/internal/services/cache/entry"
)

// Mode names an expiry strategy.
type Mode string

const (
	// ModeSweep runs a periodic sweep.
	ModeSweep Mode = "sweep"
	// ModeNative relies on the backing store's own expiry.
	ModeNative Mode = "native"
)

// ParseMode parses a configured expiry mode. Empty selects ModeSweep.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeSweep:
		return ModeSweep, nil
	case ModeNative:
		return ModeNative, nil
	default:
		return "", fmt.Errorf("unknown expiry mode %q", raw)
	}
}

// Expirer runs until ctx is cancelled.
type Expirer interface {
	Run(ctx context.Context) error
	Mode() Mode
}

// New selects the expirer for mode. In native mode interval, stretched, paces
// index pruning.
func New(mode Mode, store *entry.Store, interval time.Duration) (Expirer, error) {
	if store == nil {
		return nil, fmt.Errorf("entry store is required")
	}
	switch mode {
	case ModeSweep, "":
		return NewSweeper(store, interval)
	case ModeNative:
		if interval == 0 {
			interval = DefaultSweepInterval
		}
		return NewNative(store.Backend(), store, interval*nativePruneFactor)
	default:
		return nil, fmt.Errorf("unknown expiry mode %q", mode)
	}
}
