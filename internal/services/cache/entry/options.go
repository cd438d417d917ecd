package entry

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
)

// SetOption customizes a single write.
type SetOption func(*setOptions)

type setOptions struct {
	ttl         time.Duration
	ttlSet      bool
	expiresAt   time.Time
	noExpiry    bool
	tags        []string
	partition   string
	partitionAt time.Time
}

// WithTTL sets a relative expiry. The duration must be positive.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
		o.ttlSet = true
		o.noExpiry = false
		o.expiresAt = time.Time{}
	}
}

// WithExpiresAt sets an absolute expiry instant.
func WithExpiresAt(at time.Time) SetOption {
	return func(o *setOptions) {
		o.expiresAt = at
		o.noExpiry = false
		o.ttlSet = false
	}
}

// WithoutExpiry stores the entry until it is deleted explicitly.
func WithoutExpiry() SetOption {
	return func(o *setOptions) {
		o.noExpiry = true
		o.ttlSet = false
		o.expiresAt = time.Time{}
	}
}

// WithTags attaches invalidation tags. Repeated calls accumulate.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) {
		o.tags = append(o.tags, tags...)
	}
}

// WithPartition files the entry under a secondary index. A zero at uses the
// write time.
func WithPartition(partition string, at time.Time) SetOption {
	return func(o *setOptions) {
		o.partition = partition
		o.partitionAt = at
	}
}

// resolveExpiry returns the absolute expiry for a write at now, or zero for
// entries that never expire.
func (o setOptions) resolveExpiry(now time.Time, defaultTTL time.Duration) (time.Time, error) {
	switch {
	case o.noExpiry:
		return time.Time{}, nil
	case !o.expiresAt.IsZero():
		return o.expiresAt.UTC().Truncate(time.Millisecond), nil
	case o.ttlSet:
		if o.ttl <= 0 {
			return time.Time{}, apperrors.WithMetadata(
				apperrors.CodeInvalidArgument,
				fmt.Sprintf("ttl must be positive, got %s", o.ttl),
				map[string]string{"Field": "ttl", "Rule": "gt"},
			)
		}
		return now.Add(o.ttl).Truncate(time.Millisecond), nil
	case defaultTTL > 0:
		return now.Add(defaultTTL).Truncate(time.Millisecond), nil
	default:
		return time.Time{}, nil
	}
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.partition = strings.TrimSpace(o.partition)
	return o
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return apperrors.WithMetadata(
			apperrors.CodeInvalidArgument,
			"key is required",
			map[string]string{"Field": "key", "Rule": "required"},
		)
	}
	return nil
}
