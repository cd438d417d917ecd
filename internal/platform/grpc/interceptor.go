package grpc

import (
	"context"
	"strings"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// LocaleMetadataKey carries the caller's preferred locale for error messages.
const LocaleMetadataKey = "accept-language"

// UnaryErrorInterceptor converts handler errors into client-facing statuses
// localized for the caller.
func UnaryErrorInterceptor() gogrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return resp, apperrors.HandleError(err, LocaleFromContext(ctx))
		}
		return resp, nil
	}
}

// LocaleFromContext returns the first language tag from incoming metadata,
// or "" when the caller sent none.
func LocaleFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(LocaleMetadataKey)
	if len(values) == 0 {
		return ""
	}
	tag, _, _ := strings.Cut(values[0], ",")
	tag, _, _ = strings.Cut(tag, ";")
	return strings.TrimSpace(tag)
}
