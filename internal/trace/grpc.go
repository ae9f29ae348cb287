// Package trace - gRPC interceptors for trace propagation.
package trace

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryServerInterceptor extracts trace context from incoming gRPC metadata,
// creating one if absent, and injects it into the handler's context.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extractIncoming(ctx)
		return handler(ctx, req)
	}
}

// StreamServerInterceptor does the same for streaming RPCs by wrapping the
// server stream with a context carrying the extracted trace.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		wrapped := &tracedServerStream{
			ServerStream: ss,
			ctx:          extractIncoming(ss.Context()),
		}
		return handler(srv, wrapped)
	}
}

type tracedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedServerStream) Context() context.Context { return s.ctx }

// extractIncoming pulls trace identifiers from incoming gRPC metadata,
// falling back to a freshly minted trace when the caller sent none.
func extractIncoming(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return WithContext(ctx, New())
	}

	m := make(map[string]string, 2)
	if v := md.Get(TraceIDKey); len(v) > 0 {
		m[TraceIDKey] = v[0]
	}
	if v := md.Get(SpanIDKey); len(v) > 0 {
		m[SpanIDKey] = v[0]
	}
	return WithContext(ctx, FromMap(m))
}
