package carriers

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// GRPCMetadata adapts gRPC metadata. Keys are lowercased by metadata itself.
type GRPCMetadata metadata.MD

// Get returns the first value for key.
func (m GRPCMetadata) Get(key string) string {
	values := metadata.MD(m).Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Set replaces the values for key.
func (m GRPCMetadata) Set(key, value string) {
	metadata.MD(m).Set(key, value)
}

// IncomingGRPC returns the incoming metadata of ctx as a carrier.
// A context without metadata yields an empty carrier.
func IncomingGRPC(ctx context.Context) GRPCMetadata {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return GRPCMetadata(metadata.MD{})
	}
	return GRPCMetadata(md)
}

// OutgoingGRPC returns a copy of the outgoing metadata of ctx as a carrier
// together with a function that attaches it to a context.
func OutgoingGRPC(ctx context.Context) (GRPCMetadata, func(context.Context) context.Context) {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.MD{}
	} else {
		md = md.Copy()
	}
	return GRPCMetadata(md), func(ctx context.Context) context.Context {
		return metadata.NewOutgoingContext(ctx, md)
	}
}
