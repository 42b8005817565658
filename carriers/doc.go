// Package carriers binds transport header bags to the zipkinz.Carrier
// interface so the B3 codec can read and write them directly.
//
//	md := metadata.MD{}
//	zipkinz.Encode(sc, carriers.GRPCMetadata(md))
//	ctx = metadata.NewOutgoingContext(ctx, md)
package carriers
