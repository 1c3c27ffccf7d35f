package transport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

// serviceName is the GRPC service path every replica registers its Handler
// under. There is no .proto file behind this: requests and responses travel
// as gob-encoded rafttypes values via the "gob" content-subtype codec
// instead of generated protobuf messages.
const serviceName = "raftcore.Raft"

func requestVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(rafttypes.RequestVoteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	h := srv.(Handler)
	if interceptor == nil {
		return h.HandleRequestVote(ctx, req), nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RequestVote"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return h.HandleRequestVote(ctx, req.(*rafttypes.RequestVoteRequest)), nil
	}
	return interceptor(ctx, req, info, handler)
}

func appendEntriesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(rafttypes.AppendEntriesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	h := srv.(Handler)
	if interceptor == nil {
		return h.HandleAppendEntries(ctx, req), nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/AppendEntries"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return h.HandleAppendEntries(ctx, req.(*rafttypes.AppendEntriesRequest)), nil
	}
	return interceptor(ctx, req, info, handler)
}

func installSnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(rafttypes.InstallSnapshotRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	h := srv.(Handler)
	if interceptor == nil {
		return h.HandleInstallSnapshot(ctx, req), nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/InstallSnapshot"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return h.HandleInstallSnapshot(ctx, req.(*rafttypes.InstallSnapshotRequest)), nil
	}
	return interceptor(ctx, req, info, handler)
}

// serviceDesc binds a Handler implementation to the three consensus RPCs
// without a generated protobuf stub.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
		{MethodName: "InstallSnapshot", Handler: installSnapshotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raftcore/transport/servicedesc.go",
}
