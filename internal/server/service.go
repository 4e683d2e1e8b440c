package server

// ============================================================================
// slurmq.v1.QueueService 服務描述
// ============================================================================
//
// 所有請求與回應都是 google.protobuf.Struct，不需要產生程式碼：
//
//   service QueueService {
//     rpc GetStats(google.protobuf.Struct) returns (google.protobuf.Struct);
//     rpc GetJob(google.protobuf.Struct) returns (google.protobuf.Struct);     // {"id": "..."}
//     rpc EnqueueJob(google.protobuf.Struct) returns (google.protobuf.Struct); // job definition
//   }
//
// ============================================================================

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "slurmq.v1.QueueService"

	MethodGetStats   = "/" + ServiceName + "/GetStats"
	MethodGetJob     = "/" + ServiceName + "/GetJob"
	MethodEnqueueJob = "/" + ServiceName + "/EnqueueJob"
)

// QueueServiceServer is the server API for QueueService
type QueueServiceServer interface {
	GetStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	EnqueueJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterQueueServiceServer registers srv on s
func RegisterQueueServiceServer(s grpc.ServiceRegistrar, srv QueueServiceServer) {
	s.RegisterService(&QueueServiceDesc, srv)
}

// QueueServiceDesc is the grpc.ServiceDesc for QueueService
var QueueServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueueServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStats",
			Handler: unaryHandler(MethodGetStats, func(srv QueueServiceServer) unaryMethod {
				return srv.GetStats
			}),
		},
		{
			MethodName: "GetJob",
			Handler: unaryHandler(MethodGetJob, func(srv QueueServiceServer) unaryMethod {
				return srv.GetJob
			}),
		},
		{
			MethodName: "EnqueueJob",
			Handler: unaryHandler(MethodEnqueueJob, func(srv QueueServiceServer) unaryMethod {
				return srv.EnqueueJob
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "slurmq/v1/queue.proto",
}

type unaryMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler 產生與 protoc-gen-go-grpc 相同形狀的 handler
func unaryHandler(fullMethod string, pick func(QueueServiceServer) unaryMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		method := pick(srv.(QueueServiceServer))
		if interceptor == nil {
			return method(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
