package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/slurm-queue/internal/jobmanager"
	"github.com/ChuLiYu/slurm-queue/internal/jobspec"
	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

// logger 每次取用目前的預設 logger，CLI 啟動時會以 slog.SetDefault 替換
func logger() *slog.Logger { return slog.Default() }

// Queue is the part of the controller the gRPC service needs
type Queue interface {
	Stats() map[string]int
	Job(id types.JobID) (types.JobView, bool)
	Enqueue(job *types.Job) error
}

// Server implements QueueServiceServer on top of a Queue
type Server struct {
	queue Queue
}

// NewServer creates a new gRPC service instance
func NewServer(queue Queue) *Server {
	return &Server{queue: queue}
}

// NewGRPCServer returns a grpc.Server with the service registered.
// A panicking handler is turned into codes.Internal instead of killing the process.
func NewGRPCServer(queue Queue, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(recoverUnary)}, opts...)
	s := grpc.NewServer(opts...)
	RegisterQueueServiceServer(s, NewServer(queue))
	return s
}

func recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger().Error("gRPC handler panicked", "method", info.FullMethod, "panic", r)
			err = status.Errorf(codes.Internal, "internal error in %s", info.FullMethod)
		}
	}()
	return handler(ctx, req)
}

// GetStats returns partition counts
func (s *Server) GetStats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats := s.queue.Stats()
	fields := make(map[string]any, len(stats))
	for k, v := range stats {
		fields[k] = v
	}
	return newStruct(fields)
}

// GetJob returns one job view; request is {"id": "..."}
func (s *Server) GetJob(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	view, ok := s.queue.Job(types.JobID(id))
	if !ok {
		return nil, status.Errorf(codes.NotFound, "job not found: %s", id)
	}
	return toStruct(view)
}

// EnqueueJob builds jobs from a job definition and enqueues them.
// Response is {"ids": [...]}.
func (s *Server) EnqueueJob(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	data, err := json.Marshal(req.AsMap())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	spec, err := jobspec.DecodeSpecJSON(data)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	jobs, err := spec.Build()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid job: %v", err)
	}

	ids := make([]any, 0, len(jobs))
	for _, job := range jobs {
		if err := s.queue.Enqueue(job); err != nil {
			code := codes.Internal
			if errors.Is(err, jobmanager.ErrDuplicateJob) {
				code = codes.AlreadyExists
			}
			return nil, status.Error(code, err.Error())
		}
		ids = append(ids, string(job.ID()))
	}

	logger().Info("Jobs enqueued over gRPC", "count", len(ids))
	return newStruct(map[string]any{"ids": ids})
}

// toStruct 透過 JSON 把任意值轉成 Struct
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return newStruct(fields)
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("build response: %v", err))
	}
	return st, nil
}
