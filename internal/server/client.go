package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/slurm-queue/internal/jobspec"
	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

// Client calls QueueService on a running controller
type Client struct {
	conn  grpc.ClientConnInterface
	close func() error
}

// Dial connects to addr without transport security
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{conn: conn, close: conn.Close}, nil
}

// NewClient wraps an existing connection; Close does not close it
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, close: func() error { return nil }}
}

// Close releases the connection opened by Dial
func (c *Client) Close() error {
	return c.close()
}

// Stats returns partition counts
func (c *Client) Stats(ctx context.Context) (map[string]int, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodGetStats, &structpb.Struct{}, out); err != nil {
		return nil, err
	}

	stats := make(map[string]int, len(out.GetFields()))
	for k, v := range out.GetFields() {
		stats[k] = int(v.GetNumberValue())
	}
	return stats, nil
}

// Job returns one job view
func (c *Client) Job(ctx context.Context, id types.JobID) (types.JobView, error) {
	in, err := structpb.NewStruct(map[string]any{"id": string(id)})
	if err != nil {
		return types.JobView{}, err
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodGetJob, in, out); err != nil {
		return types.JobView{}, err
	}

	var view types.JobView
	if err := fromStruct(out, &view); err != nil {
		return types.JobView{}, err
	}
	return view, nil
}

// Enqueue sends one job definition and returns the new job IDs
func (c *Client) Enqueue(ctx context.Context, spec jobspec.Spec) ([]types.JobID, error) {
	in, err := specToStruct(spec)
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodEnqueueJob, in, out); err != nil {
		return nil, err
	}

	var resp struct {
		IDs []types.JobID `json:"ids"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func specToStruct(spec jobspec.Spec) (*structpb.Struct, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return structpb.NewStruct(fields)
}

func fromStruct(st *structpb.Struct, v any) error {
	data, err := st.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
