package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ChuLiYu/slurm-queue/internal/slurm"
)

// logger 每次取用目前的預設 logger，CLI 啟動時會以 slog.SetDefault 替換
func logger() *slog.Logger { return slog.Default() }

// errSimulatedFailure 模擬 sbatch 無回應
var errSimulatedFailure = errors.New("simulated sbatch failure")

// ClusterConfig 模擬叢集參數
type ClusterConfig struct {
	Nodes             int           // 同時執行的任務數，其餘排隊等待
	MinRuntime        time.Duration // 每個任務的最短執行時間
	MaxRuntime        time.Duration // 每個任務的最長執行時間
	SubmitFailureRate float64       // Submit 回報 unresponsive 的機率 [0,1]
	FirstNumber       int           // 第一個分配的 job number，0 表示 1000
	Seed              int64         // 亂數種子，0 表示以時間為種子
}

// Cluster 是不需要 Slurm 的 slurm.Scheduler。
// 提交的任務在 squeue 中可見，直到某個節點跑完為止。
type Cluster struct {
	cfg  ClusterConfig
	pool *Pool

	mu        sync.Mutex
	rng       *rand.Rand
	next      int
	queued    map[int]struct{}
	completed int

	done chan struct{}
}

var _ slurm.Scheduler = (*Cluster)(nil)

// NewCluster 啟動節點與結果收集 goroutine，用完需呼叫 Close
func NewCluster(cfg ClusterConfig) (*Cluster, error) {
	if cfg.Nodes < 1 {
		cfg.Nodes = 1
	}
	if cfg.MaxRuntime < cfg.MinRuntime {
		cfg.MaxRuntime = cfg.MinRuntime
	}
	if cfg.SubmitFailureRate < 0 || cfg.SubmitFailureRate > 1 {
		return nil, errors.New("submit failure rate must be within [0,1]")
	}
	if cfg.FirstNumber <= 0 {
		cfg.FirstNumber = 1000
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	pool := NewPool(1024)
	if err := pool.Start(cfg.Nodes); err != nil {
		return nil, err
	}

	c := &Cluster{
		cfg:    cfg,
		pool:   pool,
		rng:    rand.New(rand.NewSource(seed)),
		next:   cfg.FirstNumber,
		queued: make(map[int]struct{}),
		done:   make(chan struct{}),
	}
	go c.collect()

	logger().Info("Simulated cluster started", "nodes", cfg.Nodes,
		"min_runtime", cfg.MinRuntime, "max_runtime", cfg.MaxRuntime)
	return c, nil
}

// Submit 分配 job number 並把任務交給節點
func (c *Cluster) Submit(ctx context.Context, script string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &slurm.Error{Kind: slurm.KindUnresponsive, Op: "submit", Err: err}
	}

	c.mu.Lock()
	if c.cfg.SubmitFailureRate > 0 && c.rng.Float64() < c.cfg.SubmitFailureRate {
		c.mu.Unlock()
		return 0, &slurm.Error{Kind: slurm.KindUnresponsive, Op: "submit", Err: errSimulatedFailure}
	}
	number := c.next
	c.next++
	c.queued[number] = struct{}{}
	runtime := c.cfg.MinRuntime
	if span := c.cfg.MaxRuntime - c.cfg.MinRuntime; span > 0 {
		runtime += time.Duration(c.rng.Int63n(int64(span) + 1))
	}
	c.mu.Unlock()

	if err := c.pool.Submit(ctx, Task{Number: number, Script: script, Runtime: runtime}); err != nil {
		c.mu.Lock()
		delete(c.queued, number)
		c.mu.Unlock()
		return 0, &slurm.Error{Kind: slurm.KindUnresponsive, Op: "submit", Err: err}
	}

	logger().Debug("Simulated submit", "number", number, "runtime", runtime)
	return number, nil
}

// ListRunning 回傳 pending 與 running 的任務
func (c *Cluster) ListRunning(ctx context.Context) (map[int]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, &slurm.Error{Kind: slurm.KindUnresponsive, Op: "list", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int]struct{}, len(c.queued))
	for n := range c.queued {
		out[n] = struct{}{}
	}
	return out, nil
}

// Completed 已跑完的任務數
func (c *Cluster) Completed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Close 停止所有節點，未跑完的任務會從佇列消失
func (c *Cluster) Close() {
	c.pool.Stop()
	<-c.done
}

func (c *Cluster) collect() {
	defer close(c.done)
	for {
		result, err := c.pool.ReceiveResult()
		if err != nil {
			return
		}
		if result.Err != nil {
			continue
		}

		c.mu.Lock()
		delete(c.queued, result.Number)
		c.completed++
		c.mu.Unlock()

		logger().Debug("Simulated job left the queue", "number", result.Number,
			"node", result.Node, "duration", result.Duration)
	}
}
