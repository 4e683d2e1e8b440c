// ============================================================================
// slurm-queue Worker - Simulated Compute Node
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: One simulated compute node, each Worker runs in its own goroutine
//
// How it works:
//   1. Receive a task from taskCh (blocking wait)
//   2. Hold the node for task.Runtime, or until the pool stops
//   3. Send the result to resultCh
//   4. Repeat until taskCh is closed
//
// Tasks waiting in taskCh are the cluster's pending jobs. Both pending and
// running tasks are listed by squeue, so the queue model matches Slurm.
//
// ============================================================================

package worker

import (
	"time"
)

// Worker 模擬一個計算節點
type Worker struct {
	id       int
	taskCh   <-chan Task
	resultCh chan<- Result
	stopCh   <-chan struct{}
}

func newWorker(id int, taskCh <-chan Task, resultCh chan<- Result, stopCh <-chan struct{}) *Worker {
	return &Worker{
		id:       id,
		taskCh:   taskCh,
		resultCh: resultCh,
		stopCh:   stopCh,
	}
}

// Run 節點主循環
func (w *Worker) Run() {
	for task := range w.taskCh {
		start := time.Now()
		err := w.execute(task)

		result := Result{
			Number:   task.Number,
			Node:     w.id,
			Duration: time.Since(start),
			Err:      err,
		}

		select {
		case w.resultCh <- result:
		case <-w.stopCh:
			return
		}
	}
}

// execute 佔用節點 task.Runtime，pool 停止時中斷
func (w *Worker) execute(task Task) error {
	if task.Runtime <= 0 {
		return nil
	}

	timer := time.NewTimer(task.Runtime)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-w.stopCh:
		return ErrPoolClosed
	}
}
