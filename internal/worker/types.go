package worker

import (
	"time"
)

// Task 一個已提交到模擬叢集的任務
type Task struct {
	Number  int           // 模擬的 Slurm job number
	Script  string        // 提交的 sbatch 腳本
	Runtime time.Duration // 在節點上佔用的時間
}

// Result 任務離開叢集時的結果
type Result struct {
	Number   int           // Slurm job number
	Node     int           // 執行的節點編號
	Duration time.Duration // 實際執行時間
	Err      error         // 節點停止時被中斷則為 ErrPoolClosed
}
