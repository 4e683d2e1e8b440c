// Package api exposes the controller over HTTP
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ChuLiYu/slurm-queue/internal/jobmanager"
	"github.com/ChuLiYu/slurm-queue/internal/jobspec"
	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

// logger 每次取用目前的預設 logger，CLI 啟動時會以 slog.SetDefault 替換
func logger() *slog.Logger { return slog.Default() }

// maxBodyBytes POST /v1/jobs 的請求大小上限
const maxBodyBytes = 1 << 20

// Queue is the part of the controller the API needs
type Queue interface {
	Stats() map[string]int
	Jobs() []types.JobView
	Job(id types.JobID) (types.JobView, bool)
	Enqueue(job *types.Job) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	queue Queue
}

// NewJobHandler creates a new job handler
func NewJobHandler(queue Queue) *JobHandler {
	return &JobHandler{queue: queue}
}

// EnqueueResponse is returned by POST /v1/jobs
type EnqueueResponse struct {
	IDs        []types.JobID `json:"ids"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// ListResponse is returned by GET /v1/jobs
type ListResponse struct {
	Jobs  []types.JobView `json:"jobs"`
	Count int             `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// EnqueueJob handles POST /v1/jobs
//
// 請求本體為單一任務定義（與任務檔中的 jobs 項目相同），count 大於 1 時
// 會建立多個任務。
func (h *JobHandler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	spec, err := jobspec.DecodeSpecJSON(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := spec.Build()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job: "+err.Error())
		return
	}

	resp := EnqueueResponse{IDs: make([]types.JobID, 0, len(jobs)), EnqueuedAt: time.Now().UTC()}
	for _, job := range jobs {
		if err := h.queue.Enqueue(job); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, jobmanager.ErrDuplicateJob) {
				status = http.StatusConflict
			}
			writeError(w, status, err.Error())
			return
		}
		resp.IDs = append(resp.IDs, job.ID())
	}

	logger().Info("Jobs enqueued over HTTP", "count", len(resp.IDs), "remote", r.RemoteAddr)
	writeJSON(w, http.StatusCreated, resp)
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := types.JobID(mux.Vars(r)["id"])

	view, ok := h.queue.Job(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found: "+string(id))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListJobs handles GET /v1/jobs, optionally filtered by ?status=
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.queue.Jobs()

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := jobs[:0]
		for _, v := range jobs {
			if string(v.Status) == status {
				filtered = append(filtered, v)
			}
		}
		jobs = filtered
	}

	writeJSON(w, http.StatusOK, ListResponse{Jobs: jobs, Count: len(jobs)})
}

// GetStats handles GET /v1/stats
func (h *JobHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger().Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
