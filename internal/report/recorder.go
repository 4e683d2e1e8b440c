// ============================================================================
// slurm-queue 任務結果紀錄
// ============================================================================
//
// Package: internal/report
// 文件: recorder.go
// 功能: 任務進入終止狀態（FINISHED / CRASHED）或被放棄時，把結果寫到外部儲存
//
// Recorder 只寫不讀；寫入失敗只記錄日誌，不影響 Controller 的循環。
//
// ============================================================================

package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

// DefaultTable 預設資料表名稱
const DefaultTable = "slurmq_job_outcomes"

// Outcome 一筆任務結果
type Outcome struct {
	JobID       types.JobID
	Number      *int // 被放棄的任務沒有外部編號
	Status      types.JobStatus
	Abandoned   bool
	Description string
	Command     string
	Attempts    int
	FinishedAt  time.Time
}

// OutcomeFromView 由任務視圖建立結果
func OutcomeFromView(v types.JobView, at time.Time) Outcome {
	return Outcome{
		JobID:       v.ID,
		Number:      v.Number,
		Status:      v.Status,
		Abandoned:   v.Abandoned,
		Description: v.Description,
		Command:     v.Command,
		Attempts:    v.SubmitAttempts,
		FinishedAt:  at,
	}
}

// Recorder 任務結果紀錄器
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// NopRecorder 不做任何事
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Outcome) error { return nil }

// ============================================================================
// Postgres
// ============================================================================

// Execer 為 *sql.DB 的子集，測試時可替換
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresRecorder 以 lib/pq 將結果 upsert 到 Postgres
type PostgresRecorder struct {
	db    Execer
	table string // 已 quote 的表名
}

// NewPostgresRecorder 建立紀錄器；table 為空時使用 DefaultTable
func NewPostgresRecorder(db Execer, table string) *PostgresRecorder {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresRecorder{db: db, table: pq.QuoteIdentifier(table)}
}

// OpenPostgres 開啟連線並驗證可用
//
// 呼叫者負責關閉回傳的 *sql.DB。
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresRecorder, *sql.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	db := sql.OpenDB(connector)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect postgres: %w", describe(err))
	}
	return NewPostgresRecorder(db, table), db, nil
}

// EnsureSchema 建立資料表（若不存在）
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			job_id      TEXT PRIMARY KEY,
			number      INTEGER,
			status      TEXT NOT NULL,
			abandoned   BOOLEAN NOT NULL DEFAULT FALSE,
			description TEXT NOT NULL DEFAULT '',
			command     TEXT NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			finished_at TIMESTAMPTZ NOT NULL
		)
	`, r.table)

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure schema %s: %w", r.table, describe(err))
	}
	return nil
}

// Record upsert 一筆結果
func (r *PostgresRecorder) Record(ctx context.Context, o Outcome) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (job_id, number, status, abandoned, description, command, attempts, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			number = EXCLUDED.number,
			status = EXCLUDED.status,
			abandoned = EXCLUDED.abandoned,
			attempts = EXCLUDED.attempts,
			finished_at = EXCLUDED.finished_at
	`, r.table)

	var number sql.NullInt64
	if o.Number != nil {
		number = sql.NullInt64{Int64: int64(*o.Number), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		string(o.JobID),
		number,
		string(o.Status),
		o.Abandoned,
		o.Description,
		o.Command,
		o.Attempts,
		o.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", o.JobID, describe(err))
	}
	return nil
}

// describe 為 Postgres 錯誤附上 SQLSTATE 名稱
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s (%s): %w", pqErr.Code.Name(), pqErr.Code, err)
	}
	return err
}
