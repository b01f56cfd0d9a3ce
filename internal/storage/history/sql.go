package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
)

const (
	insertTaskSQL = `INSERT INTO agent_tasks
        (id, agent_id, title, description, status, result, error_message, created_at, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectTaskColumns = `SELECT id, agent_id, title, description, status, result, error_message, created_at, completed_at
        FROM agent_tasks`
)

// SQLRepository 将任务历史写入 agent_tasks 表，MySQL 与 SQLite 共用同一套语句。
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository 包装已经完成迁移的连接池。
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Save 将任务写入数据库，结果以 JSON 文本保存。
func (s *SQLRepository) Save(ctx context.Context, task agent.Task) error {
	var result sql.NullString
	if task.Result != nil {
		encoded, err := json.Marshal(task.Result)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化任务结果失败", xerrors.WithRetryable(false))
		}
		result = sql.NullString{String: string(encoded), Valid: true}
	}
	var completedAt sql.NullInt64
	if task.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: task.CompletedAt.UnixMilli(), Valid: true}
	}
	errorMessage := sql.NullString{String: task.Error, Valid: task.Error != ""}

	if _, err := s.db.ExecContext(ctx, insertTaskSQL,
		task.ID,
		string(task.AgentID),
		task.Title,
		task.Description,
		string(task.Status),
		result,
		errorMessage,
		task.CreatedAt.UnixMilli(),
		completedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务历史失败")
	}
	return nil
}

// ListLatest 查询最近的任务记录。
func (s *SQLRepository) ListLatest(ctx context.Context, filter Filter) ([]agent.Task, error) {
	filter = filter.normalized()

	var (
		rows *sql.Rows
		err  error
	)
	if filter.Agent != "" {
		rows, err = s.db.QueryContext(ctx, selectTaskColumns+` WHERE agent_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
			string(filter.Agent), filter.Limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectTaskColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, filter.Limit)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务历史失败")
	}
	defer rows.Close()

	var tasks []agent.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务历史失败")
	}
	return tasks, nil
}

func scanTask(rows *sql.Rows) (agent.Task, error) {
	var (
		task         agent.Task
		agentID      string
		status       string
		result       sql.NullString
		errorMessage sql.NullString
		createdAt    int64
		completedAt  sql.NullInt64
	)
	if err := rows.Scan(&task.ID, &agentID, &task.Title, &task.Description, &status, &result, &errorMessage, &createdAt, &completedAt); err != nil {
		return agent.Task{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务历史失败")
	}
	task.AgentID = agent.Variant(agentID)
	task.Status = agent.Status(status)
	task.Error = errorMessage.String
	task.CreatedAt = time.UnixMilli(createdAt).UTC()
	if completedAt.Valid {
		at := time.UnixMilli(completedAt.Int64).UTC()
		task.CompletedAt = &at
	}
	if result.Valid && result.String != "" {
		task.Result = json.RawMessage(result.String)
	}
	return task, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Repository = (*SQLRepository)(nil)
