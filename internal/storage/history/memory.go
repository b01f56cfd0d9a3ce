package history

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
)

const memoryCapacity = 512

// MemoryRepository 在内存中保留最近的任务，配置数据目录时同时追加写入 JSON Lines
// 文件，重启后恢复。
type MemoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []agent.Task
}

// NewMemoryRepository 创建内存仓库；dataDir 为空时不落盘。
func NewMemoryRepository(dataDir string) (*MemoryRepository, error) {
	repo := &MemoryRepository{}
	if dataDir == "" {
		return repo, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	repo.dataFile = filepath.Join(dataDir, "agent_tasks.jsonl")
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录任务。
func (m *MemoryRepository) Save(_ context.Context, task agent.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dataFile != "" {
		if err := m.appendToDisk(task); err != nil {
			return err
		}
	}

	m.records = append([]agent.Task{task}, m.records...)
	if len(m.records) > memoryCapacity {
		m.records = m.records[:memoryCapacity]
	}
	return nil
}

func (m *MemoryRepository) appendToDisk(task agent.Task) error {
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开任务日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(task)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化任务记录失败", xerrors.WithRetryable(false))
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务日志失败")
	}
	return nil
}

// ListLatest 返回最近的任务记录，按时间倒序排列。
func (m *MemoryRepository) ListLatest(_ context.Context, filter Filter) ([]agent.Task, error) {
	filter = filter.normalized()

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]agent.Task, 0, min(filter.Limit, len(m.records)))
	for _, task := range m.records {
		if filter.Agent != "" && task.AgentID != filter.Agent {
			continue
		}
		results = append(results, task)
		if len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

// Close 对内存仓库无需操作。
func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var restored []agent.Task
	for scanner.Scan() {
		var task agent.Task
		if err := json.Unmarshal(scanner.Bytes(), &task); err != nil {
			continue
		}
		restored = append([]agent.Task{task}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务日志失败")
	}

	if len(restored) > memoryCapacity {
		restored = restored[:memoryCapacity]
	}
	m.records = restored
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
