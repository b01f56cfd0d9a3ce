// Package schedule 按 cron 表达式周期性地提交智能体任务。
package schedule

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
)

// Entry 描述一条定时任务。
type Entry struct {
	Name    string          `yaml:"name" json:"name"`
	Agent   agent.Variant   `yaml:"agent" json:"agent"`
	Cron    string          `yaml:"cron" json:"cron"`
	Task    agent.TaskInput `yaml:"task" json:"task"`
	Enabled *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Active 未显式关闭的条目均视为启用。
func (e Entry) Active() bool {
	return e.Enabled == nil || *e.Enabled
}

// Next 返回 after 之后的下一次触发时间。
func (e Entry) Next(after time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(e.Cron, after, false)
	if err != nil {
		return time.Time{}, xerrors.Wrap(xerrors.CodeValidation, err, fmt.Sprintf("计算 %s 的下次执行时间失败", e.Name))
	}
	return next, nil
}

type file struct {
	Schedules []Entry `yaml:"schedules"`
}

// LoadFile 读取 YAML 定时任务定义，路径为空时返回空列表。
func LoadFile(path string) ([]Entry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取定时任务配置失败")
	}
	return Parse(content)
}

// Parse 解析并校验定时任务定义。
func Parse(content []byte) ([]Entry, error) {
	var f file
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析定时任务配置失败")
	}
	if err := Validate(f.Schedules); err != nil {
		return nil, err
	}
	return f.Schedules, nil
}

// Validate 检查名称唯一、变体合法且 cron 表达式有效。
func Validate(entries []Entry) error {
	gron := gronx.New()
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("第 %d 条定时任务缺少 name", i+1))
		}
		if _, dup := seen[name]; dup {
			return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("定时任务 %s 重复定义", name))
		}
		seen[name] = struct{}{}
		if !entry.Agent.Valid() {
			return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("定时任务 %s 使用了未知的智能体 %q", name, entry.Agent))
		}
		if !gron.IsValid(entry.Cron) {
			return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("定时任务 %s 的 cron 表达式无效: %s", name, entry.Cron))
		}
	}
	return nil
}
