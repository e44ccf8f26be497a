package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// sensitiveFields 不进入内存日志的字段
var sensitiveFields = map[string]struct{}{
	"mnemonic":           {},
	"encrypted_mnemonic": {},
	"mnemonic_key":       {},
	"private_key":        {},
}

// LogManager 最近日志的环形缓冲
type LogManager struct {
	mu    sync.RWMutex
	buf   []LogEntry
	next  int
	count int
}

// NewLogManager 创建日志管理器
func NewLogManager(maxLogs int) *LogManager {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &LogManager{buf: make([]LogEntry, maxLogs)}
}

// AddLog 添加日志，缓冲满时覆盖最旧的一条
func (lm *LogManager) AddLog(entry *logrus.Entry) {
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		if _, hidden := sensitiveFields[k]; hidden {
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.buf[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	}
	lm.next = (lm.next + 1) % len(lm.buf)
	if lm.count < len(lm.buf) {
		lm.count++
	}
}

// newestFirst 按时间倒序返回，level 非空时过滤
func (lm *LogManager) newestFirst(level string) []LogEntry {
	out := make([]LogEntry, 0, lm.count)
	for i := 1; i <= lm.count; i++ {
		idx := (lm.next - i + len(lm.buf)) % len(lm.buf)
		if level != "" && lm.buf[idx].Level != level {
			continue
		}
		out = append(out, lm.buf[idx])
	}
	return out
}

// GetLogsWithPagination 获取分页日志，最新的在前
func (lm *LogManager) GetLogsWithPagination(level string, page, pageSize int) ([]LogEntry, int) {
	lm.mu.RLock()
	logs := lm.newestFirst(level)
	lm.mu.RUnlock()

	total := len(logs)
	start := (page - 1) * pageSize
	if start >= total {
		return []LogEntry{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return logs[start:end], total
}

// ClearLogs 清空日志
func (lm *LogManager) ClearLogs() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.buf = make([]LogEntry, len(lm.buf))
	lm.next = 0
	lm.count = 0
}

// LogHook 把日志同步写入 LogManager 的 logrus 钩子
type LogHook struct {
	manager *LogManager
}

// NewLogHook 创建日志钩子
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{manager: manager}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.AddLog(entry)
	return nil
}

// Levels 只收集 Info 及以上级别
func (h *LogHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	}
}
