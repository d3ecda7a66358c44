package storage

import "time"

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// AuditRecord 记录一次工具调用及其结果，用于审计与追溯。
//
// 一条记录对应模型发出的一个 tool call；入参与输出统一以字符串存放（超长截断）。
type AuditRecord struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// TraceID 串联同一轮对话内的所有工具调用。
	TraceID string `gorm:"size:64;index"`
	// CallID 为模型分配的 tool call id。
	CallID string `gorm:"size:128;index"`
	// Action 为暴露给模型的工具名。
	Action string `gorm:"size:128;not null;index"`
	// Server 为提供该工具的 MCP Server 名字（本地工具为空）。
	Server     string `gorm:"size:128;index"`
	ParamsJSON string `gorm:"type:text"`
	ResultJSON string `gorm:"type:text"`
	// Status 为 running/success/failed。
	Status       string    `gorm:"size:32;not null;index"`
	ErrorMessage string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime;index"`
}

// TurnRecord 是对话轮次的只写日志：记录问题、回复和本轮产生的消息数。
// 它不会被重新加载到会话中。
type TurnRecord struct {
	ID uint64 `gorm:"primaryKey"`
	// TraceID 与该轮的 AuditRecord 相同。
	TraceID   string `gorm:"size:64;uniqueIndex"`
	SessionID string `gorm:"size:64;index"`
	// Model 为本轮使用的模型标识（provider:model）。
	Model    string `gorm:"size:128"`
	Question string `gorm:"type:text"`
	Reply    string `gorm:"type:text"`
	// Messages 为本轮新增的消息条数（user/assistant/tool）。
	Messages int `gorm:"not null"`
	// ToolCalls 为本轮发出的工具调用总数。
	ToolCalls    int    `gorm:"not null"`
	Status       string `gorm:"size:32;not null;index"`
	ErrorMessage string `gorm:"type:text"`
	StartedAt    time.Time
	FinishedAt   time.Time
	CreatedAt    time.Time `gorm:"not null;autoCreateTime;index"`
}
