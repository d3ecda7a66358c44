package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/mcpagent/internal/storage"
)

const (
	auditTruncateLimit = 2048
)

// AuditSink 为审计记录的写入端，*storage.Storage 实现了它
type AuditSink interface {
	InsertAuditRecord(ctx context.Context, rec *storage.AuditRecord) error
	UpdateAuditRecord(ctx context.Context, id uint64, up storage.AuditUpdate) error
}

// AuditedTool 是一个工具包装器，用于在工具执行前后记录审计日志
type AuditedTool struct {
	impl   tool.InvokableTool
	sink   AuditSink
	action string
	server string
	logger *slog.Logger
}

func wrapWithAudit(t tool.InvokableTool, action string, sink AuditSink, logger *slog.Logger) tool.InvokableTool {
	if sink == nil {
		return t
	}
	at := &AuditedTool{impl: t, sink: sink, action: action, logger: logger}
	if s, ok := t.(interface{ Server() string }); ok {
		at.server = s.Server()
	}
	return at
}

func (t *AuditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *AuditedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	record := &storage.AuditRecord{
		TraceID:    GetTraceID(ctx),
		CallID:     compose.GetToolCallID(ctx),
		Action:     t.action,
		Server:     t.server,
		ParamsJSON: truncate(argumentsInJSON, auditTruncateLimit),
		Status:     storage.StatusRunning,
		StartedAt:  time.Now().UTC(),
	}

	// 写审计失败只记日志，不阻断工具执行
	if err := t.sink.InsertAuditRecord(ctx, record); err != nil {
		t.logger.Warn("insert audit record failed", slog.String("tool", t.action), slog.Any("error", err))
	}

	result, runErr := t.impl.InvokableRun(ctx, argumentsInJSON, opts...)

	finishedAt := time.Now().UTC()
	status := storage.StatusSuccess
	var errMsg, resultJSON *string
	if runErr != nil {
		status = storage.StatusFailed
		e := truncate(runErr.Error(), auditTruncateLimit)
		errMsg = &e
	} else {
		r := truncate(result, auditTruncateLimit)
		resultJSON = &r
	}

	// 只有插入成功拿到 ID 后才能更新
	if record.ID != 0 {
		update := storage.AuditUpdate{
			Status:       &status,
			ResultJSON:   resultJSON,
			ErrorMessage: errMsg,
			FinishedAt:   &finishedAt,
		}
		if err := t.sink.UpdateAuditRecord(context.WithoutCancel(ctx), record.ID, update); err != nil {
			t.logger.Warn("update audit record failed", slog.String("tool", t.action), slog.Any("error", err))
		}
	}

	return result, runErr
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
