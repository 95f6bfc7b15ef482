package domain

import (
	"context"
	"time"
)

// RunEvent 运行生命周期事件，推送给外部订阅方，不参与任何协调逻辑
type RunEvent struct {
	RunID      int64     `json:"run_id"`
	RunType    RunType   `json:"run_type"`
	Status     RunStatus `json:"status"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher 事件发布接口，实现方必须容忍发送失败（尽力而为）
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, event *RunEvent) error
}

// NopPublisher 未配置消息队列时使用的空实现
type NopPublisher struct{}

// PublishRunEvent 丢弃事件
func (NopPublisher) PublishRunEvent(ctx context.Context, event *RunEvent) error { return nil }
