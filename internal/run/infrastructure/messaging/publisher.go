// Package messaging 将运行生命周期事件推送到 Kafka，仅用于对外通知，不参与 worker 协调
package messaging

import (
	"context"
	"strconv"

	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
	"github.com/wyfcoding/quantbacktest/pkg/mq"
)

// KafkaEventPublisher 基于 Kafka 的事件发布实现
type KafkaEventPublisher struct {
	producer *mq.KafkaProducer
	topic    string
}

// NewKafkaEventPublisher 创建事件发布器
func NewKafkaEventPublisher(producer *mq.KafkaProducer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

// PublishRunEvent 发送一条运行状态事件，按 run_id 作为分区键保证单个运行的事件有序
func (p *KafkaEventPublisher) PublishRunEvent(ctx context.Context, event *domain.RunEvent) error {
	key := strconv.FormatInt(event.RunID, 10)
	if err := p.producer.SendMessage(ctx, p.topic, key, event); err != nil {
		// 事件丢失不影响运行处理本身
		logger.Warn(ctx, "Failed to publish run event", "run_id", event.RunID, "status", event.Status, "error", err)
		return err
	}
	return nil
}
