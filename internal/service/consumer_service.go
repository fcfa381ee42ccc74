package service

import (
	"context"
	"encoding/json"

	"csv-analyst-be/internal/constant"
	"csv-analyst-be/internal/pkg/logger"
	"csv-analyst-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService writes every session event to the audit log.
type consumerService struct {
	subscriber message.Subscriber
	topics     []string
	logger     logger.ILogger
}

func NewConsumerService(subscriber message.Subscriber, logger logger.ILogger, topics ...string) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topics:     topics,
		logger:     logger,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	for _, topic := range cs.topics {
		messages, err := cs.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return err
		}

		go func(topic string, messages <-chan *message.Message) {
			for msg := range messages {
				cs.processMessage(topic, msg)
			}
		}(topic, messages)
	}

	return nil
}

func (cs *consumerService) processMessage(topic string, msg *message.Message) {
	var evt events.SessionEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		cs.logger.Error(constant.ModuleAudit, "Failed to unmarshal event", map[string]interface{}{
			"topic":      topic,
			"message_id": msg.UUID,
			"error":      err,
		})
		// Malformed payloads would be redelivered forever.
		msg.Ack()
		return
	}

	details := map[string]interface{}{
		"topic":       topic,
		"session_id":  evt.SessionID,
		"occurred_at": evt.OccurredAt,
	}
	for k, v := range evt.Data {
		details[k] = v
	}

	if topic == constant.TopicTurnFailed {
		cs.logger.Warn(constant.ModuleAudit, "Chat turn failed", details)
	} else {
		cs.logger.Info(constant.ModuleAudit, "Session event", details)
	}
	msg.Ack()
}
