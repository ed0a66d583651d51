package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"judgebox/internal/common/mq"
	"judgebox/internal/judge/model"
	appErr "judgebox/pkg/errors"
)

// VerdictEventPublisher publishes verdict events for downstream consumers.
type VerdictEventPublisher interface {
	PublishVerdict(ctx context.Context, event model.VerdictEvent) error
}

// MQVerdictEventPublisher publishes verdict events to a message queue.
type MQVerdictEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQVerdictEventPublisher creates a new MQ verdict event publisher.
func NewMQVerdictEventPublisher(producer mq.Producer, topic string) *MQVerdictEventPublisher {
	return &MQVerdictEventPublisher{producer: producer, topic: topic}
}

// PublishVerdict publishes one verdict event keyed by submission id.
func (p *MQVerdictEventPublisher) PublishVerdict(ctx context.Context, event model.VerdictEvent) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("verdict publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("verdict topic is required")
	}
	if event.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal verdict event failed: %w", err)
	}
	message := mq.NewMessage(event.SubmissionID, payload)
	message.SetHeader("verdict", string(event.Verdict))
	message.SetHeader("language", event.Language)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.EventPublishFailed, "publish verdict event failed")
	}
	return nil
}
