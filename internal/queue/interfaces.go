package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/marketmypractice/correlation-service/internal/domain"
)

// TopicPublisher publishes domain events to the queue behind a topic.
type TopicPublisher interface {
	PublishEvent(ctx context.Context, topic domain.Topic, event domain.Event) error
}

// QueueConsumer defines the interface for consuming messages from one
// topic's queue.
type QueueConsumer interface {
	ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error)
	QueueURL() string
}
