package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/marketmypractice/correlation-service/internal/config"
	"github.com/marketmypractice/correlation-service/internal/domain"
)

// Client represents an SQS client serving one queue per topic.
type Client struct {
	client *sqs.Client
	config envConfig.SQS
	log    *zap.Logger
}

// NewClient creates a new SQS client.
func NewClient(ctx context.Context, SQSConfig envConfig.SQS, log *zap.Logger) (*Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(SQSConfig.Region),
	}

	var clientOpts []func(*sqs.Options)

	// Configure for local development with ElasticMQ
	if SQSConfig.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", SQSConfig.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(SQSConfig.Endpoint)
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	sqsClient := sqs.NewFromConfig(cfg, clientOpts...)

	log.Info("SQS client created",
		zap.String("region", SQSConfig.Region),
		zap.String("queue_url_prefix", SQSConfig.QueueURLPrefix))

	return &Client{
		client: sqsClient,
		config: SQSConfig,
		log:    log,
	}, nil
}

// Client returns the underlying SQS client.
func (c *Client) Client() *sqs.Client {
	return c.client
}

// queueURL joins the configured prefix with the topic name.
func (c *Client) queueURL(topic domain.Topic) string {
	return c.config.QueueURLPrefix + string(topic)
}

// PublishEvent publishes a domain event to the topic's queue.
func (c *Client) PublishEvent(ctx context.Context, topic domain.Topic, event domain.Event) error {
	bodyJSON, err := json.Marshal(event)
	if err != nil {
		c.log.Error("Failed to marshal event",
			zap.String("event_id", event.ID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL(topic)),
		MessageBody: aws.String(string(bodyJSON)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Kind)),
			},
			"EventID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.ID),
			},
		},
	})
	if err != nil {
		c.log.Error("Failed to send message to SQS",
			zap.String("event_id", event.ID),
			zap.String("topic", string(topic)),
			zap.Error(err))
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	c.log.Debug("Event published to SQS",
		zap.String("event_id", event.ID),
		zap.String("topic", string(topic)))

	return nil
}

// TopicConsumer binds the client to one topic's queue for consumption.
type TopicConsumer struct {
	client *Client
	topic  domain.Topic
}

// Consumer returns a consumer view over the topic's queue.
func (c *Client) Consumer(topic domain.Topic) *TopicConsumer {
	return &TopicConsumer{client: c, topic: topic}
}

// ReceiveMessages receives messages from the topic's queue.
func (t *TopicConsumer) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	return t.client.client.ReceiveMessage(ctx, input)
}

// DeleteMessage deletes a message from the topic's queue.
func (t *TopicConsumer) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	return t.client.client.DeleteMessage(ctx, input)
}

// QueueURL returns the topic's queue URL.
func (t *TopicConsumer) QueueURL() string {
	return t.client.queueURL(t.topic)
}
