package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/domain"
)

// MockMessageParser is a mock implementation of MessageParser
type MockMessageParser struct {
	mock.Mock
}

func (m *MockMessageParser) Parse(body []byte) (*domain.AnalyticsEvent, error) {
	args := m.Called(body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AnalyticsEvent), args.Error(1)
}

func TestParserStage_Start_Success(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	stage := NewParserStage(mockConsumer, mockParser, zap.NewNop())

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/sessions-queue").Maybe()
	mockConsumer.On("DeleteMessage", mock.Anything, mock.AnythingOfType("*sqs.DeleteMessageInput")).
		Return(&sqs.DeleteMessageOutput{}, nil).Maybe()

	message := types.Message{
		MessageId:     aws.String("msg-1"),
		Body:          aws.String(`{"event_id": "evt-1"}`),
		ReceiptHandle: aws.String("receipt-1"),
	}
	row := &domain.AnalyticsEvent{
		EventID:   "evt-1",
		SessionID: "sess-abc",
		Kind:      string(domain.RecordVisit),
	}
	mockParser.On("Parse", []byte(`{"event_id": "evt-1"}`)).Return(row, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan types.Message, 1)
	out := make(chan *Envelope, 1)
	go stage.Start(ctx, in, out)

	in <- message
	close(in)

	envelope := <-out
	assert.NotNil(t, envelope)
	assert.Equal(t, "evt-1", envelope.Event.EventID)
	assert.Equal(t, "sess-abc", envelope.Event.SessionID)

	mockParser.AssertExpectations(t)
}

func TestParserStage_Start_MalformedMessageDeleted(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	stage := NewParserStage(mockConsumer, mockParser, zap.NewNop())

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/sessions-queue")
	mockConsumer.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(input *sqs.DeleteMessageInput) bool {
		return aws.ToString(input.ReceiptHandle) == "receipt-1"
	})).Return(&sqs.DeleteMessageOutput{}, nil)

	message := types.Message{
		MessageId:     aws.String("msg-1"),
		Body:          aws.String(`{invalid json}`),
		ReceiptHandle: aws.String("receipt-1"),
	}
	mockParser.On("Parse", []byte(`{invalid json}`)).Return(nil, errors.New("invalid JSON format"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	in := make(chan types.Message, 1)
	out := make(chan *Envelope, 1)
	go stage.Start(ctx, in, out)

	in <- message
	close(in)

	// Nothing makes it downstream; the poison message is deleted.
	_, ok := <-out
	assert.False(t, ok)
	mockConsumer.AssertCalled(t, "DeleteMessage", mock.Anything, mock.Anything)
}

func TestParserStage_AckDeletesMessage(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	mockParser := new(MockMessageParser)
	stage := NewParserStage(mockConsumer, mockParser, zap.NewNop())

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/sessions-queue")
	mockConsumer.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(input *sqs.DeleteMessageInput) bool {
		return aws.ToString(input.ReceiptHandle) == "receipt-1"
	})).Return(&sqs.DeleteMessageOutput{}, nil)

	message := types.Message{
		MessageId:     aws.String("msg-1"),
		Body:          aws.String(`{"event_id": "evt-1"}`),
		ReceiptHandle: aws.String("receipt-1"),
	}
	mockParser.On("Parse", mock.Anything).Return(&domain.AnalyticsEvent{EventID: "evt-1"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan types.Message, 1)
	out := make(chan *Envelope, 1)
	go stage.Start(ctx, in, out)

	in <- message
	close(in)

	envelope := <-out
	assert.NoError(t, envelope.Ack(context.Background()))
	mockConsumer.AssertCalled(t, "DeleteMessage", mock.Anything, mock.Anything)

	// Nack relies on the visibility timeout; it never touches the queue.
	assert.NoError(t, envelope.Nack(context.Background()))
}
