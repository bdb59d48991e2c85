package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Envelope is the wire shape forwarded to downstream consumers.
type Envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SQSForwarder publishes outbox entries to an SQS queue.
type SQSForwarder struct {
	client   sqsSender
	queueURL string
}

// NewSQSForwarder creates a forwarder around the provided SQS client.
func NewSQSForwarder(client *sqs.Client, queueURL string) *SQSForwarder {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSForwarder(client, queueURL)
}

func newSQSForwarder(client sqsSender, queueURL string) *SQSForwarder {
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSForwarder{client: client, queueURL: queueURL}
}

func (f *SQSForwarder) Handle(ctx context.Context, entry OutboxEntry) error {
	body, err := json.Marshal(Envelope{
		ID:          entry.ID.String(),
		Type:        entry.Type,
		AggregateID: entry.AggregateID,
		Payload:     entry.Payload,
		CreatedAt:   entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	_, err = f.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(f.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}
