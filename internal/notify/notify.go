// Package notify publishes saved-artifact events so downstream consumers
// can react to new records without polling the API.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// SavedArtifact is the event emitted when a record is persisted.
type SavedArtifact struct {
	RecordID string `json:"record_id"`
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
}

// Publisher emits saved-artifact events.
type Publisher interface {
	Publish(ctx context.Context, event SavedArtifact) error
	Close() error
}

// NoOp discards every event; the default when no broker is configured.
type NoOp struct{}

// Publish implements Publisher.
func (NoOp) Publish(context.Context, SavedArtifact) error { return nil }

// Close implements Publisher.
func (NoOp) Close() error { return nil }

// PubSubPublisher emits events to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubPublisher connects to Pub/Sub with Application Default
// Credentials and verifies the topic exists before returning.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string, logger *zap.Logger, opts ...option.ClientOption) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after missing topic", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	return &PubSubPublisher{client: client, topic: topic, logger: logger}, nil
}

// Publish sends the event as a JSON message. The send is asynchronous;
// the client batches and retries in the background.
func (p *PubSubPublisher) Publish(ctx context.Context, event SavedArtifact) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal saved-artifact event: %w", err)
	}
	p.topic.Publish(ctx, &pubsub.Message{Data: payload})
	return nil
}

// Close flushes pending messages and releases the client connection.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
