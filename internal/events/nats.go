package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher implements Publisher using NATS
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSPublisher creates a new NATS-backed publisher
func NewNATSPublisher(natsURL, subject string, logger zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}

	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}, nil
}

// Close closes the NATS connection
func (n *NATSPublisher) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// PublishEpisodeStarted publishes episode start events to NATS
func (n *NATSPublisher) PublishEpisodeStarted(ctx context.Context, event EpisodeStartedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := n.subject + ".started"
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish episode start")
		return err
	}

	n.logger.Debug().
		Str("run_id", event.RunID).
		Str("episode_id", event.EpisodeID).
		Str("subject", subject).
		Msg("Published episode start event")

	return nil
}

// PublishEpisodeFinished publishes episode results to NATS
func (n *NATSPublisher) PublishEpisodeFinished(ctx context.Context, event EpisodeFinishedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := n.subject + ".finished"
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish episode result")
		return err
	}

	// Publish to an outcome routing key so consumers can track wins and
	// losses without decoding every event.
	if event.Outcome != "" {
		routingKey := subject + "." + event.Outcome
		if err := n.conn.Publish(routingKey, data); err != nil {
			n.logger.Error().Err(err).Str("routing_key", routingKey).Msg("Failed to publish to routing key")
		}
	}

	n.logger.Debug().
		Str("run_id", event.RunID).
		Str("episode_id", event.EpisodeID).
		Int("steps", event.Steps).
		Str("subject", subject).
		Msg("Published episode result event")

	return nil
}
