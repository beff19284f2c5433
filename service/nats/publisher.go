package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/sybilwatch/service/metrics"
	"github.com/brojonat/sybilwatch/service/sybil"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing cluster events to NATS.
type Publisher interface {
	// PublishCluster publishes a single cluster event to JetStream.
	PublishCluster(ctx context.Context, event *ClusterEvent) error

	// PublishReport publishes one event per cluster of report and returns
	// the number published.
	PublishReport(ctx context.Context, runID int64, report *sybil.Report) (int, error)

	// Close closes the connection to NATS.
	Close() error
}

const (
	// StreamName is the name of the JetStream stream for cluster events.
	StreamName = "SYBIL_CLUSTERS"

	// SubjectPrefix prefixes the lead identity of each event.
	SubjectPrefix = "sybil.clusters."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + "*"

	// StreamRetention is how long messages are retained.
	StreamRetention = 90 * 24 * time.Hour

	// DuplicateWindow bounds JetStream deduplication by message ID.
	DuplicateWindow = 24 * time.Hour
)

// streamPublisher is the part of jetstream.JetStream used for publishing.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher publishes cluster events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      streamPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("sybilwatch-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := ensureStream(js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func ensureStream(js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Suspected Sybil clusters from analysis runs",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishCluster publishes a single cluster event.
func (p *JetStreamPublisher) PublishCluster(ctx context.Context, event *ClusterEvent) error {
	subject := event.Subject()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal cluster event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.MsgID()))
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(StreamSubjects, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish cluster %s: %w", event.LeadIdentity, err)
	}

	p.logger.Debug("published cluster event",
		"subject", subject,
		"rank", event.Rank,
		"addresses", len(event.Addresses),
	)

	return nil
}

// PublishReport publishes every cluster of report. A failed event is logged
// and skipped; the error returned is the last failure, if any.
func (p *JetStreamPublisher) PublishReport(ctx context.Context, runID int64, report *sybil.Report) (int, error) {
	events := EventsFromReport(runID, report)

	published := 0
	var lastErr error
	for _, event := range events {
		if err := p.PublishCluster(ctx, event); err != nil {
			p.logger.Error("failed to publish cluster event",
				"lead_identity", event.LeadIdentity,
				"rank", event.Rank,
				"error", err,
			)
			lastErr = err
			continue
		}
		published++
	}

	p.logger.Info("published cluster events",
		"run_id", runID,
		"published", published,
		"total", len(events),
	)

	if lastErr != nil {
		return published, fmt.Errorf("published %d of %d cluster events: %w", published, len(events), lastErr)
	}
	return published, nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
