package events

import (
	"context"
	"time"

	"dining-service/internal/models"
	"github.com/Tesseract-Nexus/go-shared/events"
	"github.com/sirupsen/logrus"
)

// Dining import event types
const (
	StreamDiningEvents = "DINING_EVENTS"

	ImportCompleted = "dining.import.completed"
	ImportFailed    = "dining.import.failed"
)

// ImportEvent is published when an import run finishes
type ImportEvent struct {
	events.BaseEvent
	RunID       string               `json:"runId"`
	Trigger     models.ImportTrigger `json:"trigger"`
	TriggeredBy string               `json:"triggeredBy"`
	Source      string               `json:"source"`
	Result      *models.ImportResult `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
}

func (e *ImportEvent) GetSubject() string {
	return e.EventType
}

func (e *ImportEvent) GetStream() string {
	return StreamDiningEvents
}

// Publisher wraps the shared events publisher for dining import events
type Publisher struct {
	publisher *events.Publisher
	logger    *logrus.Entry
}

// NewPublisher connects to NATS and ensures the dining stream exists
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	config := events.DefaultPublisherConfig(natsURL)
	config.Name = "dining-service"

	publisher, err := events.NewPublisher(config, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := publisher.EnsureStream(ctx, StreamDiningEvents, []string{"dining.>"}); err != nil {
		logger.WithError(err).Warn("Failed to ensure DINING_EVENTS stream")
	}

	return &Publisher{
		publisher: publisher,
		logger:    logger.WithField("component", "events.publisher"),
	}, nil
}

// PublishImportCompleted publishes a dining.import.completed event
func (p *Publisher) PublishImportCompleted(ctx context.Context, run *models.ImportRun, result *models.ImportResult) error {
	event := newImportEvent(ImportCompleted, run)
	event.Result = result
	return p.publish(ctx, event)
}

// PublishImportFailed publishes a dining.import.failed event
func (p *Publisher) PublishImportFailed(ctx context.Context, run *models.ImportRun, cause error) error {
	event := newImportEvent(ImportFailed, run)
	if cause != nil {
		event.Error = cause.Error()
	}
	return p.publish(ctx, event)
}

func newImportEvent(eventType string, run *models.ImportRun) *ImportEvent {
	return &ImportEvent{
		BaseEvent: events.BaseEvent{
			EventType: eventType,
			SourceID:  run.ID.String(),
			Timestamp: time.Now().UTC(),
		},
		RunID:       run.ID.String(),
		Trigger:     run.Trigger,
		TriggeredBy: run.TriggeredBy,
		Source:      run.Source,
	}
}

func (p *Publisher) publish(ctx context.Context, event *ImportEvent) error {
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"subject": event.GetSubject(),
			"run_id":  event.RunID,
		}).Error("Failed to publish import event")
		return err
	}
	return nil
}

// IsConnected returns true if connected to NATS
func (p *Publisher) IsConnected() bool {
	return p.publisher.IsConnected()
}

// Close closes the publisher connection
func (p *Publisher) Close() {
	p.publisher.Close()
}
