// Package events publishes session lifecycle events to NATS for
// downstream consumers — most importantly the photo-purge worker, which
// deletes uploaded images after their session is gone. Publishing is
// always best-effort: an unavailable broker never fails the operation
// that triggered the event.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fitmirror/tryon-app/internal/session"
)

// NATS subjects for session lifecycle events.
const (
	SubjectSessionCreated   = "session.created"
	SubjectSessionPurge     = "session.purge"
	SubjectCleanupCompleted = "cleanup.completed"
)

// PurgeEvent tells the purge pipeline which uploaded photos belonged to
// a removed session.
type PurgeEvent struct {
	SessionID     string    `json:"session_id"`
	Reason        string    `json:"reason"` // "deleted" | "cleanup"
	UserPhotos    []string  `json:"user_photos,omitempty"`
	GarmentPhotos []string  `json:"garment_photos,omitempty"`
	RemovedAt     time.Time `json:"removed_at"`
}

// CreatedEvent announces a new session.
type CreatedEvent struct {
	SessionID string    `json:"session_id"`
	ExpiresIn int64     `json:"expires_in"`
	CreatedAt time.Time `json:"created_at"`
}

// CleanupEvent summarizes a completed cleanup run.
type CleanupEvent struct {
	DeletedCount int           `json:"deleted_count"`
	DryRun       bool          `json:"dry_run"`
	Duration     time.Duration `json:"duration"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "tryon-backend",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Publisher wraps the NATS connection. A nil *Publisher is valid and
// drops all events, so the service runs without a broker configured.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS with the given config.
func NewPublisher(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[events] nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[events] nats reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}
	log.Printf("[events] connected to %s", nc.ConnectedUrl())

	return &Publisher{conn: nc}, nil
}

// publish marshals and sends an event. Failures are logged, never
// returned.
func (p *Publisher) publish(subject string, event any) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[events] marshal %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[events] publish %s: %v", subject, err)
	}
}

// SessionCreated announces a newly created session.
func (p *Publisher) SessionCreated(id string, expiresIn int64) {
	p.publish(SubjectSessionCreated, CreatedEvent{
		SessionID: id,
		ExpiresIn: expiresIn,
		CreatedAt: time.Now().UTC(),
	})
}

// SessionPurged emits a purge event for a removed session so its photos
// can be deleted from blob storage.
func (p *Publisher) SessionPurged(rec *session.Record, reason string) {
	p.publish(SubjectSessionPurge, PurgeEvent{
		SessionID:     rec.SessionID,
		Reason:        reason,
		UserPhotos:    rec.UserPhotos,
		GarmentPhotos: rec.GarmentPhotos,
		RemovedAt:     time.Now().UTC(),
	})
}

// CleanupCompleted announces a finished cleanup run.
func (p *Publisher) CleanupCompleted(deleted int, dryRun bool, duration time.Duration) {
	p.publish(SubjectCleanupCompleted, CleanupEvent{
		DeletedCount: deleted,
		DryRun:       dryRun,
		Duration:     duration,
		CompletedAt:  time.Now().UTC(),
	})
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
