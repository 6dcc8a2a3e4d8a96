// Package messagequeue defines the message queue port for external
// collaborators such as the cron scheduler.
package messagequeue

import "context"

// Subjects used on the queue.
const (
	// SubjectSessionCreate receives session-create requests published by
	// schedulers.
	SubjectSessionCreate = "sessions.create"
	// SubjectSessionCreated announces sessions created from queue requests.
	SubjectSessionCreated = "sessions.created"
)

// Handler processes a received message. A non-nil error causes redelivery.
type Handler func(subject string, data []byte) error

// Queue is the port interface for the message queue.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler Handler) (func(), error)
	Close() error
}
