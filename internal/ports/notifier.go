package ports

import "context"

// Notifier delivers a run summary to a human after the pipeline finishes.
// Implementations decide the transport and the recipients.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}
