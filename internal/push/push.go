// Package push abstracts the downstream push-notification provider.
package push

import "context"

// Status classifies a send outcome for the retry policy.
type Status int

const (
    StatusOK Status = iota
    // StatusTransient failures (timeouts, rate limits, 5xx) are retried with
    // backoff by the delivery worker.
    StatusTransient
    // StatusPermanent failures (invalid or unregistered token) dead-letter
    // the job immediately and raise a token-invalidation signal.
    StatusPermanent
)

func (s Status) String() string {
    switch s {
    case StatusOK:
        return "ok"
    case StatusTransient:
        return "transient"
    }
    return "permanent"
}

// Notification is the payload delivered to one device.
type Notification struct {
    Title string            `json:"title"`
    Body  string            `json:"body"`
    Data  map[string]string `json:"data,omitempty"`
}

// Sender sends one notification to one device token. The error carries
// detail for logging; Status drives the retry decision.
type Sender interface {
    Send(ctx context.Context, token string, n Notification) (Status, error)
}
