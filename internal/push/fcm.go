package push

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "strings"
    "time"

    "golang.org/x/time/rate"
)

// FCM sends notifications through the FCM HTTP v1 API. Endpoint and bearer
// token come from configuration; data values must be strings (FCM rejects
// anything else).
type FCM struct {
    Endpoint string
    Token    string
    HTTP     *http.Client
    limiter  *rate.Limiter
}

// NewFCM builds a sender. ratePerSec caps outbound sends across all workers
// to stay inside provider quotas; 0 disables the limiter.
func NewFCM(endpoint, token string, ratePerSec float64) *FCM {
    f := &FCM{Endpoint: endpoint, Token: token, HTTP: &http.Client{Timeout: 10 * time.Second}}
    if ratePerSec > 0 {
        f.limiter = rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1)
    }
    return f
}

type fcmMessage struct {
    Message struct {
        Token        string            `json:"token"`
        Notification struct {
            Title string `json:"title"`
            Body  string `json:"body"`
        } `json:"notification"`
        Data map[string]string `json:"data,omitempty"`
    } `json:"message"`
}

func (f *FCM) Send(ctx context.Context, token string, n Notification) (Status, error) {
    if f.limiter != nil {
        if err := f.limiter.Wait(ctx); err != nil { return StatusTransient, err }
    }
    var msg fcmMessage
    msg.Message.Token = token
    msg.Message.Notification.Title = n.Title
    msg.Message.Notification.Body = n.Body
    msg.Message.Data = n.Data
    body, err := json.Marshal(msg)
    if err != nil { return StatusPermanent, err }

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(body))
    if err != nil { return StatusPermanent, err }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("Authorization", "Bearer "+f.Token)

    resp, err := f.HTTP.Do(req)
    if err != nil {
        // network errors and timeouts are retryable
        return StatusTransient, err
    }
    defer func() { _ = resp.Body.Close() }()
    if resp.StatusCode >= 200 && resp.StatusCode < 300 {
        return StatusOK, nil
    }
    detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
    err = fmt.Errorf("fcm status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
    return classifyHTTP(resp.StatusCode, string(detail)), err
}

// classifyHTTP maps provider responses onto the retry taxonomy. FCM signals
// a dead registration with 404/UNREGISTERED or 400/INVALID_ARGUMENT on the
// token; those must not be retried.
func classifyHTTP(code int, body string) Status {
    switch {
    case code == http.StatusNotFound || code == http.StatusGone:
        return StatusPermanent
    case strings.Contains(body, "UNREGISTERED") || strings.Contains(body, "INVALID_ARGUMENT"):
        return StatusPermanent
    case code == http.StatusTooManyRequests:
        return StatusTransient
    case code >= 500:
        return StatusTransient
    case code >= 400:
        return StatusPermanent
    }
    return StatusTransient
}
