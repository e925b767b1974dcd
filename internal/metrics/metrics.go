package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // Reports counts ingested location reports by outcome
    Reports = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "location_reports_total", Help: "Location reports by outcome."},
        []string{"outcome"},
    )
    // Transitions counts membership transitions by kind
    Transitions = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "membership_transitions_total", Help: "Membership transitions by kind."},
        []string{"kind"},
    )
    // AlertsCreated counts newly created alerts
    AlertsCreated = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "alerts_created_total", Help: "Alerts created."},
    )
    // AlertsDeduped counts alert creations suppressed by the dedupe key
    AlertsDeduped = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "alerts_deduped_total", Help: "Alert creations suppressed as duplicates."},
    )
    // AlertsNoDevice counts alerts created for users with no registered device
    AlertsNoDevice = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "alerts_no_device_total", Help: "Alerts created with no registered device."},
    )
    // Deliveries counts delivery attempts by outcome
    Deliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "push_deliveries_total", Help: "Push delivery attempts by outcome."},
        []string{"outcome"},
    )
    // DeliveryLatency tracks push attempt latencies in milliseconds
    DeliveryLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "push_delivery_latency_ms", Help: "Push delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"outcome"},
    )
    // QueueDepth gauges pending + in-flight delivery jobs
    QueueDepth = prometheus.NewGauge(
        prometheus.GaugeOpts{Name: "delivery_queue_depth", Help: "Delivery jobs pending or in flight."},
    )
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
    regOnce.Do(func() {
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(Reports)
        Registry.MustRegister(Transitions)
        Registry.MustRegister(AlertsCreated)
        Registry.MustRegister(AlertsDeduped)
        Registry.MustRegister(AlertsNoDevice)
        Registry.MustRegister(Deliveries)
        Registry.MustRegister(DeliveryLatency)
        Registry.MustRegister(QueueDepth)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
