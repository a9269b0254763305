package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// Delivery metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages durably persisted",
		},
		[]string{"kind"},
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_send_failures_total",
			Help: "Sends rejected or aborted",
		},
		[]string{"reason"},
	)

	ReadReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_read_receipts_total",
			Help: "markRead calls that changed state",
		},
	)

	BroadcastFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_broadcast_failures_total",
			Help: "Broadcasts that could not be delivered (message already persisted)",
		},
		[]string{"event"},
	)

	// Attachments
	AttachmentsUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_attachments_uploaded_total",
			Help: "Attachments stored",
		},
		[]string{"kind"},
	)

	AttachmentBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_attachment_bytes_total",
			Help: "Bytes of attachment data stored",
		},
	)

	AttachmentDownloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_attachment_downloads_total",
			Help: "Attachment downloads served",
		},
	)

	// Realtime
	SocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_socket_connections",
			Help: "Authenticated socket connections on this instance",
		},
	)

	SocketAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_socket_auth_failures_total",
			Help: "Socket connections rejected at authentication",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"limiter"},
	)
)
