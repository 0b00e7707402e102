package appstats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/recallai/separate-streams-recorder/internal/config"
	"github.com/recallai/separate-streams-recorder/internal/pubsub/events"
	log "github.com/sirupsen/logrus"
)

var (
	Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "recorder",
		Name:      "in_requests",
		Help:      "Number of control requests received by the recorder",
	},
		[]string{
			"method",
		})

	InvalidRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: "recorder",
		Name:      "invalid_requests",
		Help:      "Number of invalid control requests",
	})

	Responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "recorder",
		Name:      "out_responses",
		Help:      "Number of events published by the recorder",
	},
		[]string{
			"method",
		})

	Connections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "recorder",
		Name:      "connections",
		Help:      "Current number of upstream connections",
	},
		[]string{
			"transport", // websocket/webhook
		})

	Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "recorder",
		Name:      "messages_total",
		Help:      "Total number of upstream messages by event",
	},
		[]string{
			"event",
		})

	DroppedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "recorder",
		Name:      "dropped_messages_total",
		Help:      "Total number of upstream messages that were not routed",
	},
		[]string{
			"reason", // malformed, unbound, unsupported, unauthorized
		})

	ActivePipelines = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "recorder",
		Name:      "active_pipelines",
		Help:      "Number of open encoding pipelines by kind",
	},
		[]string{
			"kind", // audio/video
		})

	Chunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "recorder",
		Name:      "chunks_total",
		Help:      "Total number of media chunks received",
	},
		[]string{
			"kind",
		})

	DroppedChunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "recorder",
		Name:      "dropped_chunks_total",
		Help:      "Total number of media chunks dropped by gap filling",
	},
		[]string{
			"kind",
			"reason",
		})

	PaddingSeconds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "recorder",
		Name:      "padding_seconds_total",
		Help:      "Total amount of synthesized silence or filler frames, in seconds",
	},
		[]string{
			"kind",
		})

	Flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "recorder",
		Name:      "flushes_total",
		Help:      "Total number of batched writes to encoders",
	},
		[]string{
			"kind",
			"trigger", // threshold/timer/drain
		})

	WrittenBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "recorder",
		Name:      "written_bytes_total",
		Help:      "Total number of bytes written to encoders",
	},
		[]string{
			"kind",
		})

	FlushSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: "recorder",
		Name:      "flush_size_bytes",
		Help:      "Size of batched writes to encoders",
		Buckets:   prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to 2MB
	},
		[]string{
			"kind",
		})

	EncoderErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "recorder",
		Name:      "encoder_errors_total",
		Help:      "Total number of encoder failures",
	},
		[]string{
			"kind",
		})
)

func Init() {
	prometheus.MustRegister(Requests)
	prometheus.MustRegister(InvalidRequests)
	prometheus.MustRegister(Responses)
	prometheus.MustRegister(Connections)
	prometheus.MustRegister(Messages)
	prometheus.MustRegister(DroppedMessages)
	prometheus.MustRegister(ActivePipelines)
	prometheus.MustRegister(Chunks)
	prometheus.MustRegister(DroppedChunks)
	prometheus.MustRegister(PaddingSeconds)
	prometheus.MustRegister(Flushes)
	prometheus.MustRegister(WrittenBytes)
	prometheus.MustRegister(FlushSize)
	prometheus.MustRegister(EncoderErrors)
}

func ServePromMetrics(cfg config.Prometheus) {
	if !cfg.Enable {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(cfg.ListenAddress, mux); err != nil {
			log.Errorf("failed to start metrics server: %s", err)
		}
	}()

	log.Infof("Prometheus metrics exported on %s", cfg.ListenAddress)
}

func OnConnectionOpened(transport string) {
	Connections.WithLabelValues(transport).Inc()
}

func OnConnectionClosed(transport string) {
	Connections.WithLabelValues(transport).Dec()
}

func OnMessage(event string) {
	Messages.WithLabelValues(event).Inc()
}

func OnDroppedMessage(reason string) {
	DroppedMessages.WithLabelValues(reason).Inc()
}

func OnPipelineOpened(kind string) {
	ActivePipelines.WithLabelValues(kind).Inc()
}

func OnPipelineClosed(kind string) {
	ActivePipelines.WithLabelValues(kind).Dec()
}

func OnChunk(kind string) {
	Chunks.WithLabelValues(kind).Inc()
}

func OnDroppedChunk(kind string, reason string) {
	DroppedChunks.With(prometheus.Labels{
		"kind":   kind,
		"reason": reason,
	}).Inc()
}

func OnPadding(kind string, seconds float64) {
	PaddingSeconds.WithLabelValues(kind).Add(seconds)
}

func OnFlush(kind string, trigger string) {
	Flushes.With(prometheus.Labels{
		"kind":    kind,
		"trigger": trigger,
	}).Inc()
}

func OnBytesWritten(kind string, n int) {
	WrittenBytes.WithLabelValues(kind).Add(float64(n))
	FlushSize.WithLabelValues(kind).Observe(float64(n))
}

func OnEncoderError(kind string) {
	EncoderErrors.WithLabelValues(kind).Inc()
}

func OnServerRequest(event *events.Event) {
	if event.IsValid() {
		Requests.WithLabelValues(event.Id).Inc()
	} else {
		InvalidRequests.Inc()
	}
}

func OnServerResponse(msg interface{}) {
	switch msg.(type) {
	case *events.PipelineOpened:
		Responses.WithLabelValues(events.PipelineOpenedKey).Inc()
	case *events.PipelineClosed:
		Responses.WithLabelValues(events.PipelineClosedKey).Inc()
	case *events.RecordingClosed:
		Responses.WithLabelValues(events.RecordingClosedKey).Inc()
	case *events.RecorderStatus:
		Responses.WithLabelValues(events.RecorderStatusKey).Inc()
	default:
		Responses.WithLabelValues("unknown").Inc()
	}
}
