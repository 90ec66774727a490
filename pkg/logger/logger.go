package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RequestMetrics holds aggregated latency figures for one endpoint
type RequestMetrics struct {
	Count      int           `json:"count"`
	TotalTime  time.Duration `json:"total_time"`
	MinLatency time.Duration `json:"min_latency"`
	MaxLatency time.Duration `json:"max_latency"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// BatchLogger wraps logrus.Logger and folds successful request logs into periodic summaries
type BatchLogger struct {
	*logrus.Logger
	metrics    map[string]*RequestMetrics
	batchCount int
	batchSize  int
	mutex      sync.Mutex
}

// Options controls logger construction
type Options struct {
	Level     string
	Format    string
	Output    io.Writer
	BatchSize int
}

// New creates a logger configured from the given options.
// An empty level falls back to LOG_LEVEL and then to info.
func New(opts Options) *BatchLogger {
	log := logrus.New()

	if strings.EqualFold(opts.Format, "text") {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "time",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "msg",
				logrus.FieldKeyFunc:  "func",
			},
		})
	}

	if opts.Output != nil {
		log.SetOutput(opts.Output)
	} else {
		log.SetOutput(os.Stdout)
	}

	level := opts.Level
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	log.SetLevel(ParseLevel(level))

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &BatchLogger{
		Logger:    log,
		metrics:   make(map[string]*RequestMetrics),
		batchSize: batchSize,
	}
}

// ParseLevel maps a level name to a logrus level, defaulting to info
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// LogRequest logs a request, batching 2xx responses into summaries
func (bl *BatchLogger) LogRequest(method, endpoint string, statusCode int, latency time.Duration, fields logrus.Fields) {
	if statusCode >= 200 && statusCode < 300 {
		bl.batchSuccess(method, endpoint, latency)
		return
	}

	entry := bl.WithFields(fields)
	if statusCode >= 500 {
		entry.Errorf("%s %s - Status: %d, Latency: %v", method, endpoint, statusCode, latency)
	} else if statusCode >= 400 {
		entry.Warnf("%s %s - Status: %d, Latency: %v", method, endpoint, statusCode, latency)
	} else {
		entry.Infof("%s %s - Status: %d, Latency: %v", method, endpoint, statusCode, latency)
	}
}

func (bl *BatchLogger) batchSuccess(method, endpoint string, latency time.Duration) {
	bl.mutex.Lock()
	defer bl.mutex.Unlock()

	key := method + " " + endpoint
	m := bl.metrics[key]
	if m == nil {
		m = &RequestMetrics{MinLatency: latency, MaxLatency: latency}
		bl.metrics[key] = m
	}

	m.Count++
	m.TotalTime += latency
	if latency < m.MinLatency {
		m.MinLatency = latency
	}
	if latency > m.MaxLatency {
		m.MaxLatency = latency
	}
	m.AvgLatency = m.TotalTime / time.Duration(m.Count)

	bl.batchCount++
	if bl.batchCount >= bl.batchSize {
		bl.flushBatch()
	}
}

// flushBatch must be called with the mutex held
func (bl *BatchLogger) flushBatch() {
	if bl.batchCount == 0 {
		return
	}

	bl.WithFields(logrus.Fields{
		"batch_summary":  true,
		"total_requests": bl.batchCount,
		"endpoints":      bl.metrics,
	}).Info("Request batch summary")

	bl.metrics = make(map[string]*RequestMetrics)
	bl.batchCount = 0
}

// FlushPending forces a flush of any pending batch data
func (bl *BatchLogger) FlushPending() {
	bl.mutex.Lock()
	defer bl.mutex.Unlock()
	bl.flushBatch()
}

// Pending returns the number of batched requests not yet summarised
func (bl *BatchLogger) Pending() int {
	bl.mutex.Lock()
	defer bl.mutex.Unlock()
	return bl.batchCount
}
