package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, logrus.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("bogus"))
}

func TestBatchLogger_BatchesSuccessfulRequests(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "info", Output: &buf, BatchSize: 3})

	log.LogRequest("GET", "/api/v1/alerts", 200, 5*time.Millisecond, nil)
	log.LogRequest("GET", "/api/v1/alerts", 200, 7*time.Millisecond, nil)
	assert.Equal(t, 2, log.Pending())
	assert.Empty(t, buf.String())

	log.LogRequest("GET", "/api/v1/metrics", 204, time.Millisecond, nil)
	assert.Equal(t, 0, log.Pending())
	assert.Contains(t, buf.String(), "Request batch summary")
}

func TestBatchLogger_LogsFailuresImmediately(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf})

	log.LogRequest("POST", "/api/v1/alerts/x/resolve", 404, time.Millisecond, logrus.Fields{"client_ip": "127.0.0.1"})
	assert.Contains(t, buf.String(), "Status: 404")
	assert.Equal(t, 0, log.Pending())
}
