package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/frostdev-ops/pma-monitor/internal/adapters/breaker"
	"github.com/frostdev-ops/pma-monitor/internal/config"
	apperrors "github.com/frostdev-ops/pma-monitor/pkg/errors"
)

// poster sends JSON over HTTP behind a circuit breaker, retrying network
// errors and 5xx responses
type poster struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	retry   *apperrors.RetryExecutor
}

func newPosterWith(name string, timeout time.Duration, cfg config.BreakerConfig, policy *apperrors.RetryPolicy, logger *logrus.Logger) *poster {
	return &poster{
		client:  &http.Client{Timeout: timeout},
		breaker: breaker.New("notify:"+name, cfg, logger),
		retry:   apperrors.NewRetryExecutor(policy, logger),
	}
}

func (p *poster) postJSON(ctx context.Context, url string, hdrs map[string]string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	return p.retry.Execute(ctx, "post "+url, func() error {
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, p.do(ctx, url, hdrs, body)
		})
		return err
	})
}

func (p *poster) do(ctx context.Context, url string, hdrs map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return apperrors.Retryable(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.Retryable(err)
	}
	return err
}
