// Package payout адаптеры провайдера мобильных денег.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

// ClientConfig параметры HTTP-клиента провайдера.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// ConsecutiveFailures после стольких отказов подряд выключатель размыкается.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// Client отправляет выплаты и возвраты провайдеру по HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
}

type transferRequest struct {
	RecipientID string `json:"recipient_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
}

type transferResponse struct {
	TransactionID string `json:"transaction_id"`
}

// statusError ответ провайдера с кодом, отличным от 2xx.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("провайдер ответил %d: %s", e.status, e.body)
}

func NewClient(cfg ClientConfig, log logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}

	failures := cfg.ConsecutiveFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payout",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Отказ клиента (4xx) не говорит о недоступности провайдера.
		IsSuccessful: func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.status < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("payout: состояние выключателя изменилось")
		},
	})
	return c
}

func (c *Client) Disburse(ctx context.Context, transporterID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (string, error) {
	return c.transfer(ctx, "/v1/disbursements", transporterID, amount, idempotencyKey)
}

func (c *Client) Refund(ctx context.Context, shipperID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (string, error) {
	return c.transfer(ctx, "/v1/refunds", shipperID, amount, idempotencyKey)
}

func (c *Client) transfer(ctx context.Context, path string, recipient uuid.UUID, amount decimal.Decimal, key string) (string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, path, transferRequest{
			RecipientID: recipient.String(),
			Amount:      amount.StringFixed(2),
			Currency:    "KES",
			Reference:   key,
		}, key)
	})
	if err != nil {
		return "", classify(err)
	}
	return out.(string), nil
}

func (c *Client) post(ctx context.Context, path string, body transferRequest, key string) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(payload))}
	}

	var parsed transferResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("некорректный ответ провайдера: %w", err)
	}
	if parsed.TransactionID == "" {
		return "", errors.New("провайдер не вернул идентификатор транзакции")
	}
	return parsed.TransactionID, nil
}

// classify 5xx, сетевые ошибки и открытый выключатель можно повторять, 4xx нет.
func classify(err error) error {
	var se *statusError
	if errors.As(err, &se) && se.status < http.StatusInternalServerError {
		e := apperror.Upstream(err, "провайдер отклонил операцию")
		e.Retryable = false
		return e
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperror.Upstream(err, "провайдер выплат временно недоступен")
	}
	return apperror.Upstream(err, "ошибка обращения к провайдеру выплат")
}
