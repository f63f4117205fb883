package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/daddykev/stardust-dsp/internal/config"
	erndomain "github.com/daddykev/stardust-dsp/internal/ern/domain"
	"github.com/daddykev/stardust-dsp/internal/pipeline"
	"go.uber.org/zap"
)

// Result is the external service's verdict on one ERN message.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type request struct {
	ERNData         json.RawMessage `json:"ernData"`
	Version         string          `json:"version"`
	Profile         string          `json:"profile"`
	ValidationTypes []string        `json:"validationTypes"`
}

// Client talks to the external ERN validation service. Network failures and
// 5xx responses come back wrapped as transient so the message fabric retries
// the stage; a 4xx is a hard request error.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
	log    *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		url:    cfg.Validation.URL,
		apiKey: cfg.Validation.APIKey,
		http:   &http.Client{Timeout: cfg.Validation.Timeout},
		log:    log.Named("ern.validator"),
	}
}

// Validate submits the canonical graph for schema, business and technical
// validation under the detected profile.
func (c *Client) Validate(ctx context.Context, msg *erndomain.Message) (*Result, error) {
	ernData, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode ern data: %w", err)
	}

	body, err := json.Marshal(request{
		ERNData:         ernData,
		Version:         msg.Version,
		Profile:         msg.Profile,
		ValidationTypes: []string{"schema", "business", "technical"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode validation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pipeline.Transient(fmt.Errorf("call validation service: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, pipeline.Transient(fmt.Errorf("validation service returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("validation service rejected request: %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&result); err != nil {
		return nil, pipeline.Transient(fmt.Errorf("decode validation response: %w", err))
	}

	c.log.Debug("validation completed",
		zap.String("message_id", msg.Header.MessageID),
		zap.Bool("valid", result.Valid),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
	)
	return &result, nil
}
