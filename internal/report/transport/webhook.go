package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	reportdomain "github.com/daddykev/stardust-dsp/internal/report/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the payload body when the
// destination configures a secret.
const SignatureHeader = "X-Stardust-Signature"

// Webhook notifies the distributor that a report is ready for download; the
// artifact travels by signed URL, not in the request body.
type Webhook struct {
	client *http.Client
}

func NewWebhook() *Webhook {
	return &Webhook{client: &http.Client{Timeout: dialTimeout}}
}

func (t *Webhook) Name() string { return "webhook" }

type webhookPayload struct {
	Event       string                  `json:"event"`
	ReportID    string                  `json:"reportId"`
	Type        string                  `json:"type"`
	Format      reportdomain.Format     `json:"format"`
	Period      string                  `json:"period"`
	Territory   string                  `json:"territory,omitempty"`
	DownloadURL string                  `json:"downloadUrl"`
	ExpiresAt   string                  `json:"expiresAt"`
	Statistics  reportdomain.Statistics `json:"statistics"`
	GeneratedAt string                  `json:"generatedAt"`
}

func (t *Webhook) Send(ctx context.Context, a Artifact) error {
	dest := a.Report.DestinationSpec()
	url := dest.Settings["url"]
	if url == "" {
		return fmt.Errorf("webhook transport: destination has no url")
	}

	body, err := json.Marshal(webhookPayload{
		Event:       "report.ready",
		ReportID:    strconv.FormatInt(int64(a.Report.ID), 10),
		Type:        a.Report.Type,
		Format:      a.Report.Format,
		Period:      a.Report.Period,
		Territory:   a.Report.Territory,
		DownloadURL: a.Report.DownloadURL,
		ExpiresAt:   a.Report.ExpiresAt.UTC().Format(time.RFC3339),
		Statistics:  a.Report.StatisticsData(),
		GeneratedAt: a.Report.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("webhook transport: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret := dest.Settings["secret"]; secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook transport: post %s: %w", url, err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook transport: %s responded %d", url, resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 a receiver verifies against.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
