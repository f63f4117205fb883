package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// API pushes the artifact body to an authenticated HTTP endpoint.
type API struct {
	client *http.Client
}

func NewAPI() *API {
	return &API{client: &http.Client{Timeout: dialTimeout}}
}

func (t *API) Name() string { return "api" }

func (t *API) Send(ctx context.Context, a Artifact) error {
	dest := a.Report.DestinationSpec()
	url := dest.Settings["url"]
	if url == "" {
		return fmt.Errorf("api transport: destination has no url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(a.Payload))
	if err != nil {
		return fmt.Errorf("api transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", a.ContentType)
	if token := dest.Settings["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("api transport: post %s: %w", url, err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("api transport: %s responded %d", url, resp.StatusCode)
	}
	return nil
}
