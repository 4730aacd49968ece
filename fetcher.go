package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher abstracts the polled data source.
type Fetcher interface {
	Fetch(ctx context.Context) (*RawRecord, error)
	Name() string
}

// maxPayloadSize bounds how much of a response body is read.
const maxPayloadSize = 1 << 20

type HTTPFetcher struct {
	url    string
	client *http.Client
}

func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) Name() string {
	return f.url
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (*RawRecord, error) {
	if f.url == "" {
		return nil, fmt.Errorf("no endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get telemetry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadSize))
		return nil, fmt.Errorf("get telemetry: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	rec, err := DecodeRawRecord(body)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return rec, nil
}
