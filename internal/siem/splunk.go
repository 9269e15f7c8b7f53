package siem

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
)

// SplunkShipper posts batches to a Splunk HTTP Event Collector endpoint.
// Each record is wrapped in HEC's {"event": ...} envelope and the whole
// batch is sent as one request (HEC accepts concatenated JSON objects).
type SplunkShipper struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewSplunkShipper(url, token string) *SplunkShipper {
	return &SplunkShipper{URL: url, Token: token, Client: http.DefaultClient}
}

func (s *SplunkShipper) Name() string { return "splunk" }

func (s *SplunkShipper) Ship(ctx context.Context, batch [][]byte) error {
	var buf bytes.Buffer
	for _, rec := range batch {
		buf.WriteString(`{"event":`)
		buf.Write(rec)
		buf.WriteString("}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, &buf)
	if err != nil {
		return fmt.Errorf("build splunk request: %w", err)
	}
	req.Header.Set("Authorization", "Splunk "+s.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("splunk HEC request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("splunk HEC returned status %d", resp.StatusCode)
	}
	return nil
}
