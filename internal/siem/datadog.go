package siem

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
)

// DatadogShipper posts batches to the Datadog Logs intake API as a single
// JSON array, one envelope object per record.
type DatadogShipper struct {
	APIKey  string
	Site    string
	Service string
	Client  *http.Client
}

func NewDatadogShipper(apiKey, site, service string) *DatadogShipper {
	if site == "" {
		site = "datadoghq.com"
	}
	return &DatadogShipper{APIKey: apiKey, Site: site, Service: service, Client: http.DefaultClient}
}

func (d *DatadogShipper) Name() string { return "datadog" }

func (d *DatadogShipper) intakeURL() string {
	return fmt.Sprintf("https://http-intake.logs.%s/api/v2/logs", d.Site)
}

func (d *DatadogShipper) Ship(ctx context.Context, batch [][]byte) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, rec := range batch {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `{"ddsource":"llmfirewall","service":%q,"message":`, d.Service)
		buf.Write(rec)
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.intakeURL(), &buf)
	if err != nil {
		return fmt.Errorf("build datadog request: %w", err)
	}
	req.Header.Set("DD-API-KEY", d.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("datadog logs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("datadog logs returned status %d", resp.StatusCode)
	}
	return nil
}
