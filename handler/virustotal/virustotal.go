// Package virustotal implements the VirusTotal v2 handler family:
// file and URL scans, resource reports, and the polling URL report.
package virustotal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/harborline/procurer/handler"
)

// SupplierName is the supplier key the family registers under.
const SupplierName = "virustotal"

// DefaultBaseURL is the VirusTotal v2 API root.
const DefaultBaseURL = "https://www.virustotal.com/vtapi/v2/"

// URL report polling bounds: a queued scan is re-requested at most
// reportRetries times, reportWait apart.
const (
	reportRetries = 6
	reportWait    = 60 * time.Second
)

// Config wires the family to a transport and API root. The zero value
// uses the public API with a default transport.
type Config struct {
	BaseURL   string
	Transport *handler.Transport

	// PollWait overrides the queued-report polling interval.
	// Intended for tests; zero means the production 60 s.
	PollWait time.Duration
}

// client is the plumbing shared by every handler in the family.
type client struct {
	base      string
	transport *handler.Transport
	pollWait  time.Duration
}

func newClient(cfg Config) *client {
	c := &client{
		base:      cfg.BaseURL,
		transport: cfg.Transport,
		pollWait:  cfg.PollWait,
	}
	if c.base == "" {
		c.base = DefaultBaseURL
	}
	if !strings.HasSuffix(c.base, "/") {
		c.base += "/"
	}
	if c.transport == nil {
		c.transport = handler.NewTransport()
	}
	if c.pollWait <= 0 {
		c.pollWait = reportWait
	}
	return c
}

func (c *client) endpoint(api string) string {
	return c.base + api
}

// values flattens params into form values and adds the apikey.
func values(params map[string]any, key string) url.Values {
	vals := make(url.Values, len(params)+1)
	for name, v := range params {
		vals.Set(name, fmt.Sprint(v))
	}
	vals.Set("apikey", key)
	return vals
}

// fileScan uploads a file to file/scan as a multipart POST. The "file"
// parameter names a local path.
type fileScan struct{ *client }

func (h *fileScan) Name() string { return "FileScan" }

func (h *fileScan) Process(ctx context.Context, params map[string]any, key string) (*handler.Cargo, error) {
	path, _ := params["file"].(string)
	if path == "" {
		return nil, fmt.Errorf("file parameter is required")
	}

	fields := make(map[string]any, len(params))
	for name, v := range params {
		if name == "file" {
			continue
		}
		fields[name] = v
	}
	return h.transport.PostFile(ctx, h.endpoint("file/scan"), values(fields, key), "file", path)
}

// resourceReport fetches a report for a previously submitted resource.
// Covers file/report, file/rescan and ip-address/report, which differ
// only in path.
type resourceReport struct {
	*client
	api  string
	name string
}

func (h *resourceReport) Name() string { return h.name }

func (h *resourceReport) Process(ctx context.Context, params map[string]any, key string) (*handler.Cargo, error) {
	return h.transport.Get(ctx, h.endpoint(h.api), values(params, key))
}

// urlScan submits a URL for scanning via url/scan.
type urlScan struct{ *client }

func (h *urlScan) Name() string { return "UrlScan" }

func (h *urlScan) Process(ctx context.Context, params map[string]any, key string) (*handler.Cargo, error) {
	return h.transport.PostForm(ctx, h.endpoint("url/scan"), values(params, key))
}

// urlReport fetches a URL report via url/report, forcing scan=1 so an
// unknown URL is queued. While the provider reports a queued scan
// (scan_id present, scans absent), the handler re-requests the report
// by scan_id, bounded by reportRetries. Exhausting the retries is not
// an error; the last cargo is returned as-is.
type urlReport struct{ *client }

func (h *urlReport) Name() string { return "UrlReport" }

func (h *urlReport) Process(ctx context.Context, params map[string]any, key string) (*handler.Cargo, error) {
	vals := values(params, key)
	vals.Set("scan", "1")

	cargo, err := h.transport.PostForm(ctx, h.endpoint("url/report"), vals)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < reportRetries; attempt++ {
		scanID, queued := queuedScan(cargo)
		if !queued {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(h.pollWait):
		}

		vals.Set("resource", scanID)
		cargo, err = h.transport.PostForm(ctx, h.endpoint("url/report"), vals)
		if err != nil {
			return nil, err
		}
	}
	return cargo, nil
}

// queuedScan reports whether the cargo describes a still-queued scan.
func queuedScan(c *handler.Cargo) (string, bool) {
	if c.Data == nil {
		return "", false
	}
	scanID, ok := c.Data["scan_id"].(string)
	if !ok || scanID == "" {
		return "", false
	}
	if _, done := c.Data["scans"]; done {
		return "", false
	}
	return scanID, true
}

// domainReport fetches passive data for a domain via domain/report.
type domainReport struct{ *client }

func (h *domainReport) Name() string { return "DomainReport" }

func (h *domainReport) Process(ctx context.Context, params map[string]any, key string) (*handler.Cargo, error) {
	return h.transport.Get(ctx, h.endpoint("domain/report"), values(params, key))
}

// Register installs the whole handler family in the registry.
func Register(cfg Config) {
	c := newClient(cfg)

	handler.Register(SupplierName, "FileScan", &fileScan{c})
	handler.Register(SupplierName, "FileReport", &resourceReport{client: c, api: "file/report", name: "FileReport"})
	handler.Register(SupplierName, "FileRescan", &resourceReport{client: c, api: "file/rescan", name: "FileRescan"})
	handler.Register(SupplierName, "UrlScan", &urlScan{c})
	handler.Register(SupplierName, "UrlReport", &urlReport{c})
	handler.Register(SupplierName, "IPAddressReport", &resourceReport{client: c, api: "ip-address/report", name: "IPAddressReport"})
	handler.Register(SupplierName, "DomainReport", &domainReport{c})
}
