package monitor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/makt28/vigil/internal/model"
)

// ProbeResult is the outcome of a single probe attempt.
type ProbeResult struct {
	Status     model.Status
	StatusCode *int
	Latency    time.Duration
	Error      string
}

// Up reports whether the target answered, degraded or not.
func (r ProbeResult) Up() bool {
	return r.Status != model.StatusError
}

// Prober is the interface for all probe type implementations.
type Prober interface {
	Probe(ctx context.Context, target string) ProbeResult
}

// --- HTTP Prober ---

// HTTPProber treats any status >= 400 as an error and a slow success as degraded.
type HTTPProber struct {
	Method        string
	DegradedAfter time.Duration
	client        *http.Client
}

func NewHTTPProber(method string, ignoreTLS bool, degradedAfter time.Duration) *HTTPProber {
	if method == "" {
		method = http.MethodGet
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: ignoreTLS},
	}
	return &HTTPProber{
		Method:        method,
		DegradedAfter: degradedAfter,
		client:        &http.Client{Transport: transport},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, target string) ProbeResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, p.Method, target, nil)
	if err != nil {
		return ProbeResult{Status: model.StatusError, Error: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("User-Agent", "vigil-checker/1")

	resp, err := p.client.Do(req)
	if err != nil {
		return ProbeResult{
			Status:  model.StatusError,
			Latency: time.Since(start),
			Error:   fmt.Sprintf("request failed: %v", err),
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	latency := time.Since(start)
	code := resp.StatusCode

	if code >= 400 {
		return ProbeResult{
			Status:     model.StatusError,
			StatusCode: &code,
			Latency:    latency,
			Error:      fmt.Sprintf("HTTP %d", code),
		}
	}

	if p.DegradedAfter > 0 && latency > p.DegradedAfter {
		return ProbeResult{
			Status:     model.StatusDegraded,
			StatusCode: &code,
			Latency:    latency,
			Error:      fmt.Sprintf("slow response: %s", latency.Round(time.Millisecond)),
		}
	}
	return ProbeResult{Status: model.StatusActive, StatusCode: &code, Latency: latency}
}

// --- TCP Prober ---

type TCPProber struct {
	DegradedAfter time.Duration
}

func (p *TCPProber) Probe(ctx context.Context, target string) ProbeResult {
	start := time.Now()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return ProbeResult{
			Status:  model.StatusError,
			Latency: time.Since(start),
			Error:   fmt.Sprintf("tcp dial: %v", err),
		}
	}
	conn.Close()

	latency := time.Since(start)
	if p.DegradedAfter > 0 && latency > p.DegradedAfter {
		return ProbeResult{
			Status:  model.StatusDegraded,
			Latency: latency,
			Error:   fmt.Sprintf("slow connect: %s", latency.Round(time.Millisecond)),
		}
	}
	return ProbeResult{Status: model.StatusActive, Latency: latency}
}

// NewProber creates the appropriate prober for a monitor type.
func NewProber(monitorType, method string, ignoreTLS bool, degradedAfter time.Duration) Prober {
	switch monitorType {
	case "tcp":
		return &TCPProber{DegradedAfter: degradedAfter}
	default:
		return NewHTTPProber(method, ignoreTLS, degradedAfter)
	}
}
