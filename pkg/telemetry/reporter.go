package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nats-io/nats.go"

	"github.com/memtensor/pastebridge/pkg/config"
	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
	"github.com/memtensor/pastebridge/pkg/types"
)

// NoopReporter drops every report
type NoopReporter struct{}

func (NoopReporter) ReportClipboard(ctx context.Context, s *types.ClipboardSnapshot) (*types.ReportResponse, error) {
	return &types.ReportResponse{Verdict: s.Verdict}, nil
}

func (NoopReporter) ReportFinal(ctx context.Context, c *types.FinalContent) (*types.ReportResponse, error) {
	return &types.ReportResponse{Verdict: types.VerdictPass}, nil
}

func (NoopReporter) Close() error { return nil }

// HTTPReporter posts reports as JSON to the collector endpoints
type HTTPReporter struct {
	client *resty.Client
	config *config.TelemetryConfig
}

// NewHTTPReporter creates a reporter posting to the configured endpoints
func NewHTTPReporter(cfg *config.TelemetryConfig, timeout time.Duration) *HTTPReporter {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("User-Agent", "PasteBridge/1.0")
	return &HTTPReporter{client: client, config: cfg}
}

// ReportClipboard posts a clipboard snapshot
func (r *HTTPReporter) ReportClipboard(ctx context.Context, s *types.ClipboardSnapshot) (*types.ReportResponse, error) {
	return r.post(ctx, r.config.ClipboardEndpoint, s)
}

// ReportFinal posts the final document content
func (r *HTTPReporter) ReportFinal(ctx context.Context, c *types.FinalContent) (*types.ReportResponse, error) {
	return r.post(ctx, r.config.FinalEndpoint, c)
}

func (r *HTTPReporter) post(ctx context.Context, endpoint string, body interface{}) (*types.ReportResponse, error) {
	if endpoint == "" {
		return nil, pberrors.NewReportFailure(endpoint, fmt.Errorf("no endpoint configured"))
	}
	result := &types.ReportResponse{}
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		Post(endpoint)
	if err != nil {
		return nil, pberrors.NewReportFailure(endpoint, err)
	}
	if resp.IsError() {
		return nil, pberrors.NewReportFailure(endpoint, fmt.Errorf("status %d", resp.StatusCode()))
	}
	return result, nil
}

// Close releases idle connections
func (r *HTTPReporter) Close() error {
	r.client.GetClient().CloseIdleConnections()
	return nil
}

// Publisher is the subset of *nats.Conn used for reporting
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSReporter publishes reports on <subject>.clipboard and <subject>.final.
// NATS gives no reply, so the verdict is computed locally.
type NATSReporter struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	phrases []string
}

// NewNATSReporter wraps an existing publisher
func NewNATSReporter(pub Publisher, subject string, phrases []string) *NATSReporter {
	r := &NATSReporter{pub: pub, subject: subject, phrases: phrases}
	if conn, ok := pub.(*nats.Conn); ok {
		r.conn = conn
	}
	return r
}

// ConnectNATSReporter dials the configured server
func ConnectNATSReporter(cfg *config.TelemetryConfig, phrases []string, logger interfaces.Logger) (*NATSReporter, error) {
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("pastebridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", map[string]interface{}{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", map[string]interface{}{"url": nc.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSReporter(conn, cfg.Subject, phrases), nil
}

// ReportClipboard publishes the snapshot
func (r *NATSReporter) ReportClipboard(ctx context.Context, s *types.ClipboardSnapshot) (*types.ReportResponse, error) {
	if err := r.publish(ctx, "clipboard", s); err != nil {
		return nil, err
	}
	verdict, reason := LocalVerdict(s.Text, s.HTML, r.phrases)
	return &types.ReportResponse{Verdict: verdict, Reason: reason}, nil
}

// ReportFinal publishes the final content
func (r *NATSReporter) ReportFinal(ctx context.Context, c *types.FinalContent) (*types.ReportResponse, error) {
	if err := r.publish(ctx, "final", c); err != nil {
		return nil, err
	}
	verdict, reason := LocalVerdict(c.Text, c.HTML, r.phrases)
	return &types.ReportResponse{Verdict: verdict, Reason: reason}, nil
}

func (r *NATSReporter) publish(ctx context.Context, kind string, v interface{}) error {
	subject := r.subject + "." + kind
	if err := ctx.Err(); err != nil {
		return pberrors.NewReportFailure(subject, err)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return pberrors.NewReportFailure(subject, fmt.Errorf("failed to marshal report: %w", err))
	}
	if err := r.pub.Publish(subject, payload); err != nil {
		return pberrors.NewReportFailure(subject, err)
	}
	return nil
}

// Close drains the connection when the reporter owns one
func (r *NATSReporter) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Drain()
}

// NewReporter builds the reporter selected by cfg
func NewReporter(cfg *config.TelemetryConfig, phrases []string, timeout time.Duration, logger interfaces.Logger) (interfaces.Reporter, error) {
	if cfg == nil || !cfg.Enabled {
		return NoopReporter{}, nil
	}
	switch cfg.Backend {
	case "http":
		return NewHTTPReporter(cfg, timeout), nil
	case "nats":
		return ConnectNATSReporter(cfg, phrases, logger)
	case "none", "":
		return NoopReporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported telemetry backend: %s", cfg.Backend)
	}
}
