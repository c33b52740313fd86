package nlprp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cratenlp/internal/metrics"
	"cratenlp/pkg/circuit"

	apperrors "cratenlp/pkg/errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ClientConfig is a RemoteExtractor's NLPRP connection configuration,
// mirroring a [cloud:NAME] section (spec.md §6, config.CloudConfig).
type ClientConfig struct {
	BaseURL       string
	Username      string
	Password      string
	Compress      bool
	Timeout       time.Duration
	MaxTries      int
	WaitOnConnErr time.Duration
	RateLimitHz   float64
}

// Client is the HTTP client side of NLPRP: retried, rate-limited, and
// circuit-broken, per spec.md §4.5's RemoteExtractor contract. Grounded
// on the teacher's internal/sinks/splunk_sink.go HTTP client shape
// (http.Client + compressed body + bounded retry-with-backoff), adapted
// from a fire-and-forget log sink to a request/response RPC client, plus
// pkg/circuit for the breaker the sink itself never needed since Splunk
// calls were already behind a queue.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuit.Breaker
	logger  *logrus.Logger
}

func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTries <= 0 {
		cfg.MaxTries = 3
	}
	if cfg.WaitOnConnErr <= 0 {
		cfg.WaitOnConnErr = time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimitHz > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitHz), 1)
	}

	breaker := circuit.New(circuit.Config{Name: "nlprp_client"}, logger)
	breaker.SetStateChangeCallback(func(from, to circuit.State) {
		metrics.SetCircuitBreakerState("nlprp_client", circuitStateGauge(to))
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		breaker: breaker,
		logger:  logger,
	}
}

func circuitStateGauge(s circuit.State) int {
	switch s {
	case circuit.StateOpen:
		return 1
	case circuit.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func (c *Client) ListProcessors(ctx context.Context) (*Response, error) {
	return c.do(ctx, Request{Protocol: newProtocol(), Command: "list_processors"})
}

func (c *Client) Process(ctx context.Context, selectors []ProcessorSelector, content []ContentItem, queue bool) (*Response, error) {
	return c.do(ctx, Request{
		Protocol:           newProtocol(),
		Command:            "process",
		ProcessorSelectors: selectors,
		Content:            content,
		Queue:              queue,
	})
}

func (c *Client) ShowQueue(ctx context.Context, clientJobID string) (*Response, error) {
	return c.do(ctx, Request{Protocol: newProtocol(), Command: "show_queue", ClientJobID: clientJobID})
}

func (c *Client) FetchFromQueue(ctx context.Context, queueID string) (*Response, error) {
	return c.do(ctx, Request{Protocol: newProtocol(), Command: "fetch_from_queue", QueueID: queueID})
}

func (c *Client) DeleteFromQueue(ctx context.Context, queueIDs, clientJobIDs []string, deleteAll bool) (*Response, error) {
	return c.do(ctx, Request{
		Protocol:     newProtocol(),
		Command:      "delete_from_queue",
		QueueIDs:     queueIDs,
		ClientJobIDs: clientJobIDs,
		DeleteAll:    deleteAll,
	})
}

// do sends one NLPRP request, honoring the rate limiter, circuit
// breaker, and retry-with-backoff policy, and returns the parsed
// envelope regardless of HTTP status (callers inspect resp.Errors).
func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	defer func() {
		metrics.NLPRPRequestDuration.WithLabelValues(req.Command).Observe(time.Since(start).Seconds())
	}()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperrors.TransientError("nlprp", "do", apperrors.CodeTransientHTTP, err.Error()).Wrap(err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.ConfigError("nlprp", "do", apperrors.CodeConfigInvalid, err.Error())
	}

	var resp *Response
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxTries; attempt++ {
		breakerErr := c.breaker.Execute(func() error {
			r, err := c.send(ctx, body)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if breakerErr == nil {
			outcome := "ok"
			if attempt > 0 {
				outcome = "retried"
			}
			metrics.NLPRPRequestsTotal.WithLabelValues(req.Command, outcome).Inc()
			return resp, nil
		}
		lastErr = breakerErr

		select {
		case <-ctx.Done():
			metrics.NLPRPRequestsTotal.WithLabelValues(req.Command, "failed").Inc()
			return nil, apperrors.TransientError("nlprp", "do", apperrors.CodeTransientHTTP, ctx.Err().Error()).Wrap(ctx.Err())
		case <-time.After(c.cfg.WaitOnConnErr * time.Duration(attempt+1)):
		}
	}

	metrics.NLPRPRequestsTotal.WithLabelValues(req.Command, "failed").Inc()
	return nil, apperrors.TransientError("nlprp", "do", apperrors.CodeTransientHTTP,
		fmt.Sprintf("exhausted %d attempts: %v", c.cfg.MaxTries, lastErr)).Wrap(lastErr)
}

func (c *Client) send(ctx context.Context, body []byte) (*Response, error) {
	payload := body
	contentEncoding := ""
	if c.cfg.Compress {
		compressed, err := gzipEncode(body)
		if err == nil {
			payload = compressed
			contentEncoding = "gzip"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Accept-Encoding", "gzip")
	if contentEncoding != "" {
		httpReq.Header.Set("Content-Encoding", contentEncoding)
	}
	if c.cfg.Username != "" {
		httpReq.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.Header.Get("Content-Encoding") == "gzip" {
		respBody, err = gzipDecode(respBody)
		if err != nil {
			return nil, err
		}
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
