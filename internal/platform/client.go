package platform

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

// Options tunes the transport of a Client.
type Options struct {
	Timeout      time.Duration
	RetryMax     int // retries after the first attempt
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	RetryMethods []string
	LogRequests  bool // log every attempt at debug level
}

// Client is the authenticated HTTP transport to the remote site server.
// Requests made with a retryable method go through a retrying client; all
// others are sent exactly once.
type Client struct {
	baseURL  string
	username string
	password string
	retrying *retryablehttp.Client
	once     *retryablehttp.Client
	methods  map[string]bool
	log      zerolog.Logger
}

// Response is the final answer of the server after retries.
type Response struct {
	StatusCode int
	Body       []byte
}

// NewClient creates a Client from a Connection.
func NewClient(conn *models.Connection, opts Options, log zerolog.Logger) *Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if conn.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if conn.CACert != "" {
		caCertPool := x509.NewCertPool()
		if caCertPool.AppendCertsFromPEM([]byte(conn.CACert)) {
			transport.TLSClientConfig = &tls.Config{RootCAs: caCertPool}
		}
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Re-apply basic auth on redirects
			if len(via) > 0 {
				req.SetBasicAuth(conn.Username, conn.Password)
			}
			return nil
		},
	}

	methods := make(map[string]bool, len(opts.RetryMethods))
	for _, m := range opts.RetryMethods {
		methods[strings.ToUpper(m)] = true
	}
	return &Client{
		baseURL:  conn.BaseURL(),
		username: conn.Username,
		password: conn.Password,
		retrying: newRetryClient(httpClient, opts, opts.RetryMax, log),
		once:     newRetryClient(httpClient, opts, 0, log),
		methods:  methods,
		log:      log,
	}
}

func newRetryClient(hc *http.Client, opts Options, retryMax int, log zerolog.Logger) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = hc
	rc.RetryMax = retryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = &leveledLogger{log: log, requests: opts.LogRequests}
	return rc
}

// retryStatus lists the gateway and server errors worth another attempt.
var retryStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// retryPolicy retries connection errors and the statuses in retryStatus.
// Everything else is handed back for classification.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		// The default policy knows which transport errors are permanent
		// (bad scheme, TLS verification, too many redirects).
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return retryStatus[resp.StatusCode], nil
}

// Do sends one request and returns the final response. payload, when not
// nil, is sent as a JSON body. Only transport failures are returned as
// errors; status interpretation is left to the caller.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values, payload interface{}) (*Response, error) {
	u := c.URL(path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body interface{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling body: %w", err)
		}
		body = data
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rc := c.once
	if c.methods[method] {
		rc = c.retrying
	}
	start := time.Now()
	resp, err := rc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	c.log.Debug().Str("method", method).Str("url", u).Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).Msg("remote call")
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// URL joins path onto the server base URL.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Ping checks that the server answers at all. Any HTTP status counts as
// reachable; authentication is verified separately.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, http.MethodGet, "/", nil, nil)
	return err
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log      zerolog.Logger
	requests bool
}

func (l *leveledLogger) Error(msg string, kv ...interface{}) {
	l.log.Error().Fields(kv).Msg(msg)
}

func (l *leveledLogger) Warn(msg string, kv ...interface{}) {
	l.log.Warn().Fields(kv).Msg(msg)
}

func (l *leveledLogger) Info(msg string, kv ...interface{}) {
	l.log.Info().Fields(kv).Msg(msg)
}

// Debug carries the per-attempt request lines and the retry notices.
func (l *leveledLogger) Debug(msg string, kv ...interface{}) {
	if !l.requests && !strings.HasPrefix(msg, "retrying") {
		return
	}
	ev := l.log.Debug()
	if strings.HasPrefix(msg, "retrying") {
		ev = l.log.Warn()
	}
	ev.Fields(kv).Msg(msg)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var _ retryablehttp.LeveledLogger = (*leveledLogger)(nil)
