package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
	log        *logrus.Logger
}

func New(timeout time.Duration, retries int) *Client {
	return NewWithLogger(timeout, retries, logrus.StandardLogger())
}

func NewWithLogger(timeout time.Duration, retries int, log *logrus.Logger) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "aggregator-aggregator/1.0",
		log:        log,
	}
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 120 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.log.WithFields(logrus.Fields{
				"url":     req.URL.String(),
				"attempt": attempt,
			}).Debug("retrying provider request")
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(bo.NextBackOff()):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "read provider response", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = clierr.New(clierr.CodeRateLimited, "provider rate limited request")
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp.Header, clierr.New(clierr.CodeAuth, "provider authentication failed")
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = clierr.New(clierr.CodeProviderFailed, fmt.Sprintf("provider unavailable (status %d)", resp.StatusCode))
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.Header, clierr.New(clierr.CodeProviderFailed, fmt.Sprintf("provider returned unexpected status %d", resp.StatusCode))
		}

		if out == nil {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, clierr.New(clierr.CodeProviderFailed, "provider returned empty response")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, clierr.Wrap(clierr.CodeProviderFailed, "decode provider JSON", err)
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

// GetJSON issues a GET for url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	return c.DoJSON(ctx, req, out)
}

// PostJSON marshals body as JSON, POSTs it to url and decodes the response
// into out.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) (http.Header, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	return c.DoJSON(ctx, req, out)
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok {
		if nerr.Timeout() {
			return clierr.Wrap(clierr.CodeProviderFailed, "provider timeout", err)
		}
	}
	return clierr.Wrap(clierr.CodeProviderFailed, "provider request failed", err)
}
