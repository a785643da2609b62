// Package transport wraps the HTTPS session to the Lens backend.
//
// Every verb attaches the bearer token (absent only on the authentication
// endpoint), encodes bodies as JSON except multipart uploads, and maps
// failures to the apierr taxonomy. Connection-kind failures and 5xx
// responses are retried with backoff.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ondsel/lens-client/pkg/apierr"
	"github.com/ondsel/lens-client/pkg/logging"
	"github.com/ondsel/lens-client/pkg/retry"
)

// Client is the HTTP client for the Lens API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token for subsequent requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// BaseURL returns the configured API base.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// Get performs a GET on path and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out, true)
}

// Post performs a POST with a JSON body and decodes the response into out.
// withAuth is false only for the authentication endpoint.
func (c *Client) Post(ctx context.Context, path string, body, out interface{}, withAuth bool) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, body, out, withAuth)
}

// Patch performs a PATCH with a JSON body and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, body, out interface{}) error {
	return c.doJSON(ctx, http.MethodPatch, path, nil, body, out, true)
}

// Delete performs a DELETE on path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil, true)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out interface{}, withAuth bool) error {
	op := method + " " + path

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", op, err)
		}
	}

	return retry.Do(ctx, c.retryConfig, func() error {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		var reader io.Reader
		if encoded != nil {
			reader = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return fmt.Errorf("build %s request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if withAuth {
			c.applyAuth(req)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Transient(&apierr.ConnectionError{Op: op, Err: err})
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			data, _ := io.ReadAll(resp.Body)
			if resp.StatusCode >= 500 {
				return retry.Transient(apierr.FromStatus(op, resp.StatusCode, string(data)))
			}
			return apierr.FromStatus(op, resp.StatusCode, string(data))
		}

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &apierr.RequestError{Op: op, Err: err}
		}
		return nil
	})
}

// Upload streams the file at localPath to the upload endpoint as a
// multipart form with a single "file" part keyed by storageName. The
// file is opened and framed fresh on every attempt so a retried request
// always carries the full body.
func (c *Client) Upload(ctx context.Context, storageName, localPath string, out interface{}) error {
	op := "POST /upload"

	return retry.Do(ctx, c.retryConfig, func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return &apierr.LocalIOError{Op: op, Path: localPath, Err: err}
		}
		defer f.Close()

		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			hdr := make(map[string][]string)
			hdr["Content-Disposition"] = []string{
				fmt.Sprintf(`form-data; name="file"; filename=%q`, storageName)}
			hdr["Content-Type"] = []string{"application/octet-stream"}
			part, err := mw.CreatePart(hdr)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, f); err != nil {
				pw.CloseWithError(err)
				return
			}
			pw.CloseWithError(mw.Close())
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
		if err != nil {
			pr.Close()
			return fmt.Errorf("build %s request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", mw.FormDataContentType())
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Transient(&apierr.ConnectionError{Op: op, Err: err})
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			data, _ := io.ReadAll(resp.Body)
			if resp.StatusCode >= 500 {
				return retry.Transient(apierr.FromStatus(op, resp.StatusCode, string(data)))
			}
			return apierr.FromStatus(op, resp.StatusCode, string(data))
		}

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &apierr.RequestError{Op: op, Err: err}
		}
		return nil
	})
}

// DownloadTo streams the body of rawURL into w. The URL may be absolute
// (a signed blob URL) or a path relative to the API base. The bearer
// token is attached only when the URL targets the API base; signed blob
// hosts carry their own credentials in the URL. Any non-200 status is a
// plain API failure regardless of the code, so a 401 from an expired
// signed URL never reads as a session loss.
func (c *Client) DownloadTo(ctx context.Context, rawURL string, w io.Writer) error {
	u := rawURL
	if strings.HasPrefix(u, "/") {
		u = c.baseURL + u
	}
	op := "GET " + u

	return retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("build %s request: %w", op, err)
		}
		if strings.HasPrefix(u, c.baseURL+"/") || u == c.baseURL {
			c.applyAuth(req)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Transient(&apierr.ConnectionError{Op: op, Err: err})
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			apiErr := &apierr.APIError{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
			if resp.StatusCode >= 500 {
				return retry.Transient(apiErr)
			}
			return apiErr
		}

		n, err := io.Copy(w, resp.Body)
		if err != nil {
			logging.Debug("download interrupted",
				logging.String("url", u), logging.Int64("bytes", n))
			return &apierr.RequestError{Op: op, Err: err}
		}
		return nil
	})
}
