// Package httpclient implements spec §4.A: HEAD probing and cancellable
// ranged GETs with the retry/backoff policy described there.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/vfaronov/httpheader"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/limiter"
	"github.com/tthsd/tthsd/internal/utils"
)

// HeadResult is the outcome of probing a resource (spec §4.A).
type HeadResult struct {
	TotalSize     int64 // -1 if unknown
	AcceptsRanges bool
	ETag          string
}

// Client performs HEAD and ranged-GET requests against a single resource
// family, tuned for a given number of concurrent connections.
type Client struct {
	http      *http.Client
	userAgent string
}

// New builds a Client whose underlying transport is sized for numConns
// concurrent connections, in the spirit of the teacher's
// newConcurrentClient (spec §5 resource budgets).
func New(numConns int, userAgent string) *Client {
	maxConns := numConns
	if maxConns < 1 {
		maxConns = 1
	}

	transport := &http.Transport{
		MaxIdleConns:        types.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: maxConns + 2,
		MaxConnsPerHost:     maxConns,

		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,

		DisableCompression: true,
		ForceAttemptHTTP2:  false, // force HTTP/1.1 so independent ranges use independent TCP connections
		TLSNextProto:       make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),

		DialContext: (&net.Dialer{
			Timeout:   types.DialTimeout,
			KeepAlive: types.KeepAliveDuration,
		}).DialContext,
	}

	return &Client{
		http: &http.Client{
			Transport:     transport,
			CheckRedirect: redirectPolicy,
		},
		userAgent: userAgent,
	}
}

func redirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= types.MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", types.MaxRedirects)
	}
	return nil
}

// Head issues a HEAD request (falling back to a ranged probe GET, per
// spec §4.A) to determine size and range support. If the request was
// redirected to a different host, the range-support assumption from the
// original host no longer applies, so a fresh HEAD is re-issued directly
// against the redirect target to confirm it (spec §4.A).
func (c *Client) Head(ctx context.Context, url string) (HeadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return HeadResult{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.Request != nil && resp.Request.URL.Host != req.URL.Host {
			if reprobed, ok, rerr := c.reprobeHead(ctx, resp.Request.URL.String()); rerr == nil && ok {
				return reprobed, nil
			}
		}
		if result, ok := headResultFromResponse(resp); ok {
			return result, nil
		}
	}

	// Server didn't answer HEAD usefully (or refused it); probe with a
	// zero-length range GET instead, as spec §4.A permits.
	return c.probeRangeGet(ctx, url)
}

// reprobeHead re-issues a HEAD request directly against finalURL, the
// target of a cross-host redirect, so range support is confirmed for the
// host that will actually serve the ranged GETs rather than assumed from
// the original host's response.
func (c *Client) reprobeHead(ctx context.Context, finalURL string) (HeadResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, finalURL, nil)
	if err != nil {
		return HeadResult{}, false, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return HeadResult{}, false, err
	}
	defer resp.Body.Close()
	result, ok := headResultFromResponse(resp)
	return result, ok, nil
}

func (c *Client) probeRangeGet(ctx context.Context, url string) (HeadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HeadResult{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := c.http.Do(req)
	if err != nil {
		return HeadResult{}, fmt.Errorf("net.connect: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	result := HeadResult{TotalSize: -1}
	result.AcceptsRanges = resp.StatusCode == http.StatusPartialContent

	if cr, err := httpheader.ParseContentRange(resp.Header.Get("Content-Range")); err == nil && cr.Complete > 0 {
		result.TotalSize = cr.Complete
	} else if resp.StatusCode == http.StatusOK {
		if cl := resp.ContentLength; cl >= 0 {
			result.TotalSize = cl
		}
	}
	if et := httpheader.ETag(resp.Header); et.Value != "" {
		result.ETag = et.String()
	}
	return result, nil
}

func headResultFromResponse(resp *http.Response) (HeadResult, bool) {
	if resp.StatusCode != http.StatusOK {
		return HeadResult{}, false
	}
	result := HeadResult{TotalSize: -1}
	if resp.ContentLength >= 0 {
		result.TotalSize = resp.ContentLength
	}
	result.AcceptsRanges = httpheader.AcceptRanges(resp.Header)
	if et := httpheader.ETag(resp.Header); et.Value != "" {
		result.ETag = et.String()
	}
	return result, true
}

// GetRange issues a GET for [start, end) (or an unbounded GET from start if
// end < 0) and streams the body to onChunk until EOF, cancellation, or
// error. It does not retry; callers apply the retry policy (spec §4.A).
func (c *Client) GetRange(ctx context.Context, url string, start, end int64, onChunk func([]byte) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if end >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
	} else if start > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	host := req.URL.Hostname()
	if resp.StatusCode == http.StatusTooManyRequests {
		limiter.GetLimiter(host).Handle429(resp)
		return &StatusError{Code: http.StatusTooManyRequests}
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	limiter.GetLimiter(host).ReportSuccess()

	buf := make([]byte, types.WorkerBuffer)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if cerr := onChunk(buf[:n]); cerr != nil {
				return cerr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			utils.Debug("GetRange: read error: %v", rerr)
			return rerr
		}
	}
}

// StatusError wraps a non-2xx/206 HTTP status for classification.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http.status: %d", e.Code)
}

// Retryable reports whether this status is retryable per spec §4.A (5xx,
// and 408/429 among 4xx).
func (e *StatusError) Retryable() bool {
	if e.Code == 408 || e.Code == 429 {
		return true
	}
	return e.Code >= 500 && e.Code < 600
}

func classifyTransportError(err error) error {
	return fmt.Errorf("net.connect: %w", err)
}

// WaitForHostCooldown blocks until any active 429 cool-down for url's host
// has expired or ctx is done.
func WaitForHostCooldown(ctx context.Context, url string) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return
	}
	limiter.GetLimiter(req.URL.Hostname()).WaitIfBlocked(ctx.Done())
}
