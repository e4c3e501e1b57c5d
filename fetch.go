package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// maxPageBytes caps listing and detail pages; documents are streamed.
const maxPageBytes = 16 << 20

var errStalled = errors.New("download stalled")

// Fetcher is the HTTP client of a run: browser User-Agent and a short retry
// for HTML pages. Pages are bounded by the request timeout as a whole;
// streamed documents only by connect, header and idle-read timeouts.
type Fetcher struct {
	client    *http.Client
	stream    *http.Client
	idle      time.Duration
	userAgent string
	retries   int
	backoff   time.Duration
	logger    *zap.Logger
}

func NewFetcher(cfg Config, logger *zap.Logger) *Fetcher {
	timeout := cfg.Timeout()
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = timeout
	tr.ResponseHeaderTimeout = timeout

	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		stream:    &http.Client{Transport: tr},
		idle:      timeout,
		userAgent: cfg.UserAgent,
		retries:   cfg.RequestRetries,
		backoff:   500 * time.Millisecond,
		logger:    logger,
	}
}

// Page is a fully read HTML response.
type Page struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx or 3xx status.
func (p *Page) OK() bool { return p.Status >= 200 && p.Status < 400 }

func (p *Page) Decode() Decoded { return DecodeBody(p.Body, p.Header) }

// Document decodes the body and parses it.
func (p *Page) Document() (*goquery.Document, Decoded, error) {
	dec := p.Decode()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(dec.Text))
	if err != nil {
		return nil, dec, fmt.Errorf("parse %s: %w", p.URL, err)
	}
	return doc, dec, nil
}

func (f *Fetcher) Get(ctx context.Context, u string, header http.Header) (*Page, error) {
	return f.do(ctx, http.MethodGet, u, nil, header)
}

func (f *Fetcher) PostForm(ctx context.Context, u string, form url.Values, header http.Header) (*Page, error) {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(ctx, http.MethodPost, u, []byte(form.Encode()), h)
}

// do retries transport errors and 5xx answers; any other status is returned
// to the caller as is.
func (f *Fetcher) do(ctx context.Context, method, u string, body []byte, header http.Header) (*Page, error) {
	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(f.backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			f.logger.Debug("retry", zap.String("url", u), zap.Int("attempt", attempt+1))
		}
		page, err := f.once(ctx, method, u, body, header)
		if err == nil && page.Status < 500 {
			return page, nil
		}
		if err == nil {
			lastErr = errUnexpectedStatus(page.Status)
			if attempt == f.retries {
				return page, nil
			}
			continue
		}
		lastErr = err
	}
	return nil, lastErr
}

func (f *Fetcher) once(ctx context.Context, method, u string, body []byte, header http.Header) (*Page, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := f.newRequest(ctx, method, u, rd, header)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	return &Page{URL: u, Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

// Stream starts a GET and hands the open response to the caller. The body
// fails with errStalled once no bytes arrive for the idle timeout; a slow
// but steady transfer is never cut off.
func (f *Fetcher) Stream(ctx context.Context, u string) (*http.Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := f.newRequest(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := f.stream.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	body := &idleBody{rc: resp.Body, idle: f.idle, cancel: cancel}
	body.timer = time.AfterFunc(f.idle, body.expire)
	resp.Body = body
	return resp, nil
}

// idleBody cancels its request when a read waits longer than idle.
type idleBody struct {
	rc      io.ReadCloser
	idle    time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	stalled atomic.Bool
}

func (b *idleBody) expire() {
	b.stalled.Store(true)
	b.cancel()
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if b.stalled.Load() {
		return n, fmt.Errorf("%w: no data for %s", errStalled, b.idle)
	}
	if n > 0 {
		b.timer.Reset(b.idle)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	err := b.rc.Close()
	b.cancel()
	return err
}

func (f *Fetcher) newRequest(ctx context.Context, method, u string, body io.Reader, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", u, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}
