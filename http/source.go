// Package http reads containers served over HTTP.
//
// Source turns a URL that honors byte range requests into a
// tagpack.ByteSource, so a Reader can fetch the header, the index and
// individual sections without downloading the whole container.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
)

var (
	// ErrRangeUnsupported is returned when the server ignores range requests.
	ErrRangeUnsupported = errors.New("http: range requests not supported")

	// ErrRemoteChanged is returned when the remote content no longer matches
	// the validator captured by NewSource.
	ErrRemoteChanged = errors.New("http: remote content changed")
)

// Source implements random access reads via HTTP range requests.
// It satisfies tagpack.ByteSource.
type Source struct {
	ctx          context.Context //nolint:containedctx // io.ReaderAt has no context parameter
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	size         int64
	etag         string
	lastModified string
	sourceID     string
	conditional  bool
	logger       *slog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithSourceID overrides the identifier used to key cached sections.
func WithSourceID(id string) Option {
	return func(s *Source) {
		s.sourceID = id
	}
}

// WithConditionalHeaders makes every range read conditional on the ETag or
// Last-Modified value seen by NewSource. A mismatch fails with
// ErrRemoteChanged.
func WithConditionalHeaders() Option {
	return func(s *Source) {
		s.conditional = true
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource creates a Source for url.
//
// It issues a one-byte range request to learn the content length and
// validators. ctx bounds the probe and every later ReadAt.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		ctx:    ctx,
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}

	if err := s.probe(); err != nil {
		return nil, err
	}
	if s.sourceID == "" {
		s.sourceID = s.defaultSourceID()
	}
	s.log().Debug("http source ready", "url", url, "size", s.size, "etag", s.etag)
	return s, nil
}

func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID returns the URL combined with the strongest validator the
// server reported.
func (s *Source) SourceID() string {
	return s.sourceID
}

func (s *Source) defaultSourceID() string {
	switch {
	case s.etag != "":
		return "url:" + s.url + "|etag:" + s.etag
	case s.lastModified != "":
		return "url:" + s.url + "|mod:" + s.lastModified + "|size:" + strconv.FormatInt(s.size, 10)
	default:
		return "url:" + s.url + "|size:" + strconv.FormatInt(s.size, 10)
	}
}

// ReadAt reads len(p) bytes starting at off with a single range request.
// Reads that extend past the end return the available bytes and io.EOF.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	want := int64(len(p))
	short := false
	if want > s.size-off {
		want = s.size - off
		short = true
	}

	resp, err := s.get(off, off+want-1)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	if resp.StatusCode == nethttp.StatusRequestedRangeNotSatisfiable {
		return 0, io.EOF
	}
	if err := s.checkStatus(resp); err != nil {
		return 0, err
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, fmt.Errorf("read range %d-%d: %w", off, off+want-1, err)
	}
	if short {
		return n, io.EOF
	}
	return n, nil
}

func (s *Source) probe() error {
	resp, err := s.get(0, 0)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode == nethttp.StatusRequestedRangeNotSatisfiable {
		// Empty resources cannot satisfy bytes=0-0.
		size, err := parseUnsatisfiedRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return err
		}
		s.size = size
		s.captureValidators(resp)
		return nil
	}
	if err := s.checkStatus(resp); err != nil {
		return err
	}

	start, _, size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	if start != 0 {
		return fmt.Errorf("range probe: server returned offset %d", start)
	}
	s.size = size
	s.captureValidators(resp)
	return nil
}

func (s *Source) captureValidators(resp *nethttp.Response) {
	s.etag = resp.Header.Get("ETag")
	s.lastModified = resp.Header.Get("Last-Modified")
}

func (s *Source) checkStatus(resp *nethttp.Response) error {
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		return nil
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	case nethttp.StatusPreconditionFailed:
		return ErrRemoteChanged
	default:
		return fmt.Errorf("range request %s: %s", s.url, resp.Status)
	}
}

func (s *Source) get(first, last int64) (*nethttp.Response, error) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if s.conditional {
		if s.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.etag)
		} else if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", first, last))

	s.log().Debug("range request", "url", s.url, "first", first, "last", last)
	return s.client.Do(req)
}

func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// parseContentRange parses "bytes first-last/total".
func parseContentRange(value string) (first, last, total int64, err error) {
	invalid := fmt.Errorf("invalid Content-Range %q", value)

	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, 0, 0, invalid
	}
	span, size, ok := strings.Cut(rest, "/")
	if !ok || size == "*" {
		return 0, 0, 0, invalid
	}
	from, to, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, invalid
	}
	if first, err = strconv.ParseInt(from, 10, 64); err != nil {
		return 0, 0, 0, invalid
	}
	if last, err = strconv.ParseInt(to, 10, 64); err != nil {
		return 0, 0, 0, invalid
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, invalid
	}
	if first < 0 || last < first || total <= last {
		return 0, 0, 0, invalid
	}
	return first, last, total, nil
}

// parseUnsatisfiedRange parses "bytes */total" from a 416 response.
func parseUnsatisfiedRange(value string) (int64, error) {
	size, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes */")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	total, err := strconv.ParseInt(size, 10, 64)
	if err != nil || total < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return total, nil
}
