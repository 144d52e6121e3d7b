package mediasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

var ErrUnexpectedStatus = errors.New("unexpected media response status")

const readStep = 32 * 1024

// ByteRecorder is told how many bytes each track fetched.
type ByteRecorder func(ctx context.Context, track TrackKind, n int64)

// Loader fetches tracks over HTTP and feeds them into source buffers.
type Loader struct {
	client    *http.Client
	baseURL   *url.URL
	chunkSize int64
	logger    *slog.Logger
	record    ByteRecorder
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) {
		l.client = c
	}
}

// WithChunkSize fetches media in Range requests of n bytes. Zero fetches
// each track in one request.
func WithChunkSize(n int64) LoaderOption {
	return func(l *Loader) {
		l.chunkSize = n
	}
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithByteRecorder installs a fetched bytes hook.
func WithByteRecorder(r ByteRecorder) LoaderOption {
	return func(l *Loader) {
		l.record = r
	}
}

// NewLoader returns a loader resolving track URLs against baseURL.
func NewLoader(baseURL string, opts ...LoaderOption) (*Loader, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse media base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	l := &Loader{
		client:  &http.Client{Timeout: 5 * time.Minute},
		baseURL: base,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "mediasource.loader"))
	return l, nil
}

// Resolve returns the absolute URL of a track.
func (l *Loader) Resolve(track Track) (string, error) {
	ref, err := url.Parse(track.URL)
	if err != nil {
		return "", fmt.Errorf("parse track url: %w", err)
	}
	return l.baseURL.ResolveReference(ref).String(), nil
}

// LoadSourceBuffer fetches track into buffer and returns once the buffer has
// finished its last update.
func (l *Loader) LoadSourceBuffer(ctx context.Context, track Track, buffer SourceBuffer, progress ProgressFunc) (int64, error) {
	target, err := l.Resolve(track)
	if err != nil {
		return 0, err
	}
	if progress == nil {
		progress = func(Progress) {}
	}
	logger := l.logger.With(slog.String("track", string(track.Kind)), slog.String("url", target))
	logger.InfoContext(ctx, "loading track", slog.String("mime_type", buffer.MimeType()))

	var total int64
	if l.chunkSize > 0 {
		total, err = l.fetchRanged(ctx, target, buffer, progress)
	} else {
		total, err = l.fetchWhole(ctx, target, buffer, progress)
	}
	if l.record != nil && total > 0 {
		l.record(ctx, track.Kind, total)
	}
	if err != nil {
		logger.ErrorContext(ctx, "track load failed", slog.String("error", err.Error()))
		return total, err
	}
	logger.InfoContext(ctx, "track loaded", slog.Int64("bytes", total))
	return total, nil
}

func (l *Loader) fetchWhole(ctx context.Context, target string, buffer SourceBuffer, progress ProgressFunc) (int64, error) {
	resp, err := l.get(ctx, target, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	total := resp.ContentLength
	data, err := readWithProgress(resp.Body, 0, total, progress)
	if err != nil {
		return int64(len(data)), err
	}
	return int64(len(data)), appendAndWait(ctx, buffer, data)
}

func (l *Loader) fetchRanged(ctx context.Context, target string, buffer SourceBuffer, progress ProgressFunc) (int64, error) {
	var loaded int64
	total := int64(-1)
	for total < 0 || loaded < total {
		end := loaded + l.chunkSize - 1
		resp, err := l.get(ctx, target, fmt.Sprintf("bytes=%d-%d", loaded, end))
		if err != nil {
			return loaded, err
		}

		switch resp.StatusCode {
		case http.StatusPartialContent:
			if t, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
				total = t
			}
		case http.StatusOK:
			// Range ignored: the body is the whole file.
			if loaded > 0 {
				resp.Body.Close()
				return loaded, fmt.Errorf("%w: range ignored after first chunk", ErrUnexpectedStatus)
			}
			total = resp.ContentLength
		case http.StatusRequestedRangeNotSatisfiable:
			resp.Body.Close()
			return loaded, shortRead(loaded, total)
		default:
			resp.Body.Close()
			return loaded, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
		}

		data, err := readWithProgress(resp.Body, loaded, total, progress)
		resp.Body.Close()
		if err != nil {
			return loaded + int64(len(data)), err
		}
		if len(data) == 0 {
			return loaded, shortRead(loaded, total)
		}
		if err := appendAndWait(ctx, buffer, data); err != nil {
			return loaded, err
		}
		loaded += int64(len(data))

		if resp.StatusCode == http.StatusOK {
			return loaded, nil
		}
		if total < 0 && int64(len(data)) < l.chunkSize {
			return loaded, nil
		}
	}
	return loaded, nil
}

// shortRead reports a ranged download that stopped before a known total.
// With an unknown total, running out of data is the normal end.
func shortRead(loaded, total int64) error {
	if total >= 0 && loaded < total {
		return fmt.Errorf("%w: short read, %d of %d bytes", ErrUnexpectedStatus, loaded, total)
	}
	return nil
}

func (l *Loader) get(ctx context.Context, target, byteRange string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	return resp, nil
}

// readWithProgress reads body, reporting offset+read against total. A
// negative total is reported as not computable.
func readWithProgress(body io.Reader, offset, total int64, progress ProgressFunc) ([]byte, error) {
	var data []byte
	buf := make([]byte, readStep)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			loaded := offset + int64(len(data))
			progress(Progress{Loaded: loaded, Total: max(total, 0), LengthComputable: total >= 0})
		}
		if errors.Is(err, io.EOF) {
			return data, nil
		}
		if err != nil {
			return data, fmt.Errorf("read media: %w", err)
		}
	}
}

func appendAndWait(ctx context.Context, buffer SourceBuffer, data []byte) error {
	if err := buffer.AppendBuffer(ctx, data); err != nil {
		return fmt.Errorf("append buffer: %w", err)
	}
	select {
	case <-buffer.UpdateEnd():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseContentRangeTotal extracts the complete length from
// "bytes 0-99/1234". An unknown length ("*") reports false.
func parseContentRangeTotal(v string) (int64, bool) {
	_, size, ok := strings.Cut(v, "/")
	if !ok || size == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(size), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Result is one loaded track.
type Result struct {
	Track  Track
	Buffer *MemoryBuffer
	Bytes  int64
}

// LoadAll loads every selected track concurrently and ends each buffer's
// stream once all of them finished. progress may be nil.
func (l *Loader) LoadAll(ctx context.Context, sel *Selection, progress func(Track) ProgressFunc) ([]Result, error) {
	tracks := sel.Tracks()
	results := make([]Result, len(tracks))

	g, gctx := errgroup.WithContext(ctx)
	for i, track := range tracks {
		results[i] = Result{Track: track, Buffer: NewMemoryBuffer(track.MimeType)}
		var fn ProgressFunc
		if progress != nil {
			fn = progress(track)
		}
		g.Go(func() error {
			n, err := l.LoadSourceBuffer(gctx, track, results[i].Buffer, fn)
			results[i].Bytes = n
			if err != nil {
				return fmt.Errorf("load %s: %w", track.Kind, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		r.Buffer.EndOfStream()
	}
	l.logger.InfoContext(ctx, "media source ended", slog.Int("tracks", len(results)))
	return results, nil
}
