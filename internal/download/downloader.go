// Package download retrieves remote resources for update sessions and
// reports the transfer as a stream of discrete events.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"gopkg.in/tomb.v2"

	"github.com/adamancini/keel/internal/log"
)

var (
	// ErrCancelled is carried by the terminal Failed event of a cancelled fetch.
	ErrCancelled = errors.New("download cancelled")

	// ErrBusy is returned by Fetch while another fetch is active.
	ErrBusy = errors.New("a download is already in progress")

	// ErrTooLarge is carried when the resource exceeds the configured limit.
	ErrTooLarge = errors.New("download exceeds size limit")

	// ErrUnsupportedScheme is carried when no transport handles the URL.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
)

// Event is one element of a fetch's event stream.
type Event interface {
	isEvent()
}

// Progress reports bytes received so far. Total is -1 when unknown.
// Progress events may be dropped when the consumer is slow.
type Progress struct {
	Received int64
	Total    int64
}

// Completed is the terminal event of a successful fetch.
type Completed struct {
	URL  string
	Data []byte
}

// Failed is the terminal event of an unsuccessful or cancelled fetch.
type Failed struct {
	URL string
	Err error
}

func (Progress) isEvent()  {}
func (Completed) isEvent() {}
func (Failed) isEvent()    {}

// DefaultMaxSize bounds a single download.
const DefaultMaxSize = 512 * 1024 * 1024

// progressBuffer is the number of progress events that may queue up. One
// extra slot is always kept free for the terminal event so the fetch
// goroutine never blocks on a consumer that stopped reading.
const progressBuffer = 8

// Option configures a Downloader.
type Option func(*Downloader)

// WithTransport registers t for URLs with the given scheme.
func WithTransport(scheme string, t Transport) Option {
	return func(d *Downloader) { d.transports[scheme] = t }
}

// WithMaxSize limits the size of a single download. Zero means unlimited.
func WithMaxSize(n int64) Option {
	return func(d *Downloader) { d.maxSize = n }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(d *Downloader) { d.log = l }
}

// Downloader runs at most one fetch at a time.
type Downloader struct {
	transports map[string]Transport
	maxSize    int64
	log        log.Logger

	mu      sync.Mutex
	current *fetch
}

type fetch struct {
	tomb   tomb.Tomb
	url    string
	events chan Event
}

// New creates a Downloader with http, https and file transports.
func New(opts ...Option) *Downloader {
	httpT := NewHTTPTransport(nil)
	d := &Downloader{
		transports: map[string]Transport{
			"http":  httpT,
			"https": httpT,
			"file":  FileTransport{},
		},
		maxSize: DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = log.OrNop(d.log).WithName("download")
	return d
}

// Fetch starts retrieving rawURL. The returned channel yields any number of
// Progress events followed by exactly one Completed or Failed event, after
// which it is closed. Fetch returns ErrBusy if a fetch is already active.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (<-chan Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != nil {
		return nil, ErrBusy
	}

	f := &fetch{
		url:    rawURL,
		events: make(chan Event, progressBuffer+1),
	}
	d.current = f

	fctx := f.tomb.Context(ctx)
	f.tomb.Go(func() error {
		d.run(fctx, f)
		return nil
	})

	return f.events, nil
}

// Cancel stops the active fetch, if any. Its stream ends with
// Failed{Err: ErrCancelled} unless a terminal event was already emitted.
// Cancel is safe to call at any time.
func (d *Downloader) Cancel() {
	d.mu.Lock()
	f := d.current
	d.mu.Unlock()

	if f == nil {
		return
	}
	f.tomb.Kill(ErrCancelled)
}

// Active reports whether a fetch is in progress.
func (d *Downloader) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil
}

func (d *Downloader) run(ctx context.Context, f *fetch) {
	data, err := d.download(ctx, f)

	// A cancellation that arrived before the terminal event wins, even if
	// the transfer itself finished.
	if f.tomb.Err() == ErrCancelled || ctx.Err() != nil {
		data, err = nil, ErrCancelled
	}

	var terminal Event
	if err != nil {
		if !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("cannot download %q: %w", f.url, err)
		}
		d.log.Debug("fetch failed", "url", f.url, "error", err)
		terminal = Failed{URL: f.url, Err: err}
	} else {
		d.log.Debug("fetch completed", "url", f.url, "bytes", len(data))
		terminal = Completed{URL: f.url, Data: data}
	}

	d.mu.Lock()
	d.current = nil
	d.mu.Unlock()

	f.events <- terminal
	close(f.events)
}

func (d *Downloader) download(ctx context.Context, f *fetch) ([]byte, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	t, ok := d.transports[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	body, total, err := t.Open(ctx, u)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if d.maxSize > 0 && total > d.maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, total, d.maxSize)
	}

	var reader io.Reader = &ctxReader{ctx: ctx, r: body}
	if d.maxSize > 0 {
		reader = io.LimitReader(reader, d.maxSize+1)
	}

	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}

	chunk := make([]byte, 32*1024)
	var received int64
	for {
		n, rerr := reader.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)
			if d.maxSize > 0 && received > d.maxSize {
				return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.maxSize)
			}
			f.progress(received, total)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}

	if total > 0 && received != total {
		return nil, fmt.Errorf("short read: got %d of %d bytes", received, total)
	}
	return buf.Bytes(), nil
}

// progress enqueues a Progress event unless that would take the slot
// reserved for the terminal event. Only the fetch goroutine sends.
func (f *fetch) progress(received, total int64) {
	if len(f.events) >= cap(f.events)-1 {
		return
	}
	f.events <- Progress{Received: received, Total: total}
}

// ctxReader stops reading once ctx is done, so transports that ignore the
// context still unwind promptly.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
