package downloader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/model"
)

// DefaultMaxProgressResolution is the default minimum advance in
// recordsRead/totalRecords before another progress event is emitted
// (spec.md §4.2 step 8).
const DefaultMaxProgressResolution = 0.05

// DefaultStallTimeout is the stalled-progress watchdog: if no bytes are
// read within this duration the request is aborted as a retriable network
// error (spec.md §5).
const DefaultStallTimeout = 20 * time.Second

// HTTPDownloader is the network-backed Downloader implementation: it
// fetches the version manifest, plans snapshot-vs-patch, and streams
// line-delimited JSON files, following the teacher's own preference for a
// hand-rolled http.Client with explicit headers and context plumbing
// (japaniel/readerer pkg/dictionary/downloader.go).
type HTTPDownloader struct {
	BaseURL               string
	Client                *http.Client
	Limiter               *rate.Limiter
	StallTimeout          time.Duration
	MaxProgressResolution float64

	cache *manifestCache
}

// NewHTTPDownloader constructs an HTTPDownloader against baseUrl (which
// must end in "/").
func NewHTTPDownloader(baseURL string) *HTTPDownloader {
	return &HTTPDownloader{
		BaseURL:               baseURL,
		Client:                &http.Client{Timeout: 60 * time.Second},
		Limiter:               rate.NewLimiter(rate.Limit(8), 4),
		StallTimeout:          DefaultStallTimeout,
		MaxProgressResolution: DefaultMaxProgressResolution,
		cache:                 newManifestCache(),
	}
}

// Download implements spec.md §4.2: it resolves the manifest and plan
// synchronously (so manifest/plan errors surface immediately, before any
// stream exists) and returns an EventStream that lazily fetches and parses
// each planned file.
func (d *HTTPDownloader) Download(ctx context.Context, series model.Series, majorVersion int, lang string, current *model.Version, forceFetch bool) (EventStream, error) {
	manifest, ok := d.cache.get(lang)
	if !ok || forceFetch {
		m, err := fetchManifest(d.Client, d.BaseURL, lang)
		if err != nil {
			return nil, err
		}
		manifest = m
		d.cache.set(lang, manifest)
	}

	entry, err := lookupMajorVersion(manifest, series, majorVersion)
	if err != nil {
		d.cache.invalidate(lang)
		return nil, err
	}

	plan, err := buildPlan(entry, current)
	if err != nil {
		d.cache.invalidate(lang)
		return nil, err
	}

	codec, err := model.CodecFor(series)
	if err != nil {
		return nil, err
	}

	sCtx, cancel := context.WithCancel(ctx)
	st := &httpStream{
		d:      d,
		series: series,
		lang:   lang,
		codec:  codec,
		plan:   plan,
		events: make(chan Event, 16),
		errCh:  make(chan error, 1),
		ctx:    sCtx,
		cancel: cancel,
	}
	go st.run()
	return st, nil
}

// InvalidateManifest drops the cached manifest for lang. Exposed for the
// retry controller / facade to call after a Protocol or Network failure
// (SPEC_FULL.md §6 decision 1).
func (d *HTTPDownloader) InvalidateManifest(lang string) { d.cache.invalidate(lang) }

func (d *HTTPDownloader) stallTimeout() time.Duration {
	if d.StallTimeout > 0 {
		return d.StallTimeout
	}
	return DefaultStallTimeout
}

type httpStream struct {
	d      *HTTPDownloader
	series model.Series
	lang   string
	codec  model.EntryCodec
	plan   []filePlan

	events chan Event
	errCh  chan error
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *httpStream) Cancel() { s.cancel() }

func (s *httpStream) Next(ctx context.Context) (*Event, error) {
	return streamNext(ctx, s.ctx, s.events, s.errCh)
}

func (s *httpStream) run() {
	defer close(s.events)
	for _, f := range s.plan {
		if s.ctx.Err() != nil {
			return
		}
		if err := s.fetchFile(f); err != nil {
			sendErr(s.errCh, err)
			return
		}
	}
}

func (s *httpStream) fetchFile(f filePlan) error {
	if s.d.Limiter != nil {
		if err := s.d.Limiter.Wait(s.ctx); err != nil {
			return errs.Abort
		}
	}

	url := fmt.Sprintf("%s%s-rc-%s-%d.%d.%d-%s.ljson", s.d.BaseURL, s.series, s.lang, f.Major, f.Minor, f.Patch, f.Type)
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.New(errs.KindDataFileNotAccessible, "build request", err)
	}
	resp, err := s.d.Client.Do(req)
	if err != nil {
		if s.ctx.Err() != nil {
			return errs.Abort
		}
		return errs.New(errs.KindDataFileNotAccessible, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errs.New(errs.KindDataFileNotFound, url, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.KindDataFileNotAccessible, fmt.Sprintf("%s: status %d", url, resp.StatusCode), nil)
	}

	body := newStallGuard(s.ctx, resp.Body, s.d.stallTimeout())
	return streamLjsonFile(s.ctx, f, body, s.series, s.lang, s.codec, s.events, s.d.MaxProgressResolution)
}
