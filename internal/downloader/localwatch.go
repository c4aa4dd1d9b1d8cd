package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/model"
)

// LocalDownloader serves data files from a local directory instead of
// HTTPS, for offline bundles and tests. It watches the directory with
// fsnotify so a caller can wait for a manifest to appear or change rather
// than polling, mirroring the watcher goroutine shape in maruel-mddb's
// self-update watch (backend/cmd/mddb/main.go).
type LocalDownloader struct {
	Dir string

	watcher *fsnotify.Watcher
}

// NewLocalDownloader watches dir for manifest/data-file changes.
func NewLocalDownloader(dir string) (*LocalDownloader, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &LocalDownloader{Dir: dir, watcher: w}, nil
}

// Close stops the underlying fsnotify watcher.
func (d *LocalDownloader) Close() error {
	if d.watcher == nil {
		return nil
	}
	return d.watcher.Close()
}

// WaitForChange blocks until a write is observed under Dir or ctx is done.
func (d *LocalDownloader) WaitForChange(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return errs.Abort
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				return nil
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return errs.Abort
			}
			return errs.New(errs.KindDataFileNotAccessible, "watch local directory", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *LocalDownloader) manifestPath(lang string) string {
	return filepath.Join(d.Dir, fmt.Sprintf("jpdict-rc-%s-version.json", lang))
}

func (d *LocalDownloader) filePath(series model.Series, lang string, f filePlan) string {
	return filepath.Join(d.Dir, fmt.Sprintf("%s-rc-%s-%d.%d.%d-%s.ljson", series, lang, f.Major, f.Minor, f.Patch, f.Type))
}

// Download implements Downloader by reading the manifest and planned files
// directly off disk instead of over HTTPS. Line parsing, header
// validation, and progress ticking reuse the exact same code path as
// HTTPDownloader.
func (d *LocalDownloader) Download(ctx context.Context, series model.Series, majorVersion int, lang string, current *model.Version, forceFetch bool) (EventStream, error) {
	raw, err := os.ReadFile(d.manifestPath(lang))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindManifestNotFound, d.manifestPath(lang), nil)
		}
		return nil, errs.New(errs.KindManifestNotAccessible, "read local manifest", err)
	}
	manifest, err := decodeManifest(raw)
	if err != nil {
		return nil, errs.New(errs.KindManifestInvalid, "parse local manifest", err)
	}

	entry, err := lookupMajorVersion(manifest, series, majorVersion)
	if err != nil {
		return nil, err
	}
	plan, err := buildPlan(entry, current)
	if err != nil {
		return nil, err
	}
	codec, err := model.CodecFor(series)
	if err != nil {
		return nil, err
	}

	sCtx, cancel := context.WithCancel(ctx)
	st := &localStream{
		dir:    d.Dir,
		series: series,
		lang:   lang,
		codec:  codec,
		plan:   plan,
		open: func(f filePlan) (*os.File, error) {
			return os.Open(d.filePath(series, lang, f))
		},
		events: make(chan Event, 16),
		errCh:  make(chan error, 1),
		ctx:    sCtx,
		cancel: cancel,
	}
	go st.run()
	return st, nil
}

type localStream struct {
	dir    string
	series model.Series
	lang   string
	codec  model.EntryCodec
	plan   []filePlan
	open   func(filePlan) (*os.File, error)

	events chan Event
	errCh  chan error
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *localStream) Cancel() { s.cancel() }

func (s *localStream) Next(ctx context.Context) (*Event, error) {
	return streamNext(ctx, s.ctx, s.events, s.errCh)
}

func (s *localStream) run() {
	defer close(s.events)
	for _, f := range s.plan {
		if s.ctx.Err() != nil {
			return
		}
		file, err := s.open(f)
		if err != nil {
			if os.IsNotExist(err) {
				sendErr(s.errCh, errs.New(errs.KindDataFileNotFound, s.dir, err))
			} else {
				sendErr(s.errCh, errs.New(errs.KindDataFileNotAccessible, s.dir, err))
			}
			return
		}
		err = streamLjsonFile(s.ctx, f, file, s.series, s.lang, s.codec, s.events, DefaultMaxProgressResolution)
		file.Close()
		if err != nil {
			sendErr(s.errCh, err)
			return
		}
	}
}

func sendErr(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}
