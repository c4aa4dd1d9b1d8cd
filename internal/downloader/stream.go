package downloader

import (
	"context"
	"encoding/json"
	"io"

	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/model"
)

// streamNext is the shared Next() body for both httpStream and
// localStream: block on the next queued event, the stream's own
// cancellation, or the caller's ctx, whichever comes first. Once the stream
// has been canceled it returns errs.Abort without handing out queued events.
func streamNext(callerCtx, streamCtx context.Context, events chan Event, errCh chan error) (*Event, error) {
	if streamCtx.Err() != nil {
		return nil, errs.Abort
	}
	select {
	case ev, ok := <-events:
		if !ok {
			select {
			case err := <-errCh:
				return nil, err
			default:
				return nil, io.EOF
			}
		}
		return &ev, nil
	case <-streamCtx.Done():
		return nil, errs.Abort
	case <-callerCtx.Done():
		return nil, callerCtx.Err()
	}
}

func emitTo(ctx context.Context, events chan Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// streamLjsonFile reads one already-open ljson file (either an HTTP
// response body wrapped in a stallGuard, or a local *os.File) and turns it
// into version/entry/deletion/progress events per spec.md §4.2 steps 5-8.
// Shared by HTTPDownloader and LocalDownloader so file-format handling
// lives in exactly one place.
func streamLjsonFile(ctx context.Context, f filePlan, r io.Reader, series model.Series, lang string, codec model.EntryCodec, events chan Event, resolution float64) error {
	sc := newLineScanner(r)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return errs.New(errs.KindDataFileNotAccessible, "read file body", err)
		}
		return errs.New(errs.KindDataFileNotAccessible, "empty response body", nil)
	}
	header, err := parseHeader(sc.Bytes())
	if err != nil || header.Type != "header" {
		return errs.New(errs.KindHeaderMissing, "first line is not a header", err)
	}
	if header.Version.Major != f.Major || header.Version.Minor != f.Minor || header.Version.Patch != f.Patch {
		return errs.New(errs.KindVersionMismatch, "header version does not match URL-embedded version", nil)
	}

	version := model.Version{
		Series:          series,
		Major:           header.Version.Major,
		Minor:           header.Version.Minor,
		Patch:           header.Version.Patch,
		DatabaseVersion: header.Version.DatabaseVersion,
		DateOfCreation:  header.Version.DateOfCreation,
		Lang:            lang,
	}
	partial := f.Type == FilePatch
	if !emitTo(ctx, events, Event{Kind: EventVersion, Version: version, Partial: partial}) {
		return errs.Abort
	}

	if resolution <= 0 {
		resolution = DefaultMaxProgressResolution
	}
	recordsRead := 0
	lastTickRatio := 0.0

	for sc.Scan() {
		if ctx.Err() != nil {
			return errs.Abort
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &probe); err == nil && probe.Type == "header" {
			return errs.New(errs.KindHeaderDuplicate, "duplicate header line", nil)
		}

		isDel, err := codec.IsDeletion(line)
		if err != nil {
			return errs.New(errs.KindInvalidJSON, "parse record line", err)
		}
		if isDel {
			if !partial {
				return errs.New(errs.KindDeletionInSnapshot, "deletion record in full snapshot file", nil)
			}
			key, err := codec.DecodeDeletion(line)
			if err != nil {
				return err
			}
			if !emitTo(ctx, events, Event{Kind: EventDeletion, Key: key}) {
				return errs.Abort
			}
		} else {
			key, rec, err := codec.DecodeEntry(line)
			if err != nil {
				return err
			}
			if !emitTo(ctx, events, Event{Kind: EventEntry, Key: key, Record: rec}) {
				return errs.Abort
			}
		}

		recordsRead++
		if header.Records > 0 {
			ratio := float64(recordsRead) / float64(header.Records)
			if ratio-lastTickRatio >= resolution {
				lastTickRatio = ratio
				if !emitTo(ctx, events, Event{Kind: EventProgress, Loaded: recordsRead, Total: header.Records}) {
					return errs.Abort
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return errs.New(errs.KindDataFileNotAccessible, "read file body", err)
	}

	if !emitTo(ctx, events, Event{Kind: EventVersionEnd, Version: version, Partial: partial}) {
		return errs.Abort
	}
	return nil
}
