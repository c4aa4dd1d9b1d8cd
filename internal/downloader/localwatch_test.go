package downloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/japaniel/jpdictsync/internal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLocalDownloaderServesSnapshotFromDisk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "jpdict-rc-en-version.json"),
		`{"kanji":{"1":{"major":1,"minor":0,"patch":0,"snapshot":0,"dateOfCreation":"2026-01-01"}}}`)
	writeFile(t, filepath.Join(dir, "kanji-rc-en-1.0.0-full.ljson"),
		`{"type":"header","version":{"major":1,"minor":0,"patch":0,"dateOfCreation":"2026-01-01"},"records":1}`+"\n"+
			`{"c":"引","rad":{"x":57},"comp":"弓","r":{"on":["イン"]}}`+"\n")

	d, err := NewLocalDownloader(dir)
	if err != nil {
		t.Fatalf("NewLocalDownloader: %v", err)
	}
	defer d.Close()

	stream, err := d.Download(context.Background(), model.SeriesKanji, 1, "en", nil, false)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	var sawEntry, sawVersionEnd bool
	for {
		ev, err := stream.Next(context.Background())
		if err != nil {
			break
		}
		switch ev.Kind {
		case EventEntry:
			sawEntry = true
		case EventVersionEnd:
			sawVersionEnd = true
		}
	}
	if !sawEntry || !sawVersionEnd {
		t.Fatalf("expected an entry and a versionEnd event, sawEntry=%v sawVersionEnd=%v", sawEntry, sawVersionEnd)
	}
}

func TestLocalDownloaderMissingManifestFails(t *testing.T) {
	dir := t.TempDir()
	d, err := NewLocalDownloader(dir)
	if err != nil {
		t.Fatalf("NewLocalDownloader: %v", err)
	}
	defer d.Close()

	if _, err := d.Download(context.Background(), model.SeriesKanji, 1, "en", nil, false); err == nil {
		t.Fatal("expected an error for a missing local manifest")
	}
}

func TestLocalDownloaderMissingDataFileSurfacesError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "jpdict-rc-en-version.json"),
		`{"kanji":{"1":{"major":1,"minor":0,"patch":0,"snapshot":0,"dateOfCreation":"2026-01-01"}}}`)

	d, err := NewLocalDownloader(dir)
	if err != nil {
		t.Fatalf("NewLocalDownloader: %v", err)
	}
	defer d.Close()

	stream, err := d.Download(context.Background(), model.SeriesKanji, 1, "en", nil, false)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	_, err = stream.Next(context.Background())
	if err == nil {
		t.Fatal("expected an error for a planned file missing from disk")
	}
}
