package downloader

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/model"
)

// ManifestEntry is one major-version's worth of version metadata inside the
// remote manifest (spec.md §6.1).
type ManifestEntry struct {
	Major           int    `json:"major"`
	Minor           int    `json:"minor"`
	Patch           int    `json:"patch"`
	Snapshot        int    `json:"snapshot"`
	DatabaseVersion string `json:"databaseVersion,omitempty"`
	DateOfCreation  string `json:"dateOfCreation"`
}

func (e ManifestEntry) valid() bool {
	return e.Major >= 1 && e.Minor >= 0 && e.Patch >= 0 && e.Snapshot >= 0 && e.DateOfCreation != ""
}

// Manifest is the parsed top-level `{ series: { majorVersion: entry } }`
// document at `{baseUrl}jpdict-rc-{lang}-version.json`.
type Manifest map[string]map[int]ManifestEntry

// manifestCache is a per-language, in-memory cache of the last fetched
// manifest (spec.md §4.2 step 1; §9 "Global state" calls for this to live
// on the Facade/Downloader instance, not a file-level singleton).
type manifestCache struct {
	mu   sync.Mutex
	byLang map[string]Manifest
}

func newManifestCache() *manifestCache {
	return &manifestCache{byLang: make(map[string]Manifest)}
}

func (c *manifestCache) get(lang string) (Manifest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byLang[lang]
	return m, ok
}

func (c *manifestCache) set(lang string, m Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byLang[lang] = m
}

// invalidate drops the cached manifest for lang. Called on Protocol/Network
// failure per SPEC_FULL.md §6 decision 1; a plain cancellation does not
// invalidate the cache.
func (c *manifestCache) invalidate(lang string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byLang, lang)
}

func fetchManifest(client *http.Client, baseURL, lang string) (Manifest, error) {
	url := fmt.Sprintf("%sjpdict-rc-%s-version.json", baseURL, lang)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.KindManifestNotAccessible, "build manifest request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindManifestNotAccessible, "fetch manifest", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.New(errs.KindManifestNotFound, url, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindManifestNotAccessible, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindManifestNotAccessible, "read manifest body", err)
	}

	m, err := decodeManifest(body)
	if err != nil {
		return nil, errs.New(errs.KindManifestInvalid, "parse manifest json", err)
	}
	return m, nil
}

func decodeManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// lookupMajorVersion resolves manifest[series][major], validating the shape
// spec.md §4.2 step 2 requires.
func lookupMajorVersion(m Manifest, series model.Series, major int) (ManifestEntry, error) {
	bySeries, ok := m[string(series)]
	if !ok {
		return ManifestEntry{}, errs.New(errs.KindMajorVersionNotFound, fmt.Sprintf("series %q not in manifest", series), nil)
	}
	entry, ok := bySeries[major]
	if !ok {
		return ManifestEntry{}, errs.New(errs.KindMajorVersionNotFound, fmt.Sprintf("major version %d not in manifest for series %q", major, series), nil)
	}
	if !entry.valid() {
		return ManifestEntry{}, errs.New(errs.KindManifestInvalid, fmt.Sprintf("malformed manifest entry for %s/%d", series, major), nil)
	}
	return entry, nil
}
