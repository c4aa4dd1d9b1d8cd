package downloader

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractBundle unpacks a gzipped tar archive of pre-fetched manifest and
// ljson files (a "bootstrap bundle", used for fully offline first-install)
// into destDir, where a LocalDownloader can then serve it. Grounded on the
// teacher's downloadAndExtract (pkg/dictionary/downloader.go), generalized
// from "find the one JSON file inside" to "extract every manifest/ljson
// entry the bundle carries".
func ExtractBundle(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	extracted := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read bundle entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(header.Name)
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".ljson") {
			continue
		}

		outPath := filepath.Join(destDir, name)
		out, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", outPath, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		out.Close()
		extracted++
	}

	if extracted == 0 {
		return fmt.Errorf("no manifest or ljson files found in bundle %s", archivePath)
	}
	return nil
}
