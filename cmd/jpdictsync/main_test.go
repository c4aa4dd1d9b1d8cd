package main_test

import (
	"context"
	"database/sql"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func writeFixture(t *testing.T, dir string) {
	t.Helper()
	manifest := `{"kanji":{"1":{"major":1,"minor":0,"patch":0,"snapshot":0,"dateOfCreation":"2026-01-01"}},` +
		`"radicals":{"1":{"major":1,"minor":0,"patch":0,"snapshot":0,"dateOfCreation":"2026-01-01"}}}`
	if err := os.WriteFile(filepath.Join(dir, "jpdict-rc-en-version.json"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	radicals := `{"type":"header","version":{"major":1,"minor":0,"patch":0,"dateOfCreation":"2026-01-01"},"records":1}` + "\n" +
		`{"id":"057","num":57,"b":"弓","k":"弓","r":["ゆみ"],"m":["bow"]}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "radicals-rc-en-1.0.0-full.ljson"), []byte(radicals), 0o644); err != nil {
		t.Fatalf("write radicals file: %v", err)
	}

	kanji := `{"type":"header","version":{"major":1,"minor":0,"patch":0,"dateOfCreation":"2026-01-01"},"records":1}` + "\n" +
		`{"c":"引","rad":{"x":57},"comp":"弓","r":{"on":["イン"],"kun":["ひ.く"]},"m":{"en":["pull"]}}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "kanji-rc-en-1.0.0-full.ljson"), []byte(kanji), 0o644); err != nil {
		t.Fatalf("write kanji file: %v", err)
	}
}

func buildCLI(t *testing.T, bin string) {
	t.Helper()
	build := exec.Command("go", "build", "-o", bin, "github.com/japaniel/jpdictsync/cmd/jpdictsync")
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		t.Fatalf("failed to build CLI: %v", err)
	}
}

func TestCLI_UpdateFromLocalSource(t *testing.T) {
	tmp := t.TempDir()
	writeFixture(t, tmp)

	dbPath := filepath.Join(tmp, "jpdict.sqlite3")
	bin := filepath.Join(tmp, "jpdictsync.bin")
	buildCLI(t, bin)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, bin, "-cmd", "update", "-source", tmp+string(os.PathSeparator), "-db", dbPath, "-no-color")
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		t.Fatalf("cli timed out, output:\n%s", out)
	}
	if err != nil {
		t.Fatalf("cli failed: %v\noutput:\n%s", err, out)
	}

	outStr := string(out)
	if !strings.Contains(outStr, "kanji") || !strings.Contains(outStr, "radicals") {
		t.Fatalf("expected status table to mention both series, got:\n%s", outStr)
	}

	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	var cnt int
	if err := dbConn.QueryRow("SELECT COUNT(*) FROM kanji").Scan(&cnt); err != nil {
		t.Fatalf("query kanji table: %v", err)
	}
	if cnt == 0 {
		t.Fatalf("expected at least one kanji row, found 0")
	}
}

func TestCLI_QueryKanjiAfterUpdate(t *testing.T) {
	tmp := t.TempDir()
	writeFixture(t, tmp)

	dbPath := filepath.Join(tmp, "jpdict.sqlite3")
	bin := filepath.Join(tmp, "jpdictsync.bin")
	buildCLI(t, bin)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	update := exec.CommandContext(ctx, bin, "-cmd", "update", "-source", tmp+string(os.PathSeparator), "-db", dbPath, "-no-color")
	if out, err := update.CombinedOutput(); err != nil {
		t.Fatalf("update failed: %v\noutput:\n%s", err, out)
	}

	query := exec.CommandContext(ctx, bin, "-cmd", "query-kanji", "-query", "引", "-db", dbPath, "-source", tmp+string(os.PathSeparator), "-no-color")
	out, err := query.CombinedOutput()
	if err != nil {
		t.Fatalf("query-kanji failed: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(string(out), "引") {
		t.Fatalf("expected queried character in output, got:\n%s", out)
	}
}
