// jpdictsync is a demonstration CLI over the engine: it opens (or creates)
// a database file, drives an update through the retry wrapper, and
// answers kanji/name/word lookups. Grounded on the teacher's cmd/readerer
// (flag.String flags, signal.NotifyContext for graceful shutdown, direct
// sqlite3 driver import, a linear happy-path main) with table-formatted
// output via github.com/rodaine/table, following the rest of the example
// pack's preference for that library over hand-rolled column alignment.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rodaine/table"

	"github.com/japaniel/jpdictsync/internal/downloader"
	"github.com/japaniel/jpdictsync/internal/logging"
	"github.com/japaniel/jpdictsync/internal/model"
	"github.com/japaniel/jpdictsync/internal/ranker"
	"github.com/japaniel/jpdictsync/internal/retry"
	"github.com/japaniel/jpdictsync/internal/store"
	syncpkg "github.com/japaniel/jpdictsync/internal/sync"
)

func main() {
	var (
		dbPath    = flag.String("db", "jpdict.sqlite3", "path to the sqlite3 database file")
		sourceDir = flag.String("source", "", "local directory of manifest/ljson files (takes precedence over -url)")
		baseURL   = flag.String("url", "", "base URL of the jpdict distribution server")
		lang      = flag.String("lang", "en", "language to sync and query against")
		series    = flag.String("series", "", "comma-separated series to update (kanji,radicals,names,words); empty defaults to kanji+radicals")
		cmd       = flag.String("cmd", "update", "command to run: update, query-kanji, query-names, query-words")
		query     = flag.String("query", "", "query string for query-kanji/query-names/query-words")
		noColor   = flag.Bool("no-color", false, "disable colorized log output")
	)
	flag.Parse()

	logger := logging.NewLogger(logging.Options{NoColor: *noColor})
	stdLogger := logging.NewStdLogger(logger, "jpdictsync: ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := store.New(*dbPath)
	s.Logger = stdLogger
	defer s.Close()

	dl, err := newDownloader(*sourceDir, *baseURL)
	if err != nil {
		log.Fatalf("jpdictsync: %v", err)
	}
	if closer, ok := dl.(io.Closer); ok {
		defer closer.Close()
	}

	f := syncpkg.NewFacade(s, dl)
	f.Logger = stdLogger
	if r, err := ranker.New(); err != nil {
		logger.Warn("gloss ranker unavailable, word queries fall back to kanji/kana matching only", "error", err)
	} else {
		f.Ranker = r
		f.Applier.Tokenizer = r
	}

	ctrl := retry.NewController(f)
	ctrl.Logger = stdLogger
	defer ctrl.Close()

	switch *cmd {
	case "update":
		if err := runUpdate(ctx, ctrl, f, parseSeries(*series), *lang); err != nil {
			log.Fatalf("jpdictsync: update failed: %v", err)
		}
	case "query-kanji":
		if err := runQueryKanji(f, *query, *lang); err != nil {
			log.Fatalf("jpdictsync: query-kanji failed: %v", err)
		}
	case "query-names":
		if err := runQueryNames(f, *query); err != nil {
			log.Fatalf("jpdictsync: query-names failed: %v", err)
		}
	case "query-words":
		if err := runQueryWords(f, *query); err != nil {
			log.Fatalf("jpdictsync: query-words failed: %v", err)
		}
	default:
		log.Fatalf("jpdictsync: unknown -cmd %q (want update, query-kanji, query-names, or query-words)", *cmd)
	}
}

func newDownloader(sourceDir, baseURL string) (downloader.Downloader, error) {
	switch {
	case sourceDir != "":
		return downloader.NewLocalDownloader(sourceDir)
	case baseURL != "":
		return downloader.NewHTTPDownloader(baseURL), nil
	default:
		return nil, fmt.Errorf("either -source or -url must be given")
	}
}

func parseSeries(csv string) syncpkg.SeriesSet {
	if csv == "" {
		return nil
	}
	set := syncpkg.SeriesSet{}
	for _, part := range strings.Split(csv, ",") {
		set[model.Series(strings.TrimSpace(part))] = true
	}
	return set
}

func runUpdate(ctx context.Context, ctrl *retry.Controller, f *syncpkg.Facade, series syncpkg.SeriesSet, lang string) error {
	notifications, unsubscribe := f.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		tbl := table.New("Series", "Status", "Version", "Correlation")
		tbl.WithHeaderFormatter(func(format string, vals ...interface{}) string {
			return strings.ToUpper(fmt.Sprintf(format, vals...))
		})
		for n := range notifications {
			if n.Topic != syncpkg.TopicStateUpdated {
				continue
			}
			version := "-"
			if n.Version != nil {
				version = fmt.Sprintf("%d.%d.%d", n.Version.Major, n.Version.Minor, n.Version.Patch)
			}
			tbl.AddRow(string(n.Series), n.Status.String(), version, n.CorrelationID)
		}
		tbl.Print()
	}()

	err := ctrl.Update(ctx, syncpkg.UpdateOptions{Series: series, Lang: lang}, false)
	unsubscribe()
	<-done
	return err
}

func runQueryKanji(f *syncpkg.Facade, query, lang string) error {
	chars := strings.Split(query, "")
	results, warnings, err := f.GetKanji(chars, lang)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "jpdictsync: warning: %s\n", w)
	}
	tbl := table.New("Char", "Radical", "Components", "Related")
	tbl.WithHeaderFormatter(func(format string, vals ...interface{}) string {
		return strings.ToUpper(fmt.Sprintf(format, vals...))
	})
	for _, r := range results {
		tbl.AddRow(
			r.Char,
			fmt.Sprintf("%s (#%d)", r.Radical.ID, r.Radical.Number),
			componentSummary(r.Components),
			relatedSummary(r.Related),
		)
	}
	tbl.Print()
	return nil
}

func componentSummary(components []syncpkg.ComponentEntry) string {
	parts := make([]string, 0, len(components))
	for _, c := range components {
		parts = append(parts, c.Char)
	}
	return strings.Join(parts, " ")
}

func relatedSummary(related []syncpkg.RelatedKanji) string {
	parts := make([]string, 0, len(related))
	for _, r := range related {
		parts = append(parts, r.Char)
	}
	return strings.Join(parts, " ")
}

func runQueryNames(f *syncpkg.Facade, query string) error {
	results, err := f.GetNames(query)
	if err != nil {
		return err
	}
	tbl := table.New("ID", "Kanji", "Kana", "Translations")
	tbl.WithHeaderFormatter(func(format string, vals ...interface{}) string {
		return strings.ToUpper(fmt.Sprintf(format, vals...))
	})
	for _, r := range results {
		tbl.AddRow(r.ID, strings.Join(r.Kanji, " "), strings.Join(r.Kana, " "), strings.Join(r.Translations, "; "))
	}
	tbl.Print()
	return nil
}

func runQueryWords(f *syncpkg.Facade, query string) error {
	results, err := f.GetWords(query)
	if err != nil {
		return err
	}
	tbl := table.New("ID", "Kanji", "Kana", "Glosses")
	tbl.WithHeaderFormatter(func(format string, vals ...interface{}) string {
		return strings.ToUpper(fmt.Sprintf(format, vals...))
	})
	for _, r := range results {
		tbl.AddRow(r.ID, strings.Join(r.Kanji, " "), strings.Join(r.Kana, " "), strings.Join(r.Glosses, "; "))
	}
	tbl.Print()
	return nil
}
