package ingestion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"eisenbahn/internal/document"
	"eisenbahn/internal/logging"
)

// groupKey partitions a directory import by event type and ISO week, per
// §4.10: "compute an ISO week per file and group files into
// per-event-type/per-week segment writers."
type groupKey struct {
	eventType string
	week      string // "YYYY-Www"
}

// fileTask is one file assigned to a group.
type fileTask struct {
	path      string
	eventType string
}

// SegmentSink is the subset of segment.Manager a directory import needs:
// one writer per (event type, ISO week) group, sealed once the group is
// fully processed.
type SegmentSink interface {
	WriterFor(key string) (Writer, error)
	Seal(key string) error
}

// Writer is the narrow append capability a group's sequential processing
// needs from a segment writer.
type Writer interface {
	Append(doc document.Document) (uint64, error)
}

// ImportDirectory walks root for files matching cfg.GlobPattern (default
// "**/*"), groups them by (event type, ISO week), and processes groups in
// parallel up to concurrency while each group's files are processed
// sequentially through a single writer. A failure in one group is logged
// and does not abort the others (§4.10).
func ImportDirectory(ctx context.Context, cfg SourceConfig, sink SegmentSink, concurrency int, logger *slog.Logger) (int64, error) {
	logger = logging.Default(logger).With("component", "ingestion.directory", "path", cfg.Path)
	if concurrency < 1 {
		concurrency = 1
	}

	pattern := cfg.GlobPattern
	if pattern == "" {
		pattern = "**/*"
	}

	files, err := discoverFiles(cfg.Path, pattern)
	if err != nil {
		return 0, err
	}

	groups := make(map[groupKey][]fileTask)
	for _, path := range files {
		ts, err := fileWeekHint(path)
		if err != nil {
			logger.Warn("skipping file with unparseable timestamp hint", "path", path, "error", err)
			continue
		}
		key := groupKey{eventType: eventTypeOf(cfg), week: isoWeek(ts)}
		groups[key] = append(groups[key], fileTask{path: path, eventType: key.eventType})
	}

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for key, tasks := range groups {
		key, tasks := key, tasks
		g.Go(func() error {
			n, err := processGroup(gctx, key, tasks, sink, logger)
			processed.Add(n)
			if err != nil {
				logger.Warn("group import failed", "event_type", key.eventType, "week", key.week, "error", err)
			}
			return nil // per-group failures are isolated, never abort the whole import
		})
	}
	_ = g.Wait()

	return processed.Load(), nil
}

func processGroup(ctx context.Context, key groupKey, tasks []fileTask, sink SegmentSink, logger *slog.Logger) (int64, error) {
	segmentKey := fmt.Sprintf("%s:%s", key.eventType, key.week)
	writer, err := sink.WriterFor(segmentKey)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		n, err := importFileSequential(ctx, task, writer)
		count += n
		if err != nil {
			logger.Warn("file import failed within group", "path", task.path, "error", err)
		}
	}
	if err := sink.Seal(segmentKey); err != nil {
		return count, err
	}
	return count, nil
}

func importFileSequential(ctx context.Context, task fileTask, writer Writer) (int64, error) {
	f, err := os.Open(task.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var count int64
	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return count, err
		}
		fields := document.Fields{}
		for k, v := range raw {
			fields[k] = jsonValueToField(v)
		}
		doc := document.New(task.eventType, time.Now(), fields)
		if _, err := writer.Append(doc); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func discoverFiles(root, pattern string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		ok, matchErr := doublestar.Match(pattern, filepath.ToSlash(rel))
		if matchErr != nil {
			return matchErr
		}
		if ok {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}

// fileWeekHint derives a timestamp to group a file by. Absent richer
// metadata, the file's modification time stands in for its content's
// event time.
func fileWeekHint(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func isoWeek(ts time.Time) string {
	year, week := ts.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
