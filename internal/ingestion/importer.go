package ingestion

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"eisenbahn/internal/document"
)

// ErrUnsupportedSource is returned by importers asked to handle a source
// kind this deployment has no reader for (e.g. parquet, absent a parquet
// library in this module's dependency set; see DESIGN.md).
var ErrUnsupportedSource = errors.New("ingestion: unsupported source kind in this deployment")

// Sink receives documents produced by an importer. Directory imports use
// a grouping sink (see directory.go); single-file imports use a plain
// one that appends to a single segment writer.
type Sink interface {
	// Put appends a document and returns the number of documents the
	// sink has accepted so far, for progress reporting.
	Put(doc document.Document) (processed int64, err error)
}

// Importer reads from one configured source and writes documents to a
// sink. Import returns only an error; the running document count comes
// from the sink's Put.
type Importer interface {
	Import(ctx context.Context, cfg SourceConfig, sink Sink) error
}

// DispatchImporter returns the importer registered for cfg.Kind.
func DispatchImporter(kind SourceKind) (Importer, error) {
	switch kind {
	case SourceCSVFile:
		return csvImporter{}, nil
	case SourceJSONFile:
		return jsonImporter{}, nil
	case SourceParquetFile, SourceS3Prefix:
		return unsupportedImporter{kind: kind}, nil
	default:
		return nil, fmt.Errorf("ingestion: no importer registered for %s", kind)
	}
}

type unsupportedImporter struct{ kind SourceKind }

func (u unsupportedImporter) Import(context.Context, SourceConfig, Sink) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedSource, u.kind)
}

// csvImporter reads a CSV file with a header row; each row becomes one
// document with string-valued fields, eventType taken from the source
// config.
type csvImporter struct{}

func (csvImporter) Import(ctx context.Context, cfg SourceConfig, sink Sink) error {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fields := document.Fields{}
		for i, col := range header {
			if i < len(row) {
				fields[col] = document.NewText(row[i])
			}
		}
		doc := document.New(eventTypeOf(cfg), time.Now(), fields)
		if _, err := sink.Put(doc); err != nil {
			return err
		}
	}
}

// jsonImporter reads newline-delimited JSON objects, one document per
// line. Values decode to text/number/bool fields via AsNumber-compatible
// encoding; unsupported JSON shapes (arrays, nested objects) are
// flattened to their JSON text representation.
type jsonImporter struct{}

func (jsonImporter) Import(ctx context.Context, cfg SourceConfig, sink Sink) error {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		fields := document.Fields{}
		for k, v := range raw {
			fields[k] = jsonValueToField(v)
		}
		doc := document.New(eventTypeOf(cfg), time.Now(), fields)
		if _, err := sink.Put(doc); err != nil {
			return err
		}
	}
	return nil
}

func jsonValueToField(v any) document.Value {
	switch x := v.(type) {
	case string:
		return document.NewText(x)
	case float64:
		return document.NewFloat(x)
	case bool:
		return document.NewBool(x)
	case nil:
		return document.Null()
	default:
		body, _ := json.Marshal(x)
		return document.NewText(string(body))
	}
}

func eventTypeOf(cfg SourceConfig) string {
	if cfg.EventType != "" {
		return cfg.EventType
	}
	return "imported"
}
