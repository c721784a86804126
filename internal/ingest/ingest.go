// Package ingest implements bulk CSV ingestion of entries with optional
// precomputed embeddings, plus the named seed datasets shipped with the
// application.
package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/your-commonbase/commonbase/internal/ai"
	"github.com/your-commonbase/commonbase/internal/entry"
)

// MaxReportedErrors caps how many row errors a Report carries.
// The error count is always exact.
const MaxReportedErrors = 10

// Seed dataset identifiers accepted by SeedFile.
const (
	DatasetQuotes = "quotes"
	DatasetImages = "images"
)

const (
	quotesSeedFile = "quotes_with_embeddings.csv"
	imagesSeedFile = "images_with_embeddings_edited.csv"
)

// ErrUnknownDataset indicates an unrecognized seed dataset name.
var ErrUnknownDataset = errors.New("unknown dataset")

// Store is the subset of the entry store the pipeline needs.
type Store interface {
	Create(ctx context.Context, data string, md entry.Metadata, id uuid.UUID) (*entry.Entry, error)
	UpsertEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
}

// Linker attaches freshly ingested entries to a parent.
type Linker interface {
	BacklinkParent(ctx context.Context, parentID, childID uuid.UUID)
}

// Options tune one pipeline run.
type Options struct {
	// ImageSeed enables the seed-image rewrite: the filename column is
	// turned into a local source path and the entry is tagged type image.
	ImageSeed bool
}

// Report summarizes a pipeline run.
type Report struct {
	SuccessCount int      `json:"successCount"`
	ErrorCount   int      `json:"errorCount"`
	Errors       []string `json:"errors"`
}

// Pipeline ingests CSV streams into the store.
//
// Expected header columns: data (required per row), id or uuid, metadata
// (JSON object string), embedding (JSON number array string), link,
// filename. Unknown columns are ignored. Rows fail individually; a bad
// row never aborts the run.
type Pipeline struct {
	store    Store
	embedder ai.Embedder
	linker   Linker
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline. linker may be nil when link columns
// should be stored without maintaining parent backlinks.
func NewPipeline(store Store, embedder ai.Embedder, linker Linker, logger *slog.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, embedder: embedder, linker: linker, logger: logger}, nil
}

// columns maps the header names the pipeline understands to their index.
type columns struct {
	data, id, metadata, embedding, link, filename int
}

func parseHeader(header []string) (columns, error) {
	cols := columns{data: -1, id: -1, metadata: -1, embedding: -1, link: -1, filename: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "data":
			cols.data = i
		case "id", "uuid":
			cols.id = i
		case "metadata":
			cols.metadata = i
		case "embedding":
			cols.embedding = i
		case "link":
			cols.link = i
		case "filename":
			cols.filename = i
		}
	}
	if cols.data == -1 {
		return cols, fmt.Errorf("missing required column: data")
	}
	return cols, nil
}

// Run ingests the CSV stream and returns a per-row report. A malformed
// header or unreadable stream fails the whole run; row-level problems are
// collected into the report.
func (p *Pipeline) Run(ctx context.Context, r io.Reader, opts Options) (*Report, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	cols, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	report := &Report{Errors: []string{}}
	rowNum := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row %d: %w", rowNum+1, err)
		}
		rowNum++

		if rowErr := p.ingestRow(ctx, record, cols, opts); rowErr != nil {
			report.ErrorCount++
			if len(report.Errors) < MaxReportedErrors {
				report.Errors = append(report.Errors, fmt.Sprintf("row %d: %v", rowNum, rowErr))
			}
			continue
		}
		report.SuccessCount++
	}

	p.logger.Info("bulk ingest finished",
		"success", report.SuccessCount, "errors", report.ErrorCount)
	return report, nil
}

// field returns record[idx] or "" when the column is absent or the row is short.
func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func (p *Pipeline) ingestRow(ctx context.Context, record []string, cols columns, opts Options) error {
	data := field(record, cols.data)
	if data == "" {
		return fmt.Errorf("data is required")
	}

	id := uuid.Nil
	if raw := field(record, cols.id); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", raw, err)
		}
		if parsed.Version() != 4 {
			return fmt.Errorf("invalid id %q: not a version 4 UUID", raw)
		}
		id = parsed
	}

	md := entry.Metadata{}
	if raw := field(record, cols.metadata); raw != "" {
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			// Bad metadata degrades to an empty object, the row still counts.
			p.logger.Warn("invalid metadata, using empty object", "id", id, "error", err)
			md = entry.Metadata{}
		}
	}

	if opts.ImageSeed {
		if filename := field(record, cols.filename); filename != "" {
			md.Filename = filename
			md.Source = path.Join("/assets/seeds/sample_images", filename)
			md.Type = "image"
		}
	}

	var parentID uuid.UUID
	if raw := field(record, cols.link); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			// An unresolvable parent costs the row its link, not its entry.
			p.logger.Warn("skipping malformed link", "link", raw, "id", id)
		} else {
			parentID = parsed
			md.AddLink(parsed.String())
		}
	}

	vec, err := p.resolveEmbedding(ctx, field(record, cols.embedding), data, id)
	if err != nil {
		return err
	}

	created, err := p.store.Create(ctx, data, md, id)
	if err != nil {
		if errors.Is(err, entry.ErrExists) {
			return fmt.Errorf("entry %s already exists", id)
		}
		return err
	}

	if err := p.store.UpsertEmbedding(ctx, created.ID, vec); err != nil {
		// The entry row stays behind, but the row is reported as failed:
		// bulk-ingested entries must come out searchable.
		p.logger.Warn("failed to store embedding", "id", created.ID, "error", err)
		return fmt.Errorf("storing embedding for %s: %w", created.ID, err)
	}

	if parentID != uuid.Nil && p.linker != nil {
		p.linker.BacklinkParent(ctx, parentID, created.ID)
	}

	return nil
}

// resolveEmbedding parses a supplied embedding or generates a fresh one.
// Anything other than exactly entry.EmbeddingDim valid numbers is treated
// as unusable and regenerated from the row's data.
func (p *Pipeline) resolveEmbedding(ctx context.Context, raw, data string, id uuid.UUID) ([]float32, error) {
	if raw != "" {
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err == nil && len(vec) == entry.EmbeddingDim {
			return vec, nil
		}
		p.logger.Warn("unusable supplied embedding, regenerating", "id", id)
	}

	vec, err := p.embedder.Embed(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("generating embedding: %w", err)
	}
	return vec, nil
}

// SeedFile resolves a named seed dataset to its CSV path under assetsDir
// and the pipeline options it requires.
func SeedFile(assetsDir, dataset string) (string, Options, error) {
	switch dataset {
	case DatasetQuotes:
		return filepath.Join(assetsDir, "seeds", quotesSeedFile), Options{}, nil
	case DatasetImages:
		return filepath.Join(assetsDir, "seeds", imagesSeedFile), Options{ImageSeed: true}, nil
	default:
		return "", Options{}, fmt.Errorf("%w: %q (must be %q or %q)",
			ErrUnknownDataset, dataset, DatasetQuotes, DatasetImages)
	}
}

// CollectIDs extracts every parseable id from the CSV's id/uuid column.
// Used by dataset teardown to know what to delete.
func CollectIDs(r io.Reader) ([]uuid.UUID, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	cols, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		raw := field(record, cols.id)
		if raw == "" {
			continue
		}
		if id, parseErr := uuid.Parse(raw); parseErr == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
