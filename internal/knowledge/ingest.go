package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"
)

// IngestOptions controls chunking of a policy document.
type IngestOptions struct {
	Source       string
	ChunkSize    int
	ChunkOverlap int
}

func (o IngestOptions) withDefaults() IngestOptions {
	if o.Source == "" {
		o.Source = DefaultSource
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 2000
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = 0
	}
	return o
}

// SplitSections cuts markdown into chunks that each start at a "## " heading.
// Text before the first heading is its own chunk. Blank chunks are dropped.
func SplitSections(markdown string) []string {
	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if chunk := strings.TrimSpace(current.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, line := range strings.SplitAfter(markdown, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
		}
		current.WriteString(line)
	}
	flush()
	return chunks
}

// Chunk splits markdown into documents ready for the vector store. Sections
// longer than ChunkSize are split further on paragraph and sentence boundaries.
func Chunk(markdown string, opts IngestOptions) ([]schema.Document, error) {
	opts = opts.withDefaults()
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(opts.ChunkSize),
		textsplitter.WithChunkOverlap(opts.ChunkOverlap),
	)

	var docs []schema.Document
	for _, section := range SplitSections(markdown) {
		parts := []string{section}
		if len(section) > opts.ChunkSize {
			split, err := splitter.SplitText(section)
			if err != nil {
				return nil, fmt.Errorf("split section: %w", err)
			}
			parts = split
		}
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			docs = append(docs, schema.Document{
				PageContent: part,
				Metadata: map[string]any{
					"source": opts.Source,
					"chunk":  len(docs),
				},
			})
		}
	}
	return docs, nil
}

// IngestFile loads a markdown policy file into store and returns the number of chunks written.
func IngestFile(ctx context.Context, store vectorstores.VectorStore, path string, opts IngestOptions) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read policy file: %w", err)
	}
	return Ingest(ctx, store, string(raw), opts)
}

// Ingest chunks markdown and adds it to store.
func Ingest(ctx context.Context, store vectorstores.VectorStore, markdown string, opts IngestOptions) (int, error) {
	docs, err := Chunk(markdown, opts)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, fmt.Errorf("policy document has no content")
	}

	if _, err := store.AddDocuments(ctx, docs); err != nil {
		return 0, fmt.Errorf("add documents: %w", err)
	}

	log.Info().
		Int("chunks", len(docs)).
		Str("source", opts.withDefaults().Source).
		Msg("Ingested policy document")
	return len(docs), nil
}
