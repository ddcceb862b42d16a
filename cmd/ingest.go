package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/replydesk/internal/aiconnectors"
	"github.com/replydesk/internal/database"
	"github.com/replydesk/internal/knowledge"
)

// IngestCommand returns the ingest command
func IngestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Replace the policy knowledge base with a markdown file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Vector collection name (overrides knowledge.collection)",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Source label stored on every chunk (overrides knowledge.source)",
			},
		},
		ArgsUsage: "POLICY.md",
		Action:    runIngest,
	}
}

func runIngest(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: POLICY.md")
	}
	path := c.Args().Get(0)

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	collection := cfg.Knowledge.Collection
	if v := c.String("collection"); v != "" {
		collection = v
	}
	opts := knowledge.IngestOptions{
		Source:       cfg.Knowledge.Source,
		ChunkSize:    cfg.Knowledge.ChunkSize,
		ChunkOverlap: cfg.Knowledge.ChunkOverlap,
	}
	if v := c.String("source"); v != "" {
		opts.Source = v
	}

	ctx := c.Context
	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	embedder, err := aiconnectors.NewEmbedder(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	store, err := knowledge.NewPGVectorStore(ctx, pool, embedder, collection, true)
	if err != nil {
		return err
	}

	n, err := knowledge.IngestFile(ctx, store, path, opts)
	if err != nil {
		return fmt.Errorf("failed to ingest %s: %w", path, err)
	}

	log.Info().Str("file", path).Str("collection", collection).Int("chunks", n).Msg("Knowledge base ingested")
	fmt.Printf("Ingested %d chunks from %s into %q\n", n, path, collection)
	return nil
}
