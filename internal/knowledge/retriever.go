package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/pgvector"
)

const (
	DefaultCollection = "policy"
	DefaultSource     = "airlines_policy"
	DefaultK          = 4
)

// Retriever answers search-knowledge queries from a vector store.
type Retriever struct {
	store vectorstores.VectorStore
}

// NewRetriever creates a retriever over store.
func NewRetriever(store vectorstores.VectorStore) *Retriever {
	return &Retriever{store: store}
}

// Query returns up to k snippets ordered by similarity to text.
func (r *Retriever) Query(ctx context.Context, text string, k int) ([]string, error) {
	if k <= 0 {
		k = DefaultK
	}
	docs, err := r.store.SimilaritySearch(ctx, text, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	snippets := make([]string, 0, len(docs))
	for _, doc := range docs {
		if content := strings.TrimSpace(doc.PageContent); content != "" {
			snippets = append(snippets, content)
		}
	}
	return snippets, nil
}

// NewPGVectorStore opens the pgvector collection on the shared pool. With
// preDelete the collection is dropped and recreated, which is what ingest wants.
func NewPGVectorStore(ctx context.Context, pool *pgxpool.Pool, embedder embeddings.Embedder, collection string, preDelete bool) (pgvector.Store, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	store, err := pgvector.New(ctx,
		pgvector.WithConn(pool),
		pgvector.WithEmbedder(embedder),
		pgvector.WithCollectionName(collection),
		pgvector.WithPreDeleteCollection(preDelete),
	)
	if err != nil {
		return pgvector.Store{}, fmt.Errorf("open pgvector collection %q: %w", collection, err)
	}
	return store, nil
}
