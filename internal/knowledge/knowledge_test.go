package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// memoryStore ranks documents by how many query words they contain.
type memoryStore struct {
	docs []schema.Document
	err  error
}

func (m *memoryStore) AddDocuments(_ context.Context, docs []schema.Document, _ ...vectorstores.Option) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.docs = append(m.docs, docs...)
	ids := make([]string, len(docs))
	return ids, nil
}

func (m *memoryStore) SimilaritySearch(_ context.Context, query string, n int, _ ...vectorstores.Option) ([]schema.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []schema.Document
	for _, doc := range m.docs {
		for _, word := range strings.Fields(strings.ToLower(query)) {
			if strings.Contains(strings.ToLower(doc.PageContent), word) {
				out = append(out, doc)
				break
			}
		}
		if len(out) == n {
			break
		}
	}
	return out, nil
}

const policy = `# Airline policy

General terms apply to all bookings.

## Refunds
§3.2: Refunds processed within 5 business days.

## Baggage
Two checked bags on international flights.

##Not a heading
still baggage
`

func TestSplitSections(t *testing.T) {
	got := SplitSections(policy)
	require.Len(t, got, 3)
	assert.Equal(t, "# Airline policy\n\nGeneral terms apply to all bookings.", got[0])
	assert.True(t, strings.HasPrefix(got[1], "## Refunds"))
	assert.Contains(t, got[2], "##Not a heading")
}

func TestSplitSections_Empty(t *testing.T) {
	assert.Empty(t, SplitSections("\n\n  \n"))
}

func TestChunk_SplitsLongSections(t *testing.T) {
	long := "## Long\n" + strings.Repeat("Refunds are issued to the original form of payment.\n\n", 20)

	docs, err := Chunk(long, IngestOptions{ChunkSize: 200, ChunkOverlap: 20})
	require.NoError(t, err)
	assert.Greater(t, len(docs), 1)
	for i, doc := range docs {
		assert.Equal(t, DefaultSource, doc.Metadata["source"])
		assert.Equal(t, i, doc.Metadata["chunk"])
		assert.NotEmpty(t, doc.PageContent)
	}
}

func TestIngestAndQuery(t *testing.T) {
	store := &memoryStore{}
	n, err := Ingest(context.Background(), store, policy, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	snippets, err := NewRetriever(store).Query(context.Background(), "refunds", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"## Refunds\n§3.2: Refunds processed within 5 business days."}, snippets)
}

func TestIngestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airlines_policy.md")
	require.NoError(t, os.WriteFile(path, []byte(policy), 0o600))

	store := &memoryStore{}
	n, err := IngestFile(context.Background(), store, path, IngestOptions{Source: "test"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "test", store.docs[0].Metadata["source"])

	_, err = IngestFile(context.Background(), store, filepath.Join(t.TempDir(), "missing.md"), IngestOptions{})
	assert.Error(t, err)
}

func TestIngest_EmptyDocument(t *testing.T) {
	_, err := Ingest(context.Background(), &memoryStore{}, "   ", IngestOptions{})
	assert.Error(t, err)
}

func TestQuery_StoreError(t *testing.T) {
	_, err := NewRetriever(&memoryStore{err: errors.New("connection refused")}).Query(context.Background(), "x", 4)
	assert.ErrorContains(t, err, "connection refused")
}
