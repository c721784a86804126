// Package entry defines the core entry model and its PostgreSQL store.
//
// An entry is a unit of captured knowledge: free text plus JSON metadata.
// Each entry may carry one 1536-dimension embedding in a companion table,
// removed automatically on delete via ON DELETE CASCADE. Relationships
// between entries live inside the metadata as links (outgoing) and
// backlinks (incoming) adjacency lists.
package entry

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EmbeddingDim is the fixed dimensionality of stored vectors.
// Matches text-embedding-3-small and the vector(1536) column type.
const EmbeddingDim = 1536

var (
	// ErrNotFound indicates the entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrExists indicates an entry with the same id already exists.
	ErrExists = errors.New("entry already exists")

	// ErrNoEmbedding indicates the entry exists but has no stored vector.
	ErrNoEmbedding = errors.New("entry has no embedding")
)

// Entry is a stored knowledge base entry.
type Entry struct {
	ID       uuid.UUID `json:"id"`
	Data     string    `json:"data"`
	Metadata Metadata  `json:"metadata"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

// Scored is an entry paired with a cosine similarity score, as returned
// by vector queries (similarity = 1 - cosine distance).
type Scored struct {
	Entry
	Similarity float64 `json:"similarity"`
}

// Embedded is an entry paired with its raw stored vector.
type Embedded struct {
	Entry
	Embedding []float32 `json:"embedding"`
}
