package domain

import "time"

type Paper struct {
	ID          int64     `json:"-"`
	ArxivID     string    `json:"arxiv_id"`
	Title       string    `json:"title"`
	Abstract    string    `json:"abstract"`
	Authors     []string  `json:"authors"`
	PublishedAt time.Time `json:"published_at"`
	Category    string    `json:"category,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chunk is a contiguous slice of a paper abstract. Index is zero-based within the paper.
type Chunk struct {
	ID      int64  `json:"id"`
	PaperID int64  `json:"paper_id"`
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// ChunkRow is a persisted chunk joined with its serialized embedding and owning paper.
type ChunkRow struct {
	ChunkID       int64
	PaperID       int64
	ChunkIndex    int
	Content       string
	EmbeddingBlob []byte
	Paper         Paper
}

// EmbeddedChunk is a chunk whose embedding has been decoded and is ready for similarity scoring.
type EmbeddedChunk struct {
	ChunkID int64
	PaperID int64
	Content string
	Vector  []float32
	Paper   Paper
}

type ChunkMatch struct {
	Chunk      EmbeddedChunk
	Similarity float64
}

type IngestReport struct {
	Received  int      `json:"received"`
	Stored    int      `json:"stored"`
	Published int      `json:"published"`
	Failed    int      `json:"failed"`
	StoredIDs []string `json:"stored_ids,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

type IndexReport struct {
	ArxivID        string `json:"arxiv_id"`
	ChunksTotal    int    `json:"chunks_total"`
	ChunksEmbedded int    `json:"chunks_embedded"`
	ChunksSkipped  int    `json:"chunks_skipped"`
}
