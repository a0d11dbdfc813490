package types

import (
	"time"

	"github.com/google/uuid"
)

type Chunk struct {
	ID            uuid.UUID
	CorrelationID string // job_id документа, к которому относится чанк
	Position      int
	Title         string
	SourceURI     string
	Content       string
	Embedding     []float32
}

type Document struct {
	ID            int64          `json:"id"`
	OwnerID       int64          `json:"owner_id"`
	CorrelationID string         `json:"correlation_id"`
	ContentHash   string         `json:"content_hash"`
	Title         string         `json:"title"`
	SourceURI     string         `json:"source_uri"`
	Details       map[string]any `json:"doc_details,omitempty"`
	CreateTime    time.Time      `json:"create_time"`
}

type DocumentMetadata struct {
	ID             int64       `json:"id"`
	CorrelationID  string      `json:"correlation_id"`
	IndexStatus    IndexStatus `json:"index_status"`
	DocContentHash string      `json:"doc_content_hash"`
}

type DeadLetter struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchHit is one ranked chunk returned by a lexical or vector query.
type SearchHit struct {
	CorrelationID string
	Title         string
	SourceURI     string
	Content       string
	Score         float64
}
