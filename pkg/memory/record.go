// Package memory implements the hybrid retrieval and layered-memory engine:
// a short-term window, an exact-search vector index, a BM25 lexical index,
// weighted score fusion, rule-based metadata extraction, a query classifier,
// and the adaptive retriever that ties them together.
package memory

import (
	"errors"
	"time"
)

// Sentinel errors for the memory engine.
var (
	ErrInvalidSessionID  = errors.New("memory: invalid session ID")
	ErrInvalidQuery      = errors.New("memory: invalid query")
	ErrDimensionMismatch = errors.New("memory: vector dimension mismatch")
	ErrNotFound          = errors.New("memory: record not found")
	ErrEmptyText         = errors.New("memory: record text is empty")
)

// MetadataSchemaVersion identifies the metadata struct layout. Bump it when
// fields are added so persisted records can be migrated on replay.
const MetadataSchemaVersion = 1

// Metadata is the fixed, versioned tag set derived from record text at write
// time. Fields a rule cannot classify stay at their zero value; the engine
// never guesses.
type Metadata struct {
	// SchemaVersion is the layout version this metadata was written with.
	SchemaVersion int `json:"schema_version"`

	// Role is the speaker stance if inferable (proponent, opponent,
	// moderator, user, assistant).
	Role string `json:"role,omitempty"`

	// Topic is a keyword-derived topic label.
	Topic string `json:"topic,omitempty"`

	// DocumentType classifies the text structure: argument, evidence,
	// rebuttal, question, or claim.
	DocumentType string `json:"document_type,omitempty"`

	// Turn is the 1-based turn ordinal when the text references one.
	// Zero means no temporal marker was found.
	Turn int `json:"turn,omitempty"`

	// Confidence is a heuristic 0-1 strength score for the extraction.
	Confidence float64 `json:"confidence,omitempty"`

	// Sentiment is positive, negative, or empty when neutral/unknown.
	Sentiment string `json:"sentiment,omitempty"`

	// Importance is a heuristic 0-1 weight of the record.
	Importance float64 `json:"importance,omitempty"`

	// SourceType names where the text came from (chat, document, ocr, web).
	SourceType string `json:"source_type,omitempty"`
}

// Merge overlays non-zero caller-supplied fields onto extracted metadata.
// Caller overrides win field by field.
func (m Metadata) Merge(override Metadata) Metadata {
	out := m
	if override.Role != "" {
		out.Role = override.Role
	}
	if override.Topic != "" {
		out.Topic = override.Topic
	}
	if override.DocumentType != "" {
		out.DocumentType = override.DocumentType
	}
	if override.Turn != 0 {
		out.Turn = override.Turn
	}
	if override.Confidence != 0 {
		out.Confidence = override.Confidence
	}
	if override.Sentiment != "" {
		out.Sentiment = override.Sentiment
	}
	if override.Importance != 0 {
		out.Importance = override.Importance
	}
	if override.SourceType != "" {
		out.SourceType = override.SourceType
	}
	out.SchemaVersion = MetadataSchemaVersion
	return out
}

// MemoryRecord is one stored interaction. Records are append-only: created
// on write, never mutated, removed only by explicit clear.
type MemoryRecord struct {
	// ID is the unique record identifier, generated at write time.
	ID string `json:"id"`

	// SessionID groups records into one logical conversation.
	SessionID string `json:"session_id"`

	// Text is the immutable raw content.
	Text string `json:"text"`

	// Embedding is the dense vector, computed once at write time.
	Embedding []float32 `json:"embedding,omitempty"`

	// Metadata is the fixed tag set extracted (or overridden) at write time.
	Metadata Metadata `json:"metadata"`

	// Seq is a store-wide monotonic sequence number.
	Seq uint64 `json:"seq"`

	// CreatedAt is the wall-clock write timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// RetrievalCandidate is a transient per-query result carrying both raw
// signal scores and the fused score.
type RetrievalCandidate struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	VectorScore  float64   `json:"vector_score"`
	LexicalScore float64   `json:"lexical_score"`
	FusedScore   float64   `json:"fused_score"`
	Metadata     Metadata  `json:"metadata"`
	CreatedAt    time.Time `json:"created_at"`
	Seq          uint64    `json:"seq"`
}

// Stats summarizes the engine state for the admin surface.
type Stats struct {
	RecordCount      int            `json:"record_count"`
	VectorIndexSize  int            `json:"vector_index_size"`
	LexicalIndexSize int            `json:"lexical_index_size"`
	WindowDepth      int            `json:"window_depth"`
	SessionCount     int            `json:"session_count"`
	ModeDistribution map[string]int `json:"mode_distribution"`
}

func cloneRecord(r *MemoryRecord) *MemoryRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Embedding != nil {
		clone.Embedding = append([]float32(nil), r.Embedding...)
	}
	return &clone
}
