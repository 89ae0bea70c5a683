// Package models defines API request/response data structures.
package models

import (
	"time"

	"github.com/arguendo/recall/pkg/memory"
)

// WriteMemoryRequest represents a memory write request.
type WriteMemoryRequest struct {
	// Text is the raw content to remember.
	Text string `json:"text" validate:"required,min=1,max=16384" example:"The opponent claimed renewable subsidies distort markets."`

	// Metadata optionally overrides extracted tags field by field.
	Metadata *MetadataOverride `json:"metadata,omitempty"`
}

// MetadataOverride carries caller-supplied tag overrides. Unset fields keep
// the extracted values.
type MetadataOverride struct {
	Role         string  `json:"role,omitempty" validate:"omitempty,max=64" example:"opponent"`
	Topic        string  `json:"topic,omitempty" validate:"omitempty,max=128" example:"energy policy"`
	DocumentType string  `json:"document_type,omitempty" validate:"omitempty,oneof=argument evidence rebuttal question claim" example:"claim"`
	Turn         int     `json:"turn,omitempty" validate:"omitempty,min=1" example:"2"`
	Sentiment    string  `json:"sentiment,omitempty" validate:"omitempty,oneof=positive negative" example:"negative"`
	Importance   float64 `json:"importance,omitempty" validate:"omitempty,min=0,max=1" example:"0.8"`
	SourceType   string  `json:"source_type,omitempty" validate:"omitempty,max=64" example:"chat"`
}

// ToMetadata converts the override into the engine's metadata struct.
func (o *MetadataOverride) ToMetadata() memory.Metadata {
	if o == nil {
		return memory.Metadata{}
	}
	return memory.Metadata{
		Role:         o.Role,
		Topic:        o.Topic,
		DocumentType: o.DocumentType,
		Turn:         o.Turn,
		Sentiment:    o.Sentiment,
		Importance:   o.Importance,
		SourceType:   o.SourceType,
	}
}

// WriteMemoryResponse represents a memory write response.
type WriteMemoryResponse struct {
	// ID is the generated record identifier.
	ID string `json:"id"`

	// SessionID is the session the record was written to.
	SessionID string `json:"session_id"`

	// Metadata is the final merged tag set stored with the record.
	Metadata memory.Metadata `json:"metadata"`
}

// SearchResponse represents a retrieval result set.
type SearchResponse struct {
	// SessionID is the session that was searched.
	SessionID string `json:"session_id"`

	// Query is the echoed query text.
	Query string `json:"query"`

	// Results are the ranked candidates, best first.
	Results []memory.RetrievalCandidate `json:"results"`

	// Count is the number of results returned.
	Count int `json:"count"`
}

// PayloadRequest represents a context payload build request.
type PayloadRequest struct {
	// Persona is the fixed persona segment. Never truncated.
	Persona string `json:"persona" validate:"required,min=1" example:"You are a debate assistant."`

	// Task is the fixed task segment. Never truncated.
	Task string `json:"task" validate:"required,min=1" example:"Summarize the strongest rebuttal."`

	// Query drives long-term retrieval. Empty skips retrieval.
	Query string `json:"query,omitempty" example:"What did the opponent claim in turn 2?"`

	// Budget is the token budget for the rendered payload. Zero means
	// unbounded.
	Budget int `json:"budget,omitempty" validate:"omitempty,min=1" example:"2048"`
}

// PayloadResponse represents a built context payload.
type PayloadResponse struct {
	// Payload is the structured payload with per-segment content.
	Payload *memory.ContextPayload `json:"payload"`

	// Rendered is the single delimited string handed to the generator.
	Rendered string `json:"rendered"`
}

// ClearResponse represents the outcome of a clear operation.
type ClearResponse struct {
	// Scope is the cleared session ID, or "all".
	Scope string `json:"scope"`

	// Removed is the number of records deleted.
	Removed int `json:"removed"`
}

// SessionStatsResponse summarizes one session's footprint in the store.
type SessionStatsResponse struct {
	// SessionID is the session summarized.
	SessionID string `json:"session_id"`

	// RecordCount is the number of records in the session.
	RecordCount int `json:"record_count"`

	// WindowDepth is how many of the session's records sit in the
	// short-term window.
	WindowDepth int `json:"window_depth"`

	// LastSeq is the store-wide last sequence number.
	LastSeq uint64 `json:"last_seq"`
}

// StatusResponse represents the service status summary.
type StatusResponse struct {
	// Status is the overall service state.
	Status string `json:"status"`

	// Version is the build version.
	Version string `json:"version"`

	// Uptime is the time since process start.
	Uptime string `json:"uptime"`

	// Timestamp is when this snapshot was taken.
	Timestamp time.Time `json:"timestamp"`

	// Memory summarizes the engine state.
	Memory memory.Stats `json:"memory"`
}
