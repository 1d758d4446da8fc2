package model

import "time"

// RawRecord is a source-native record produced by an adapter before normalization.
type RawRecord struct {
	SourceID    string         `json:"source_id"`
	SourceKind  SourceKind     `json:"source_kind"`
	NativeKey   string         `json:"native_key,omitempty"`
	Fields      map[string]any `json:"fields"`
	RetrievedAt time.Time      `json:"retrieved_at"`
}

// UnresolvedRecord is a record that could not be assigned a claim identity.
type UnresolvedRecord struct {
	SourceID    string         `json:"source_id"`
	SourceKind  SourceKind     `json:"source_kind"`
	NativeKey   string         `json:"native_key,omitempty"`
	RetrievedAt time.Time      `json:"retrieved_at"`
	Reason      string         `json:"reason"`
	Fields      map[string]any `json:"fields,omitempty"`
}
