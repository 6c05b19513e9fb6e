// Package memorystore provides a typed wrapper over the memory tool's
// read/write/forget operations, all issued through a single POST
// {base}/invoke endpoint distinguished by an "operation" field.
package memorystore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ampkernel/amp/kernelerr"
	"github.com/ampkernel/amp/toolspec"
)

// Entry is a single memory record, addressable by key.
type Entry struct {
	Key             string          `json:"key"`
	Value           json.RawMessage `json:"value"`
	Provenance      []string        `json:"provenance"`
	Confidence      float64         `json:"confidence"`
	TTL             string          `json:"ttl"`
	Timestamp       time.Time       `json:"timestamp"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	EvidenceSummary json.RawMessage `json:"evidence_summary,omitempty"`
}

// WriteRequest is the input to Write.
type WriteRequest struct {
	Key             string
	Value           interface{}
	Provenance      []string
	Confidence      float64
	TTL             string
	EvidenceSummary interface{}
}

type readResultEnvelope struct {
	Success bool   `json:"success"`
	Entry   *Entry `json:"entry,omitempty"`
	Message string `json:"message,omitempty"`
}

type invokeResultEnvelope struct {
	Result readResultEnvelope `json:"result"`
}

// Store is the memory tool's typed client.
type Store struct {
	client *toolspec.Client
}

// NewStore wraps an existing toolspec.Client.
func NewStore(client *toolspec.Client) *Store {
	return &Store{client: client}
}

// Read issues a read operation. A key that doesn't exist is not an error:
// it returns (nil, nil).
func (s *Store) Read(ctx context.Context, baseURL, toolName, key string) (*Entry, error) {
	raw, err := s.client.InvokeOperation(ctx, baseURL, toolName, map[string]interface{}{
		"operation": "read",
		"key":       key,
	})
	if err != nil {
		return nil, err
	}

	var envelope invokeResultEnvelope
	if err := json.Unmarshal(wrapResult(raw), &envelope); err != nil {
		return nil, kernelerr.StorageError("memorystore.Read", err.Error())
	}
	return envelope.Result.Entry, nil
}

// Write issues a write operation. Confidence must already have cleared the
// 0.8 admission threshold by the time this is called; Write itself does
// not re-check it, since the scheduler's mem.write handler owns that gate
// and may have derived confidence from an evidence summary.
func (s *Store) Write(ctx context.Context, baseURL, toolName string, req WriteRequest) error {
	ttl := req.TTL
	if ttl == "" {
		ttl = DefaultTTL
	}
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	if len(req.Provenance) == 0 {
		return kernelerr.MissingProvenance("memorystore.Write", "", "write requires non-empty provenance")
	}

	body := map[string]interface{}{
		"operation":  "write",
		"key":        req.Key,
		"value":      req.Value,
		"provenance": req.Provenance,
		"confidence": req.Confidence,
		"ttl":        ttl,
	}
	if req.EvidenceSummary != nil {
		body["evidence_summary"] = req.EvidenceSummary
	}

	_, err := s.client.InvokeOperation(ctx, baseURL, toolName, body)
	return err
}

// WriteWithEvidence is a convenience wrapper around Write that always
// attaches an evidence summary to the write payload.
func (s *Store) WriteWithEvidence(ctx context.Context, baseURL, toolName string, req WriteRequest, evidenceSummary interface{}) error {
	req.EvidenceSummary = evidenceSummary
	return s.Write(ctx, baseURL, toolName, req)
}

// Forget issues a forget operation. It has no corresponding Plan node
// operation; it exists for API symmetry with the tool's documented
// contract.
func (s *Store) Forget(ctx context.Context, baseURL, toolName, key string) error {
	_, err := s.client.InvokeOperation(ctx, baseURL, toolName, map[string]interface{}{
		"operation": "forget",
		"key":       key,
	})
	return err
}

// wrapResult re-wraps a raw "result" payload into the shape
// invokeResultEnvelope expects, since toolspec.Client.InvokeOperation
// already unwraps the outer {"result": ...} envelope.
func wrapResult(raw json.RawMessage) []byte {
	return append(append([]byte(`{"result":`), raw...), '}')
}
