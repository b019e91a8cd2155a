package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

// MultiSource polls several peer sources as one, so an empty answer from
// one transport does not clear peers heard on another. Payloads are merged
// into a single JSON array. A source that fails is skipped; Receive fails
// only when every source does.
type MultiSource []PeerSource

func (m MultiSource) Receive(ctx context.Context) ([]byte, error) {
	if len(m) == 1 {
		return m[0].Receive(ctx)
	}

	merged := []json.RawMessage{}
	var errs []error
	for _, src := range m {
		payload, err := src.Receive(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		merged = append(merged, splitPayload(payload)...)
	}
	if len(errs) == len(m) && len(m) > 0 {
		return nil, errors.Join(errs...)
	}
	return json.Marshal(merged)
}

// splitPayload breaks a transport payload into its entries. An empty object
// or empty body contributes nothing; anything that is not an array is kept
// whole so the engine can reject it.
func splitPayload(payload []byte) []json.RawMessage {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) {
		return nil
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err == nil {
			return arr
		}
	}
	if !json.Valid(trimmed) {
		return []json.RawMessage{json.RawMessage(`"invalid payload"`)}
	}
	return []json.RawMessage{trimmed}
}
