package serialmux

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/roadsense/internal/gnss"
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// FixSink receives assembled position fixes. *engine.Engine satisfies it.
type FixSink interface {
	IngestSelfFix(vehicle.PositionFix) (vehicle.SelfState, error)
}

// HandlerStats counts what the fix handler has seen.
type HandlerStats struct {
	Lines    int `json:"lines"`
	Fixes    int `json:"fixes"`
	Rejected int `json:"rejected"`
	Errors   int `json:"errors"`
	Acks     int `json:"acks"`
}

// FixHandler feeds receiver lines through a gnss.Assembler into a FixSink.
type FixHandler struct {
	mu    sync.Mutex
	asm   *gnss.Assembler
	sink  FixSink
	stats HandlerStats
}

// NewFixHandler creates a handler using asm, or a default assembler when nil.
func NewFixHandler(asm *gnss.Assembler, sink FixSink) *FixHandler {
	if asm == nil {
		asm = gnss.NewAssembler()
	}
	return &FixHandler{asm: asm, sink: sink}
}

// HandleLine processes one line. Sentence errors are returned; a fix the
// sink rejects is counted and returned too.
func (h *FixHandler) HandleLine(line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Lines++
	if ClassifyLine(line) == EventTypeAck {
		h.stats.Acks++
		monitoring.Logf("gnss: receiver ack %s", line)
		return nil
	}
	fix, ok, err := h.asm.Feed(line)
	if err != nil {
		if errors.Is(err, gnss.ErrNoFix) {
			return nil
		}
		h.stats.Errors++
		return fmt.Errorf("failed to decode %q: %w", line, err)
	}
	if !ok {
		return nil
	}
	if _, err := h.sink.IngestSelfFix(fix); err != nil {
		h.stats.Rejected++
		return fmt.Errorf("fix rejected: %w", err)
	}
	h.stats.Fixes++
	return nil
}

// Stats returns a copy of the counters.
func (h *FixHandler) Stats() HandlerStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Consume subscribes to mux and handles lines until ctx is done or the mux
// closes the subscription.
func (h *FixHandler) Consume(ctx context.Context, mux SerialMuxInterface) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := h.HandleLine(line); err != nil {
				monitoring.Logf("gnss: %v", err)
			}
		}
	}
}
