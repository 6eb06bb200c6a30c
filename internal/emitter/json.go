package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/yairfalse/vahti/internal/aggregate"
	"github.com/yairfalse/vahti/internal/redact"
)

// JSONEmitter writes each result as indented JSON.
type JSONEmitter struct {
	mu     sync.Mutex
	w      io.Writer
	redact bool
}

// NewJSONEmitter creates an emitter writing to w. With redactIDs set,
// account and resource identifiers are masked before writing.
func NewJSONEmitter(w io.Writer, redactIDs bool) *JSONEmitter {
	return &JSONEmitter{w: w, redact: redactIDs}
}

// Emit writes the result.
func (e *JSONEmitter) Emit(_ context.Context, result Result) error {
	if e.redact {
		result.Report = redact.Report(result.Report)
		result.Views.SeverityGroups = aggregate.GroupBySeverity(result.Report.Findings)
		result.Views.ServiceGroups = aggregate.GroupByService(result.Report.Findings)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// Close is a no-op; the writer belongs to the caller.
func (e *JSONEmitter) Close() error {
	return nil
}
