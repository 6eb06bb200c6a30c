// Package emitter defines the output interface for Vahti reports.
package emitter

import (
	"context"

	"github.com/yairfalse/vahti/internal/aggregate"
	"github.com/yairfalse/vahti/pkg/finding"
)

// Result is one normalized report together with its computed views.
type Result struct {
	ReportID string          `json:"id,omitempty"`
	Report   finding.Report  `json:"report"`
	Views    aggregate.Views `json:"views"`
}

// Emitter outputs normalized reports to a backend.
type Emitter interface {
	// Emit sends a report to the backend.
	Emit(ctx context.Context, result Result) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, returns first error.
func (m *MultiEmitter) Emit(ctx context.Context, result Result) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			return err
		}
	}
	return nil
}
