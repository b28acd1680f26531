// Package sink delivers finished run documents to their destinations:
// JSON files, an io.Writer, spreadsheets, or the run store.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
)

// Sink receives one document per finished run.
type Sink interface {
	Write(ctx context.Context, doc model.RunDocument) error
}

// Multi fans a document out to every sink. All sinks are attempted; the
// returned error joins every failure.
type Multi []Sink

func (m Multi) Write(ctx context.Context, doc model.RunDocument) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Writer encodes each document as indented JSON onto an io.Writer. Writes
// are serialized so concurrent runs never interleave output.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer sink over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (s *Writer) Write(_ context.Context, doc model.RunDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.w)
	enc.SetIndent("", "  ")
	return eris.Wrapf(enc.Encode(doc), "sink: encode document %s", doc.RunID)
}

// DocumentSaver persists documents; store.Store implements it.
type DocumentSaver interface {
	SaveDocument(ctx context.Context, doc model.RunDocument) error
}

// History writes documents into the run store.
type History struct {
	Saver DocumentSaver
}

func (h History) Write(ctx context.Context, doc model.RunDocument) error {
	return h.Saver.SaveDocument(ctx, doc)
}
