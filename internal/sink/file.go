package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
)

// File writes each document to <dir>/<run_id>.json.
type File struct {
	Dir string
}

// Path returns the file a document for runID is written to.
func (f File) Path(runID string) string {
	return filepath.Join(f.Dir, runID+".json")
}

func (f File) Write(_ context.Context, doc model.RunDocument) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return eris.Wrapf(err, "sink: create dir %s", f.Dir)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "sink: marshal document")
	}

	// Write to a temp file first so readers never see a half-written document.
	tmp, err := os.CreateTemp(f.Dir, "."+doc.RunID+"-*.json")
	if err != nil {
		return eris.Wrap(err, "sink: create temp file")
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return eris.Wrap(err, "sink: write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return eris.Wrap(err, "sink: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), f.Path(doc.RunID)), "sink: write %s", f.Path(doc.RunID))
}
