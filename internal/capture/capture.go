// Package capture records conversations as JSON fixtures for replay in tests
// and for offline review of agent behaviour.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// EnvDir names the environment variable that enables capture.
const EnvDir = "REPLYDESK_CAPTURE_DIR"

// Recorder writes numbered files into <dir>/<session>/.
type Recorder struct {
	sessionDir string
	seq        atomic.Uint64
}

// New creates a recorder rooted at dir. Each process gets its own session
// subdirectory named after its start time.
func New(dir string) *Recorder {
	return &Recorder{sessionDir: filepath.Join(dir, time.Now().Format("20060102-150405"))}
}

// Dir returns the session directory.
func (r *Recorder) Dir() string {
	return r.sessionDir
}

// WriteJSON stores payload as indented JSON and returns the file path.
func (r *Recorder) WriteJSON(category string, payload any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("capture: marshal %s payload: %w", category, err)
	}
	return r.write(category, "json", data)
}

func (r *Recorder) write(category, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(r.sessionDir, 0o755); err != nil {
		return "", fmt.Errorf("capture: create directory %s: %w", r.sessionDir, err)
	}

	seq := r.seq.Add(1)
	path := filepath.Join(r.sessionDir, fmt.Sprintf("%s-%04d.%s", category, seq, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("capture: write %s: %w", path, err)
	}

	log.Debug().Str("path", path).Msg("capture: wrote fixture")
	return path, nil
}
