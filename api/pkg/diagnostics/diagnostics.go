// Package diagnostics persists postmortem artifacts: the screenshot
// that triggered a captcha attempt, and the screenshot plus full page
// markup captured on any login failure.
package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Recorder writes artifacts for one run into a fixed debug directory,
// tagged with the run's correlation id.
type Recorder struct {
	dir   string
	runID string
}

func NewRecorder(dir, runID string) *Recorder {
	return &Recorder{dir: dir, runID: runID}
}

func (r *Recorder) write(name string, data []byte) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", r.dir).Msg("Failed to create diagnostics dir")
		return
	}

	path := filepath.Join(r.dir, fmt.Sprintf("%s_%s_%s", r.runID, time.Now().Format("150405"), name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to write diagnostic artifact")
		return
	}

	log.Debug().Str("path", path).Msg("Wrote diagnostic artifact")
}

// SaveScreenshot persists a PNG screenshot under the given label.
func (r *Recorder) SaveScreenshot(label string, png []byte) {
	r.write(label+".png", png)
}

// SavePageDump persists the full page markup for postmortem.
func (r *Recorder) SavePageDump(label, html string) {
	r.write(label+".html", []byte(html))
}
