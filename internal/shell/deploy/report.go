package deploy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/artpar/stackctl/internal/core/run"
)

// writeReport persists the run report as YAML under the log directory.
// Report failures never mask the run outcome; they log and move on.
func (p *Pipeline) writeReport(r *run.Run) {
	if p.LogDir == "" {
		return
	}

	path := filepath.Join(p.LogDir, fmt.Sprintf("run-%s.yaml", r.ID))
	data, err := yaml.Marshal(run.BuildReport(r))
	if err != nil {
		p.Logger.Warn("could not render run report", "error", err)
		return
	}

	if err := os.MkdirAll(p.LogDir, 0o755); err != nil {
		p.Logger.Warn("could not create log directory", "path", p.LogDir, "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		p.Logger.Warn("could not write run report", "path", path, "error", err)
		return
	}
	p.Logger.Info("run report written", "path", path)
}
