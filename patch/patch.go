// Package patch applies fix proposals to a working tree.
// Each proposal is tried by exact substring match first, then by line anchor.
// Writes are atomic at the whole-file level.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/healbot/healbot/internal/logging"
	"github.com/healbot/healbot/model"
)

var logger = logging.New("patch")

// Applier applies proposals to files under a working tree.
type Applier struct{}

// New creates an Applier.
func New() *Applier {
	return &Applier{}
}

// Apply attempts every proposal in input order and returns one AppliedFix per
// proposal. A failed proposal never stops the pass; later proposals may touch
// the same line, in which case the last write wins.
func (a *Applier) Apply(workDir string, proposals []model.FixProposal) []model.AppliedFix {
	applied := make([]model.AppliedFix, 0, len(proposals))
	for _, p := range proposals {
		applied = append(applied, a.applyOne(workDir, p))
	}
	return applied
}

func (a *Applier) applyOne(workDir string, p model.FixProposal) model.AppliedFix {
	fix := model.AppliedFix{FixProposal: p}

	if p.File == "" || p.OriginalCode == "" || p.FixedCode == "" {
		fix.Status = model.FixSkipped
		fix.Reason = "proposal missing file, originalCode, or fixedCode"
		return fix
	}

	path := filepath.Join(workDir, p.File)
	data, err := os.ReadFile(path)
	if err != nil {
		fix.Status = model.FixFailed
		fix.Reason = "File not found"
		return fix
	}
	content := string(data)

	switch {
	case strings.Contains(content, p.OriginalCode):
		content = strings.Replace(content, p.OriginalCode, p.FixedCode, 1)

	case p.Line > 0:
		lines := strings.Split(content, "\n")
		if p.Line > len(lines) {
			fix.Status = model.FixFailed
			fix.Reason = "Original code not found"
			return fix
		}
		lines[p.Line-1] = p.FixedCode
		content = strings.Join(lines, "\n")

	default:
		fix.Status = model.FixFailed
		fix.Reason = "Original code not found"
		return fix
	}

	if err := writeAtomic(path, []byte(content)); err != nil {
		logger.Error("writing patched file", "file", p.File, "err", err)
		fix.Status = model.FixFailed
		fix.Reason = fmt.Sprintf("write failed: %v", err)
		return fix
	}

	fix.Status = model.FixApplied
	return fix
}

// writeAtomic writes data to a temp file in the target's directory, then
// renames it over the target so readers never observe a partial write.
func writeAtomic(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".patch-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, info.Mode()); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
