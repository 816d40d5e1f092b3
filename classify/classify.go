// Package classify turns raw test output into structured error records.
// Classification is a pure function of the input log: no I/O, no state.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/healbot/healbot/model"
)

// rule pairs an error kind with its trigger pattern. Rules are walked in
// declaration order; the first match wins.
type rule struct {
	kind model.ErrorKind
	re   *regexp.Regexp
}

var rules = []rule{
	{model.KindSyntax, regexp.MustCompile(`(?i)SyntaxError|unexpected token|invalid syntax|EOL while scanning`)},
	{model.KindIndentation, regexp.MustCompile(`(?i)IndentationError|unexpected indent|expected an indented block`)},
	{model.KindTypeError, regexp.MustCompile(`(?i)TypeError|type .* mismatch|cannot read propert`)},
	{model.KindImport, regexp.MustCompile(`(?i)ImportError|ModuleNotFoundError|Cannot find module|no module named`)},
	{model.KindLogic, regexp.MustCompile(`(?i)AssertionError|Expected .* to (equal|be|match)|assert`)},
	{model.KindLinting, regexp.MustCompile(`(?i)eslint|lint|prettier|warning .* rule`)},
	{model.KindRuntime, regexp.MustCompile(`(?i)ReferenceError|NameError|is not defined`)},
}

// Location extraction patterns, tried in order:
// Python traceback frames, then compiler-style PATH:LINE:COL (possibly inside
// a stack-frame prefix), then bare PATH.EXT:LINE.
var (
	rePyFrame  = regexp.MustCompile(`File "([^"]+)", line (\d+)`)
	reColonCol = regexp.MustCompile(`([\w@./\\-]+):(\d+):\d+`)
	reColon    = regexp.MustCompile(`([\w@./\\-]+\.\w+):(\d+)`)
)

// Errors parses a raw log into deduplicated error records. Lines matching no
// rule are kept as UNKNOWN only when they contain "Error" or "FAIL"; all
// other unmatched lines are discarded.
func Errors(rawLog string) []model.ErrorRecord {
	var records []model.ErrorRecord
	seen := make(map[string]bool)

	// Traceback frames carry the location on their own line, one line above
	// the error itself. Remember the most recent location so a matched line
	// without one can inherit it.
	var prevFile string
	var prevLine int

	for _, line := range strings.Split(rawLog, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		kind := classifyLine(line)
		if kind == model.KindUnknown && !strings.Contains(line, "Error") && !strings.Contains(line, "FAIL") {
			if f, n := extractLocation(line); f != "" {
				prevFile, prevLine = f, n
			}
			continue
		}

		file, lineNo := extractLocation(line)
		if file == "" && prevFile != "" {
			file, lineNo = prevFile, prevLine
		}
		key := file + ":" + strconv.Itoa(lineNo) + ":" + string(kind)
		if seen[key] {
			continue
		}
		seen[key] = true

		records = append(records, model.ErrorRecord{
			Kind:       kind,
			File:       file,
			Line:       lineNo,
			RawMessage: line,
		})
	}
	return records
}

func classifyLine(line string) model.ErrorKind {
	for _, r := range rules {
		if r.re.MatchString(line) {
			return r.kind
		}
	}
	return model.KindUnknown
}

func extractLocation(line string) (string, int) {
	if m := rePyFrame.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[2])
		return m[1], n
	}
	if m := reColonCol.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[2])
		return m[1], n
	}
	if m := reColon.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[2])
		return m[1], n
	}
	return "", 0
}
