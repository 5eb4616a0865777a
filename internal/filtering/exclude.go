package filtering

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/document"
)

// ExcludeName is the name of the exclude filter.
const ExcludeName = "exclude"

type excludeFilter struct {
	toggle
	fs       afero.Fs
	patterns []string
	file     string
}

// NewExclude creates a filter that removes records whose path or file name
// matches one of the glob patterns. file, when set, names a file on fs with
// one more pattern per line; blank lines and lines starting with # are skipped.
func NewExclude(fs afero.Fs, patterns []string, file string) Filter {
	return &excludeFilter{fs: fs, patterns: patterns, file: strings.TrimSpace(file)}
}

func (f *excludeFilter) Name() string { return ExcludeName }

func (f *excludeFilter) Apply(_ context.Context, deps Deps, p *Pool) (Step, error) {
	initial := p.Len()

	patterns, err := f.load()
	if err != nil {
		return Step{}, err
	}
	if len(patterns) == 0 {
		return Step{Initial: initial, Left: initial}, nil
	}

	dropped := p.Keep(f.Name(), func(rec document.Record) string {
		for _, pattern := range patterns {
			if matches(pattern, rec.Ref) {
				return "matches " + pattern
			}
		}
		return ""
	})

	if deps.Logger != nil && dropped > 0 {
		deps.Logger.Info("excluding candidates by pattern",
			zap.Strings("patterns", patterns),
			zap.Int("candidates_left", p.Len()),
		)
	}
	return Step{Initial: initial, Dropped: dropped, Left: p.Len()}, nil
}

func (f *excludeFilter) load() ([]string, error) {
	patterns := make([]string, 0, len(f.patterns))
	for _, pattern := range f.patterns {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if f.file == "" || f.fs == nil {
		return patterns, nil
	}

	data, err := afero.ReadFile(f.fs, f.file)
	if err != nil {
		return nil, fmt.Errorf("read exclude file %q: %w", f.file, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}

func matches(pattern string, ref document.Ref) bool {
	for _, candidate := range []string{ref.Path, ref.Name()} {
		if ok, err := path.Match(pattern, candidate); err == nil && ok {
			return true
		}
	}
	return false
}

func (f *excludeFilter) Status() Status {
	details := map[string]string{}
	if len(f.patterns) > 0 {
		details["patterns"] = strings.Join(f.patterns, ",")
	}
	if f.file != "" {
		details["file"] = f.file
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
