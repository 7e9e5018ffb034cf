package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"markergate/internal/converter"
)

// Query carries everything a Source may inspect for one resolution.
type Query struct {
	InputPath string
	Stem      string
	Extension string
	Result    converter.Result
}

// Source produces output candidates for a query. Returned candidates need
// not exist or be unique; the resolver filters and deduplicates them.
type Source interface {
	Name() string
	Candidates(ctx context.Context, q Query) ([]string, error)
}

// DirGlob matches <stem>* inside one directory.
type DirGlob struct {
	Label string
	Dir   func(Query) (string, error)
}

// FixedDir globs a configured directory such as the converter's default output location.
func FixedDir(label, dir string) DirGlob {
	return DirGlob{Label: label, Dir: func(Query) (string, error) { return dir, nil }}
}

// InputDir globs the directory holding the input file.
func InputDir() DirGlob {
	return DirGlob{Label: "input_dir", Dir: func(q Query) (string, error) { return filepath.Dir(q.InputPath), nil }}
}

// WorkingDir globs the process working directory.
func WorkingDir() DirGlob {
	return DirGlob{Label: "working_dir", Dir: func(Query) (string, error) { return os.Getwd() }}
}

func (g DirGlob) Name() string { return g.Label }

func (g DirGlob) Candidates(_ context.Context, q Query) ([]string, error) {
	dir, err := g.Dir(q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", g.Label, err)
	}
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, escapeGlob(q.Stem)+"*"))
	if err != nil {
		return nil, fmt.Errorf("%s glob: %w", g.Label, err)
	}
	return matches, nil
}

func escapeGlob(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var pathToken = regexp.MustCompile(`[A-Za-z0-9_:\\/.\- ]+`)

// TextScrape extracts path-shaped tokens from the converter's combined
// stdout and stderr. Tokens are untrusted, so this is narrower than taking
// every token that names an existing file: only tokens whose base name
// starts with the input stem or ends with the expected extension are
// returned. A converter that reports an unrelated name (a model cache file,
// a config path, someone else's output) therefore never feeds the
// relocation step. The resolver still requires each token to be an existing
// regular file.
type TextScrape struct{}

func (TextScrape) Name() string { return "output_text" }

func (TextScrape) Candidates(_ context.Context, q Query) ([]string, error) {
	text := q.Result.Combined()
	if text == "" {
		return nil, nil
	}
	suffix := ""
	if q.Extension != "" {
		suffix = "." + q.Extension
	}
	var out []string
	for _, match := range pathToken.FindAllString(text, -1) {
		for _, token := range tokenVariants(match) {
			base := filepath.Base(token)
			if strings.HasPrefix(base, q.Stem) || (suffix != "" && strings.HasSuffix(strings.ToLower(base), suffix)) {
				out = append(out, token)
			}
		}
	}
	return out, nil
}

// tokenVariants returns the trimmed match plus every suffix that starts after
// a space, so "saved to /out/a.md" also yields "/out/a.md". A trailing
// sentence period is dropped.
func tokenVariants(match string) []string {
	match = strings.TrimSpace(match)
	if strings.HasSuffix(match, ".") && !strings.HasSuffix(match, "..") {
		match = strings.TrimSuffix(match, ".")
	}
	var variants []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || v == "." || v == ".." {
			return
		}
		variants = append(variants, v)
	}
	add(match)
	for i := 0; i < len(match); i++ {
		if match[i] == ' ' {
			add(match[i+1:])
		}
	}
	return variants
}
