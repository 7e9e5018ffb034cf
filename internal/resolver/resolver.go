package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"markergate/internal/config"
	"markergate/internal/converter"
	"markergate/internal/fileutil"
	"markergate/internal/logging"
	"markergate/internal/services"
)

// Candidate is one existing file that may be the converter's output.
type Candidate struct {
	Path    string
	ModTime time.Time
	Source  string
}

// Resolution describes the resolved output.
type Resolution struct {
	// Path is the file the caller should use.
	Path string
	// Canonical is true when the file already sat at the canonical path.
	Canonical bool
	// Source names the strategy that found the file.
	Source string
	// DiscoveredAt is where the file was found before relocation.
	DiscoveredAt string
	Relocated    bool
	Candidates   int
	// RelocationErr is set when publishing failed; Path then equals DiscoveredAt.
	RelocationErr error
}

// Option configures a resolver.
type Option func(*Resolver)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logging.NewComponentLogger(logger, "resolver")
	}
}

// WithPublisher overrides how a discovered file is moved into the output directory.
func WithPublisher(publish func(src, dstDir string) (string, error)) Option {
	return func(r *Resolver) {
		if publish != nil {
			r.publish = publish
		}
	}
}

// WithExcludedExtensions keeps files with these extensions out of the
// candidate set. Upload formats belong here: a converter never produces
// them, and in a shared upload directory they are other clients' inputs.
// The expected output extension is never excluded.
func WithExcludedExtensions(exts ...string) Option {
	return func(r *Resolver) {
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext != "" {
				r.excluded[ext] = struct{}{}
			}
		}
	}
}

// Resolver finds and publishes converter output.
type Resolver struct {
	outputDir string
	extension string
	excluded  map[string]struct{}
	sources   []Source
	publish   func(src, dstDir string) (string, error)
	logger    *slog.Logger
}

// New constructs a resolver. sources are consulted in order.
func New(outputDir, extension string, sources []Source, opts ...Option) *Resolver {
	r := &Resolver{
		outputDir: outputDir,
		extension: strings.TrimPrefix(strings.TrimSpace(extension), "."),
		excluded:  make(map[string]struct{}),
		sources:   append([]Source(nil), sources...),
		publish:   fileutil.Publish,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	delete(r.excluded, strings.ToLower(r.extension))
	return r
}

// DefaultSources returns the search order: the alternate output directory
// (when set), the input's directory, the working directory, and optionally
// the converter's output text.
func DefaultSources(alternateDir string, scrape bool) []Source {
	var sources []Source
	if strings.TrimSpace(alternateDir) != "" {
		sources = append(sources, FixedDir("alternate_output_dir", alternateDir))
	}
	sources = append(sources, InputDir(), WorkingDir())
	if scrape {
		sources = append(sources, TextScrape{})
	}
	return sources
}

// NewFromConfig builds a resolver using the configured output directory and
// sources. Accepted upload extensions are excluded from the search.
func NewFromConfig(cfg *config.Config, opts ...Option) *Resolver {
	sources := DefaultSources(cfg.Converter.AlternateOutputDir, cfg.Converter.ScrapeOutput)
	opts = append([]Option{WithExcludedExtensions(cfg.Uploads.AllowedExtensions...)}, opts...)
	return New(cfg.Paths.OutputDir, cfg.Converter.ExpectedExtension, sources, opts...)
}

// Stem returns the input's base name without its final extension.
func Stem(inputPath string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		return base
	}
	return stem
}

// CanonicalPath is <output_dir>/<stem>.<ext>.
func (r *Resolver) CanonicalPath(inputPath string) string {
	name := Stem(inputPath)
	if r.extension != "" {
		name += "." + r.extension
	}
	return filepath.Join(r.outputDir, name)
}

// Resolve locates the output for inputPath given a successful run's result.
func (r *Resolver) Resolve(ctx context.Context, inputPath string, result converter.Result) (Resolution, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.WithContext(ctx, r.logger)

	canonicalPath := r.CanonicalPath(inputPath)
	if info, err := os.Stat(canonicalPath); err == nil && info.Mode().IsRegular() {
		return Resolution{Path: canonicalPath, Canonical: true, Source: "canonical", DiscoveredAt: canonicalPath}, nil
	}

	logger.Debug("canonical output missing; searching", logging.String("canonical_path", canonicalPath))
	query := Query{InputPath: inputPath, Stem: Stem(inputPath), Extension: r.extension, Result: result}
	candidates, err := r.collect(ctx, logger, query)
	if err != nil {
		return Resolution{}, err
	}
	if len(candidates) == 0 {
		logger.Debug("no output candidates", logging.String("converter_output", result.Combined()))
		return Resolution{}, services.Wrap(services.ErrOutputNotFound, "resolve", "search",
			fmt.Sprintf("expected output %s not found after conversion", canonicalPath), nil)
	}

	chosen := candidates[0]
	res := Resolution{
		Path:         chosen.Path,
		Source:       chosen.Source,
		DiscoveredAt: chosen.Path,
		Candidates:   len(candidates),
	}
	logger.Info("discovered converter output",
		logging.String("output_path", chosen.Path),
		logging.String("source", chosen.Source),
		logging.Int("candidates", len(candidates)),
	)

	if filepath.Dir(chosen.Path) == fileutil.Canonical(r.outputDir) {
		return res, nil
	}
	published, err := r.publish(chosen.Path, r.outputDir)
	if err != nil {
		res.RelocationErr = services.Wrap(services.ErrRelocation, "resolve", "publish",
			fmt.Sprintf("move %s into %s", chosen.Path, r.outputDir), err)
		logging.WarnWithContext(logger, "output relocation failed", "relocation_failed",
			logging.Error(res.RelocationErr),
			logging.String("output_path", chosen.Path),
			logging.String(logging.FieldImpact, "output served from its discovered location"),
			logging.String(logging.FieldErrorHint, "check permissions on the output directory"),
		)
		return res, nil
	}
	res.Path = published
	res.Relocated = true
	logger.Info("output relocated", logging.String("from", chosen.Path), logging.String("output_path", published))
	return res, nil
}

// collect gathers, filters, deduplicates, and orders candidates newest first.
func (r *Resolver) collect(ctx context.Context, logger *slog.Logger, q Query) ([]Candidate, error) {
	input := fileutil.Canonical(q.InputPath)
	seen := make(map[string]struct{})
	var out []Candidate
	for _, source := range r.sources {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolve output: %w", err)
		}
		paths, err := source.Candidates(ctx, q)
		if err != nil {
			logger.Debug("candidate source failed", logging.String("source", source.Name()), logging.Error(err))
			continue
		}
		for _, path := range paths {
			key := fileutil.Canonical(path)
			if key == input {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			if r.isExcluded(key) {
				continue
			}
			info, err := os.Stat(key)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Candidate{Path: key, ModTime: info.ModTime(), Source: source.Name()})
		}
	}
	sortCandidates(out)
	return out, nil
}

func (r *Resolver) isExcluded(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return false
	}
	_, ok := r.excluded[ext]
	return ok
}

func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].ModTime.Equal(candidates[j].ModTime) {
			return candidates[i].ModTime.After(candidates[j].ModTime)
		}
		return candidates[i].Path < candidates[j].Path
	})
}
