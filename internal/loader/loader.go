// Package loader discovers corpus files and extracts their text.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"copilot/internal/domain"
)

// ErrNoText is reported for files that contain no extractable text.
var ErrNoText = errors.New("no extractable text")

// DefaultExtensions lists the file types indexed when none are configured.
var DefaultExtensions = []string{".txt", ".md", ".pdf"}

// Loader walks a corpus directory and extracts plain text, markdown and PDF files.
type Loader struct {
	extensions map[string]struct{}
	pdfEnabled bool
	logger     *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithExtensions restricts the loader to the given extensions.
func WithExtensions(exts ...string) Option {
	return func(l *Loader) {
		l.extensions = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			l.extensions[strings.ToLower(e)] = struct{}{}
		}
	}
}

// WithPDF switches PDF extraction on or off. When off, PDF files are
// reported as unsupported.
func WithPDF(enabled bool) Option {
	return func(l *Loader) { l.pdfEnabled = enabled }
}

// WithLogger sets the logger used for skip warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New creates a loader for the default extensions with PDF extraction enabled.
func New(opts ...Option) *Loader {
	l := &Loader{pdfEnabled: true, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	WithExtensions(DefaultExtensions...)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Walk loads every supported file under root whose absolute path is not in seen.
// Per-file failures are reported, never returned; the error is non-nil only when
// ctx is cancelled. A missing root yields no documents.
func (l *Loader) Walk(ctx context.Context, root string, seen map[string]struct{}) ([]domain.Document, []domain.FileReport, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}
	if info, err := os.Stat(absRoot); err != nil || !info.IsDir() {
		l.logger.Warn("corpus path does not exist", "path", absRoot)
		return nil, nil, nil
	}

	var paths []string
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() && path != absRoot {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !l.Supports(path) {
			return nil
		}
		if _, ok := seen[path]; ok {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		l.logger.Warn("corpus walk stopped early", "path", absRoot, "error", walkErr)
	}
	sort.Strings(paths)

	var docs []domain.Document
	reports := make([]domain.FileReport, 0, len(paths))
	warnedPDF := false
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if !l.pdfEnabled && isPDF(path) {
			if !warnedPDF {
				l.logger.Warn("PDF extraction disabled, skipping PDF files")
				warnedPDF = true
			}
			reports = append(reports, domain.FileReport{Path: path, Name: filepath.Base(path), Reason: domain.SkipUnsupported})
			continue
		}
		doc, rep := l.Load(path)
		reports = append(reports, rep)
		if rep.Skipped() {
			l.logger.Warn("skipping corpus file", "file", rep.Name, "reason", rep.Reason.String(), "error", rep.Err)
			continue
		}
		l.logger.Debug("loaded corpus file", "file", doc.Name, "runes", len([]rune(doc.Content)))
		docs = append(docs, doc)
	}
	return docs, reports, nil
}

// Supports reports whether path has one of the loader's extensions.
func (l *Loader) Supports(path string) bool {
	_, ok := l.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load extracts a single file. The report carries the skip reason when the
// file could not be turned into a document.
func (l *Loader) Load(path string) (domain.Document, domain.FileReport) {
	name := filepath.Base(path)
	rep := domain.FileReport{Path: path, Name: name}

	info, err := os.Stat(path)
	if err != nil {
		rep.Reason, rep.Err = domain.SkipUnreadable, err
		return domain.Document{}, rep
	}

	if !l.Supports(path) || (isPDF(path) && !l.pdfEnabled) {
		rep.Reason = domain.SkipUnsupported
		return domain.Document{}, rep
	}
	var raw []byte
	var text string
	if isPDF(path) {
		raw, text, err = extractPDF(path)
	} else {
		raw, text, err = extractText(path)
	}
	if err != nil {
		rep.Reason, rep.Err = domain.SkipUnreadable, err
		return domain.Document{}, rep
	}
	rep.Fingerprint = xxhash.Sum64(raw)
	if strings.TrimSpace(text) == "" {
		rep.Reason, rep.Err = domain.SkipEmpty, ErrNoText
		return domain.Document{}, rep
	}

	return domain.Document{
		ID:          documentID(path),
		Name:        name,
		Path:        path,
		Content:     text,
		Fingerprint: rep.Fingerprint,
		ModTime:     info.ModTime(),
	}, rep
}

// extractText decodes text best effort. A leading byte-order mark selects the
// encoding (UTF-16 files are converted) and is dropped; otherwise the bytes are
// taken as UTF-8. Invalid byte sequences are removed rather than failing the file.
func extractText(path string) ([]byte, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	decoded, _, err := transform.Bytes(unicode.BOMOverride(transform.Nop), raw)
	if err != nil {
		return raw, "", err
	}
	return raw, strings.ToValidUTF8(string(decoded), ""), nil
}

// extractPDF concatenates the plain text of every page with newlines.
// The pdf package panics on some malformed files; that is reported as an error.
func extractPDF(path string) (raw []byte, text string, err error) {
	raw, err = os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt pdf: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return raw, "", err
	}
	defer f.Close()

	var parts []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return raw, "", fmt.Errorf("page %d: %w", i, err)
		}
		if pageText != "" {
			parts = append(parts, pageText)
		}
	}
	return raw, strings.Join(parts, "\n"), nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func documentID(path string) string {
	return strconv.FormatUint(xxhash.Sum64String(path), 16)
}
