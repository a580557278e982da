package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/C1ean-dev/process/internal/models"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	Lang     string // tesseract language, default "por"
	DPI      int    // rasterization DPI for scanned PDFs, default 300
	MaxPages int    // 0 = no limit

	EnableOCR bool // rasterize and OCR PDFs whose text layer is empty
}

type Result struct {
	Text     string
	Fields   *models.Fields
	Pages    int
	Method   string // "pdf-text" | "pdf-ocr" | "image-ocr"
	Duration time.Duration
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "por"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
}

// Supported reports whether a filename has an extension the pipeline can
// process. Callers screen uploads with this before anything is staged.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".pdf" || imageExts[ext]
}

// Extract picks a strategy based on file extension, runs it, and parses the
// structured fields out of the recovered text.
func (e *Extractor) Extract(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	ext := strings.ToLower(filepath.Ext(path))
	e.logger.Debug("starting extraction", "path", path, "ext", ext)

	var res Result
	var err error
	switch {
	case ext == ".pdf":
		res, err = e.extractPDF(ctx, path)
	case imageExts[ext]:
		res, err = e.extractImage(ctx, path)
	default:
		return Result{}, Permanent("unsupported_extension", fmt.Errorf("unsupported extension %q", ext))
	}
	if err != nil {
		return Result{}, err
	}

	res.Text = Normalize(res.Text)
	res.Fields = ParseFields(res.Text)
	res.Duration = time.Since(start)
	return res, nil
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (Result, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return Result{}, Transient("pdftotext", fmt.Errorf("%w: %s", err, truncate(string(errb), 256)))
	}
	text := string(out)
	if strings.TrimSpace(strings.ReplaceAll(text, "\f", "")) != "" {
		return Result{
			Text:   text,
			Pages:  1 + strings.Count(text, "\f"),
			Method: "pdf-text",
		}, nil
	}

	if !e.cfg.EnableOCR {
		return Result{}, Transient("empty_text_layer", fmt.Errorf("pdf has no text layer and ocr is disabled"))
	}
	e.logger.Debug("pdf text layer empty, rasterizing", "path", path)
	return e.pdfOCR(ctx, path)
}

func (e *Extractor) pdfOCR(ctx context.Context, path string) (Result, error) {
	tmpDir, err := os.MkdirTemp("", "docflow-pp-*")
	if err != nil {
		return Result{}, Transient("tempdir", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			e.logger.Warn("failed to remove temp dir", "path", tmpDir, "error", rmErr)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return Result{}, Transient("pdftoppm", fmt.Errorf("%w: %s", err, truncate(string(errb), 256)))
	}

	// pdftoppm writes prefix-1.png, prefix-2.png, ...
	pages, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(pages)
	if e.cfg.MaxPages > 0 && len(pages) > e.cfg.MaxPages {
		pages = pages[:e.cfg.MaxPages]
	}
	if len(pages) == 0 {
		return Result{}, Transient("pdftoppm", fmt.Errorf("no pages rendered"))
	}

	var b strings.Builder
	for _, img := range pages {
		txt, ocrErr := e.tesseract(ctx, img)
		if ocrErr != nil {
			return Result{}, ocrErr
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n")
		}
		b.WriteString(txt)
	}
	return Result{Text: b.String(), Pages: len(pages), Method: "pdf-ocr"}, nil
}

func (e *Extractor) extractImage(ctx context.Context, path string) (Result, error) {
	txt, err := e.tesseract(ctx, path)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: txt, Pages: 1, Method: "image-ocr"}, nil
}

func (e *Extractor) tesseract(ctx context.Context, path string) (string, error) {
	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, path, "stdout", "-l", e.cfg.Lang)
	if err != nil {
		return "", Transient("tesseract", fmt.Errorf("%w: %s", err, truncate(string(errb), 256)))
	}
	return string(out), nil
}
