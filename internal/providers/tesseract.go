package providers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const TesseractName = "tesseract"

// TesseractConfig configures the local tesseract CLI.
type TesseractConfig struct {
	Bin     string        // default "tesseract"
	Lang    string        // default "eng"
	Timeout time.Duration // per invocation, default 60s
}

// Tesseract transcribes pages and detects orientation with the tesseract
// CLI. Images are passed on stdin.
type Tesseract struct {
	bin     string
	lang    string
	timeout time.Duration
}

// NewTesseract creates a tesseract adapter.
func NewTesseract(cfg TesseractConfig) *Tesseract {
	if cfg.Bin == "" {
		cfg.Bin = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Tesseract{bin: cfg.Bin, lang: cfg.Lang, timeout: cfg.Timeout}
}

// Name returns the provider identifier.
func (t *Tesseract) Name() string {
	return TesseractName
}

// Transcribe runs plain OCR over image.
func (t *Tesseract) Transcribe(ctx context.Context, image []byte) (string, error) {
	out, err := t.run(ctx, image, "-l", t.lang)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// DetectOrientation runs orientation and script detection (--psm 0) and
// returns the clockwise rotation tesseract recommends.
func (t *Tesseract) DetectOrientation(ctx context.Context, image []byte) (int, error) {
	out, err := t.run(ctx, image, "--psm", "0")
	if err != nil {
		return 0, err
	}
	return parseOSD(string(out))
}

func (t *Tesseract) run(ctx context.Context, image []byte, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.bin, append([]string{"stdin", "stdout"}, args...)...)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract failed: %w (output: %s)", err, strings.TrimSpace(stderr.String()))
	}
	// Some builds print OSD results on stderr.
	if stdout.Len() == 0 {
		return stderr.Bytes(), nil
	}
	return stdout.Bytes(), nil
}

var osdRotate = regexp.MustCompile(`(?m)^Rotate:\s*(\d+)`)

func parseOSD(out string) (int, error) {
	m := osdRotate.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("no rotation in tesseract osd output")
	}
	deg, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, err
	}
	switch deg {
	case 0, 90, 180, 270:
		return deg, nil
	}
	return 0, fmt.Errorf("unexpected rotation %d", deg)
}

var (
	_ Transcriber         = (*Tesseract)(nil)
	_ OrientationDetector = (*Tesseract)(nil)
)
