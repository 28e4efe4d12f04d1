package pdfdoc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Renderer rasterizes PDF pages with pdftoppm (poppler-utils).
type Renderer struct {
	Bin string // default "pdftoppm"
	DPI int    // default 150
}

// RenderPage renders one page (0-based) of the PDF at path to PNG bytes.
// dpi <= 0 uses the renderer's default.
func (r *Renderer) RenderPage(ctx context.Context, path string, page, dpi int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	bin := r.Bin
	if bin == "" {
		bin = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = r.DPI
	}
	if dpi <= 0 {
		dpi = 150
	}

	tmpDir, err := os.MkdirTemp("", "scanrelay-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// -singlefile: no page number suffix, output is <prefix>.png
	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := fmt.Sprint(page + 1)
	cmd := exec.CommandContext(ctx, bin,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", fmt.Sprint(dpi),
		"-singlefile",
		path,
		outputPrefix,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}
