// Package pdfdoc wraps the PDF operations the pipeline needs: validation,
// page counting, rotation, page extraction, merging, stamping, rendering
// and positioned text.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrUnreadable marks a file that cannot be opened as a PDF at all.
// Such files are rejected without retries.
var ErrUnreadable = errors.New("unreadable pdf")

func relaxed() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Validate checks that path is a readable PDF with at least one page.
func Validate(path string) error {
	if err := api.ValidateFile(path, relaxed()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	n, err := PageCount(path)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: no pages", ErrUnreadable)
	}
	return nil
}

// PageCount returns the number of pages in the file at path.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := api.PageCount(f, relaxed())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return n, nil
}

// PageCountBytes is PageCount over an in-memory document.
func PageCountBytes(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), relaxed())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return n, nil
}

// Rotate writes a copy of in to out with pages turned clockwise by the
// given degrees. Keys are 0-based page indexes; zero rotations are skipped.
func Rotate(in, out string, rotations map[int]int) error {
	byDegree := make(map[int][]string)
	for page, deg := range rotations {
		deg = ((deg % 360) + 360) % 360
		if deg == 0 {
			continue
		}
		byDegree[deg] = append(byDegree[deg], fmt.Sprint(page+1))
	}

	if err := copyFile(in, out); err != nil {
		return err
	}
	degrees := make([]int, 0, len(byDegree))
	for d := range byDegree {
		degrees = append(degrees, d)
	}
	sort.Ints(degrees)

	for _, deg := range degrees {
		pages := byDegree[deg]
		sort.Strings(pages)
		tmp := out + ".rot"
		if err := api.RotateFile(out, tmp, deg, pages, relaxed()); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("rotate pages %v by %d: %w", pages, deg, err)
		}
		if err := os.Rename(tmp, out); err != nil {
			return err
		}
	}
	return nil
}

// ExtractPages writes pages [start, end] (0-based, inclusive) of in to out.
func ExtractPages(in, out string, start, end int) error {
	if start < 0 || end < start {
		return fmt.Errorf("invalid page range %d-%d", start, end)
	}
	sel := []string{fmt.Sprintf("%d-%d", start+1, end+1)}
	if start == end {
		sel = []string{fmt.Sprint(start + 1)}
	}
	if err := api.TrimFile(in, out, sel, relaxed()); err != nil {
		return fmt.Errorf("extract pages %d-%d: %w", start, end, err)
	}
	return nil
}

// AppendPages returns doc with the pages of extra appended.
func AppendPages(doc, extra []byte) ([]byte, error) {
	var out bytes.Buffer
	rsc := []io.ReadSeeker{bytes.NewReader(doc), bytes.NewReader(extra)}
	if err := api.MergeRaw(rsc, &out, false, relaxed()); err != nil {
		return nil, fmt.Errorf("append pages: %w", err)
	}
	return out.Bytes(), nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
