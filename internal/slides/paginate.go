package slides

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxBulletsPerSlide is the number of content lines that fit on one rendered slide
const MaxBulletsPerSlide = 9

// Paginate splits content slides longer than MaxBulletsPerSlide into consecutive
// pages. The first page keeps the title, later pages are titled "<title> (cont. N)".
// Other slide types pass through unchanged. The result never shares slices with d.
func Paginate(d Document) Document {
	out := make(Document, 0, len(d))
	for _, s := range d {
		if s.Type != TypeContent || len(s.Content) <= MaxBulletsPerSlide {
			out = append(out, s.Clone())
			continue
		}

		pages := (len(s.Content) + MaxBulletsPerSlide - 1) / MaxBulletsPerSlide
		for i := 0; i < pages; i++ {
			end := (i + 1) * MaxBulletsPerSlide
			if end > len(s.Content) {
				end = len(s.Content)
			}

			title := s.Title
			if i > 0 {
				title = fmt.Sprintf("%s (cont. %d)", s.Title, i+1)
			}
			out = append(out, NewContentSlide(title, s.Content[i*MaxBulletsPerSlide:end]...))
		}
	}
	return out
}

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	illegalInNames = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
)

// DefaultFileName is used when the document has no usable title
const DefaultFileName = "presentation.pptx"

// FileName derives a download file name from the document title
func FileName(d Document) string {
	name := illegalInNames.ReplaceAllString(strings.TrimSpace(d.Title()), "")
	name = whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return DefaultFileName
	}
	return name + ".pptx"
}
