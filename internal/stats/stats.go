// Package stats summarizes the structure of INI documents.
package stats

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	digest "github.com/opencontainers/go-digest"

	"github.com/ndisidore/inidoc/pkg/ini"
)

// SectionStat counts the lines of one section by kind.
type SectionStat struct {
	Name     string
	Keys     int
	Comments int
	Blanks   int
}

// Lines returns the number of lines the section serializes to, excluding the
// separator the serializer may insert before it.
func (s SectionStat) Lines() int {
	n := s.Keys + s.Comments + s.Blanks
	if s.Name != "" {
		n++
	}
	return n
}

// FileReport summarizes a single document.
type FileReport struct {
	Path string
	// Digest identifies the bytes as read.
	Digest digest.Digest
	Bytes  int
	Head   int
	// Stable is true when serializing the parsed document reproduces the
	// input exactly.
	Stable   bool
	Sections []SectionStat
}

// Keys returns the total key count across sections.
func (f FileReport) Keys() int {
	n := 0
	for i := range f.Sections {
		n += f.Sections[i].Keys
	}
	return n
}

// Report aggregates file reports in the order they were observed.
type Report struct {
	Files []FileReport
}

// Analyze builds a FileReport for doc, which was decoded from raw.
func Analyze(path string, raw []byte, doc *ini.Document) FileReport {
	fr := FileReport{
		Path:   path,
		Digest: digest.FromBytes(raw),
		Bytes:  len(raw),
		Head:   len(doc.Head()),
	}

	var out bytes.Buffer
	if err := doc.Encode(&out); err == nil {
		fr.Stable = bytes.Equal(out.Bytes(), raw)
	}

	for s := range doc.Sections() {
		st := SectionStat{Name: s.Name()}
		for n := range s.Nodes() {
			switch n.Kind {
			case ini.KindKeyValue:
				st.Keys++
			case ini.KindComment:
				st.Comments++
			case ini.KindBlank:
				st.Blanks++
			}
		}
		if st.Name == "" && st.Lines() == 0 {
			// The implicit top section only counts when it holds something.
			continue
		}
		fr.Sections = append(fr.Sections, st)
	}
	return fr
}

// Collector accumulates file reports. It is safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	order []string
	files map[string]FileReport
}

// NewCollector returns a new Collector ready for use.
func NewCollector() *Collector {
	return &Collector{files: make(map[string]FileReport)}
}

// Observe records a report. A later report for the same path replaces the
// earlier one but keeps its position.
func (c *Collector) Observe(fr FileReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[fr.Path]; !ok {
		c.order = append(c.order, fr.Path)
	}
	c.files[fr.Path] = fr
}

// Report returns the collected reports in first-observed order.
func (c *Collector) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := Report{Files: make([]FileReport, 0, len(c.order))}
	for _, p := range c.order {
		r.Files = append(r.Files, c.files[p])
	}
	return r
}

// PrintReport writes a human-readable structure summary to w.
func PrintReport(w io.Writer, r Report) {
	var totalSections, totalKeys int
	for _, f := range r.Files {
		stable := "stable"
		if !f.Stable {
			stable = "normalizes"
		}
		_, _ = fmt.Fprintf(w, "%s  %s  %d bytes  %s\n", f.Path, f.Digest.Encoded()[:12], f.Bytes, stable)
		if f.Head > 0 {
			_, _ = fmt.Fprintf(w, "  head: %d bytes\n", f.Head)
		}
		for _, s := range f.Sections {
			name := "[" + s.Name + "]"
			if s.Name == "" {
				name = "(top)"
			}
			_, _ = fmt.Fprintf(w, "  %-20s %3d keys  %3d comments  %3d blanks\n",
				name, s.Keys, s.Comments, s.Blanks)
		}
		totalSections += len(f.Sections)
		totalKeys += f.Keys()
	}
	_, _ = fmt.Fprintf(w, "Overall: %d files, %d sections, %d keys\n",
		len(r.Files), totalSections, totalKeys)
}
