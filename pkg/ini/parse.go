package ini

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ndisidore/inidoc/pkg/slogctx"
)

// Parse reads INI text from r and appends it to the document. It may be called
// repeatedly on a live document: parsing resumes in the last section, which
// first gets a trailing blank line so new content stays visually separate.
//
// A header naming a section seen earlier reopens that section, and the lines
// that follow are merged into it. Unrecognized lines, invalid key names and
// repeated keys within one section are dropped; none of them fail the parse.
// Only read errors from r are returned.
func (d *Document) Parse(ctx context.Context, r io.Reader) error {
	log := slogctx.FromContext(ctx)

	var cur *Section
	if len(d.sections) == 0 {
		cur = d.appendSection("")
	} else {
		cur = d.sections[len(d.sections)-1]
		cur.ensureTrailingBlank()
	}

	br := bufio.NewReader(r)
	for lineNo := 1; ; lineNo++ {
		raw, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading line %d: %w", lineNo, err)
		}
		eof := err != nil

		line := trimSpace(raw)
		if eof && line == "" {
			// An empty final line is never stored, so repeated load/flush
			// cycles do not grow the file.
			return nil
		}

		n, ok := classify(line)
		switch {
		case !ok:
			log.LogAttrs(ctx, slog.LevelDebug, "dropping unparseable line",
				slog.Int("line", lineNo), slog.String("text", line))
		case n.Kind == KindSection:
			cur = d.enterSection(ctx, cur, n.Name)
		case cur.pushNode(n):
			d.flag.set = true
		default:
			log.LogAttrs(ctx, slog.LevelDebug, "dropping duplicate key",
				slog.Int("line", lineNo),
				slog.String("section", cur.name),
				slog.String("key", n.Name))
		}

		if eof {
			return nil
		}
	}
}

// ParseString parses s into the document.
func (d *Document) ParseString(ctx context.Context, s string) error {
	return d.Parse(ctx, strings.NewReader(s))
}

// enterSection handles a header line while cur is the active section and
// returns the section that subsequent lines belong to.
func (d *Document) enterSection(ctx context.Context, cur *Section, name string) *Section {
	log := slogctx.FromContext(ctx)

	existing, ok := d.lookup(name)
	switch {
	case !ok:
		s := d.appendSection(name)
		s.parsed = true
		// Comments directly above the header document the new section.
		if moved := cur.popTrailingComments(); len(moved) > 0 {
			s.prependLead(moved)
			log.LogAttrs(ctx, slog.LevelDebug, "attached leading comments",
				slog.String("section", name), slog.Int("lines", len(moved)))
		}
		d.flag.set = true
		return s
	case existing != cur:
		existing.parsed = true
		existing.ensureTrailingBlank()
		if moved := cur.popTrailingComments(); len(moved) > 0 {
			existing.appendBody(moved)
			log.LogAttrs(ctx, slog.LevelDebug, "moved trailing comments to reopened section",
				slog.String("from", cur.name),
				slog.String("section", existing.name),
				slog.Int("lines", len(moved)))
		}
		existing.ensureTrailingBlank()
		log.LogAttrs(ctx, slog.LevelDebug, "reopened section", slog.String("section", existing.name))
		return existing
	default:
		return cur
	}
}

// readHead consumes leading runes that are neither printable nor control
// characters, plus undecodable bytes, and returns their raw bytes.
func readHead(br *bufio.Reader) ([]byte, error) {
	var head []byte
	for {
		peek, err := br.Peek(utf8.UTFMax)
		if len(peek) == 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return head, nil
		}
		r, size := utf8.DecodeRune(peek)
		invalid := r == utf8.RuneError && size == 1
		if !invalid && (unicode.IsPrint(r) || unicode.IsControl(r) || unicode.IsSpace(r)) {
			return head, nil
		}
		head = append(head, peek[:size]...)
		if _, err := br.Discard(size); err != nil {
			return nil, err
		}
	}
}
