// Package ini implements a structure-preserving INI document model. Parsing
// keeps blank lines, comments, and section and key order so an unmodified
// document serializes back to the text it was read from.
package ini

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/ndisidore/inidoc/pkg/slogctx"
)

// Sentinel errors. Each wraps an errdefs class so callers may test either.
var (
	ErrInvalidKeyName     = fmt.Errorf("invalid key name: %w", errdefs.ErrInvalidArgument)
	ErrInvalidSectionName = fmt.Errorf("invalid section name: %w", errdefs.ErrInvalidArgument)
	ErrKeyNotFound        = fmt.Errorf("key not found: %w", errdefs.ErrNotFound)
	ErrSectionNotFound    = fmt.Errorf("section not found: %w", errdefs.ErrNotFound)
	ErrNameConflict       = fmt.Errorf("name already in use: %w", errdefs.ErrAlreadyExists)
	ErrNoPath             = errors.New("no path associated with document")
)

// dirtyFlag is the single document-wide modification bit. Sections hold a
// pointer to it instead of a reference to their document.
type dirtyFlag struct{ set bool }

// Document is an ordered list of sections with a case-insensitive index over
// their names. The zero value is an empty document backed by the local
// filesystem.
//
// A Document is not safe for concurrent use.
type Document struct {
	// Storage opens and creates the byte streams behind Load, Flush and
	// Close. Nil means FileStorage.
	Storage Storage

	sections []*Section
	index    map[string]*Section
	flag     dirtyFlag
	head     []byte
	path     string
}

// Dirty reports whether the document changed since it was last loaded or
// flushed.
func (d *Document) Dirty() bool { return d.flag.set }

// SetDirty overrides the modification flag.
func (d *Document) SetDirty(dirty bool) { d.flag.set = dirty }

// Path returns the path the document was loaded from or last flushed to.
func (d *Document) Path() string { return d.path }

// Head returns the opaque bytes that preceded the text on load.
func (d *Document) Head() []byte { return slices.Clone(d.head) }

// Len returns the number of sections. The implicit top-of-file section counts
// only when it has content.
func (d *Document) Len() int {
	n := len(d.sections)
	if n > 0 && d.sections[0].name == "" && d.sections[0].empty() {
		n--
	}
	return n
}

// Reset discards all sections, the head bytes, the path and the dirty flag.
// Sections and keys obtained before the reset are detached.
func (d *Document) Reset() {
	for _, s := range d.sections {
		s.detach()
	}
	d.sections = nil
	d.index = nil
	d.head = nil
	d.path = ""
	d.flag.set = false
}

// Section returns the named section, creating an empty one at the end of the
// document when none exists. Surrounding whitespace and brackets are ignored,
// so "db" and "[ db ]" name the same section. The implicit top-of-file
// section, named "", is always created first in the document. Creation does
// not mark the document dirty.
func (d *Document) Section(name string) (*Section, error) {
	name = headerName(name)
	if s, ok := d.lookup(name); ok {
		return s, nil
	}
	if !validSectionName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSectionName, name)
	}
	if name == "" {
		return d.insertSection(0, name), nil
	}
	return d.appendSection(name), nil
}

// MustSection is like Section but panics when name spans multiple lines.
func (d *Document) MustSection(name string) *Section {
	s, err := d.Section(name)
	if err != nil {
		panic(fmt.Sprintf("ini: %v", err))
	}
	return s
}

// Lookup returns the named section without creating it.
func (d *Document) Lookup(name string) (*Section, bool) {
	return d.lookup(headerName(name))
}

// HasSection reports whether the document contains the named section.
func (d *Document) HasSection(name string) bool {
	_, ok := d.Lookup(name)
	return ok
}

// HasKey reports whether the named section exists and contains key.
func (d *Document) HasKey(section, key string) bool {
	s, ok := d.Lookup(section)
	return ok && s.Has(key)
}

// Sections yields the sections in document order.
func (d *Document) Sections() iter.Seq[*Section] {
	return func(yield func(*Section) bool) {
		for _, s := range d.sections {
			if !yield(s) {
				return
			}
		}
	}
}

// RemoveSection deletes the named section and everything in it. The removed
// section and its keys are detached.
func (d *Document) RemoveSection(name string) error {
	name = headerName(name)
	s, ok := d.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSectionNotFound, name)
	}

	delete(d.index, fold(name))
	if i := slices.Index(d.sections, s); i >= 0 {
		d.sections = slices.Delete(d.sections, i, i+1)
	}
	s.detach()
	d.flag.set = true
	return nil
}

// RenameSection changes a section's name, keeping its position and content.
// It fails without side effects when newName is already used by a different
// section, or when newName is empty and the section is not the first one,
// since a headerless section anywhere else would merge into its predecessor
// when read back. Renaming to the identical name is a no-op.
func (d *Document) RenameSection(name, newName string) error {
	name = headerName(name)
	s, ok := d.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSectionNotFound, name)
	}
	newName = headerName(newName)
	if !validSectionName(newName) || (newName == "" && d.sections[0] != s) {
		return fmt.Errorf("%w: %q", ErrInvalidSectionName, newName)
	}
	if s.name == newName {
		return nil
	}
	folded := fold(newName)
	if other, taken := d.index[folded]; taken && other != s {
		return fmt.Errorf("section %q: %w", newName, ErrNameConflict)
	}

	delete(d.index, fold(s.name))
	d.index[folded] = s
	s.name = newName
	d.flag.set = true
	return nil
}

func (d *Document) lookup(name string) (*Section, bool) {
	s, ok := d.index[fold(name)]
	return s, ok
}

func (d *Document) appendSection(name string) *Section {
	return d.insertSection(len(d.sections), name)
}

func (d *Document) insertSection(at int, name string) *Section {
	if d.index == nil {
		d.index = make(map[string]*Section)
	}
	s := newSection(name, &d.flag)
	d.sections = slices.Insert(d.sections, at, s)
	d.index[fold(name)] = s
	return s
}

// WriteTo serializes the document body to w. Sections with nothing to write
// are skipped, and a blank line separates consecutive sections unless the
// earlier one already ends with one. The head bytes are not written; use
// Encode for that.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	var prev *Section
	for _, s := range d.sections {
		if s.empty() {
			continue
		}
		if prev != nil && !prev.HasTrailingBlank() {
			writeLine(bw, "")
		}
		s.write(bw)
		prev = s
	}

	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("writing document: %w", err)
	}
	return cw.n, nil
}

// String returns the serialized document body.
func (d *Document) String() string {
	var b strings.Builder
	_, _ = d.WriteTo(&b)
	return b.String()
}

// Encode writes the head bytes followed by the serialized body.
func (d *Document) Encode(w io.Writer) error {
	if len(d.head) > 0 {
		if _, err := w.Write(d.head); err != nil {
			return fmt.Errorf("writing head: %w", err)
		}
	}
	_, err := d.WriteTo(w)
	return err
}

// Decode resets the document and rebuilds it from r. Leading bytes that are
// neither printable nor control characters, such as a byte-order mark, are
// kept verbatim as the head and are not parsed. The document is clean
// afterwards.
func (d *Document) Decode(ctx context.Context, r io.Reader) error {
	path := d.path
	d.Reset()
	d.path = path

	br := bufio.NewReader(r)
	head, err := readHead(br)
	if err != nil {
		return fmt.Errorf("reading head: %w", err)
	}
	d.head = head

	if err := d.Parse(ctx, br); err != nil {
		return err
	}
	d.flag.set = false
	return nil
}

// Load resets the document and reads it from path through Storage. On
// failure the document is left empty.
func (d *Document) Load(ctx context.Context, path string) (err error) {
	d.Reset()
	if path == "" {
		return ErrNoPath
	}

	rc, err := d.storage().Open(path)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	d.path = path
	if err := d.Decode(ctx, rc); err != nil {
		d.Reset()
		return fmt.Errorf("loading %s: %w", path, err)
	}
	slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "loaded document",
		slog.String("path", path),
		slog.Int("sections", len(d.sections)),
		slog.Int("head", len(d.head)),
	)
	return nil
}

// Flush writes the document to path through Storage, or to the document's own
// path when path is empty. A successful flush clears the dirty flag and makes
// path the document's path. A failed flush leaves the document unchanged.
func (d *Document) Flush(ctx context.Context, path string) (err error) {
	if path == "" {
		path = d.path
	}
	if path == "" {
		return ErrNoPath
	}

	// Render first so a failing Create never truncates the file for nothing.
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return err
	}

	wc, err := d.storage().Create(path)
	if err != nil {
		return fmt.Errorf("flushing document: %w", err)
	}
	defer func() {
		if cerr := wc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
		if err == nil {
			d.path = path
			d.flag.set = false
		}
	}()

	if _, err := wc.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	slogctx.FromContext(ctx).LogAttrs(ctx, slog.LevelDebug, "flushed document",
		slog.String("path", path),
		slog.Int("bytes", buf.Len()),
	)
	return nil
}

// Close flushes the document to its path when it is dirty, then releases all
// sections. The document is reset even when the flush fails.
func (d *Document) Close(ctx context.Context) error {
	var err error
	if d.flag.set && d.path != "" {
		err = d.Flush(ctx, "")
	}
	d.Reset()
	return err
}

func (d *Document) storage() Storage {
	if d.Storage == nil {
		return FileStorage{}
	}
	return d.Storage
}

// countingWriter tracks bytes written for WriteTo.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
