// Package charset transcodes documents stored in legacy 8-bit or UTF-16
// encodings to and from the UTF-8 text the ini package works on.
package charset

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ndisidore/inidoc/pkg/ini"
)

// ErrUnknownEncoding is returned for encoding names that cannot be resolved.
var ErrUnknownEncoding = errors.New("unknown encoding")

// _aliases covers the names people actually type for INI files. Anything
// else is looked up in the IANA registry.
var _aliases = map[string]encoding.Encoding{
	"latin1":   charmap.ISO8859_1,
	"latin-1":  charmap.ISO8859_1,
	"latin9":   charmap.ISO8859_15,
	"cp1250":   charmap.Windows1250,
	"cp1251":   charmap.Windows1251,
	"cp1252":   charmap.Windows1252,
	"ansi":     charmap.Windows1252,
	"cp437":    charmap.CodePage437,
	"cp850":    charmap.CodePage850,
	"utf16":    unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16":   unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16le": unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf-16be": unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
}

// Lookup resolves an encoding name. UTF-8 and the empty name return nil,
// meaning no transcoding.
func Lookup(name string) (encoding.Encoding, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "utf8", "utf-8":
		return nil, nil
	}
	if enc, ok := _aliases[key]; ok {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(key)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}

// Storage wraps another ini.Storage and transcodes through Encoding. Reads
// decode to UTF-8; writes encode from UTF-8 and fail on characters the target
// encoding cannot represent.
type Storage struct {
	Base     ini.Storage
	Encoding encoding.Encoding
}

// Wrap returns base unchanged when enc is nil, and a transcoding Storage
// otherwise.
func Wrap(base ini.Storage, enc encoding.Encoding) ini.Storage {
	if enc == nil {
		return base
	}
	return Storage{Base: base, Encoding: enc}
}

// Open opens path through Base and decodes its content.
func (s Storage) Open(path string) (io.ReadCloser, error) {
	rc, err := s.Base.Open(path)
	if err != nil {
		return nil, err
	}
	return &readCloser{
		Reader: transform.NewReader(rc, s.Encoding.NewDecoder()),
		under:  rc,
	}, nil
}

// Create creates path through Base and encodes everything written to it.
func (s Storage) Create(path string) (io.WriteCloser, error) {
	wc, err := s.Base.Create(path)
	if err != nil {
		return nil, err
	}
	return &writeCloser{
		tw:    transform.NewWriter(wc, s.Encoding.NewEncoder()),
		under: wc,
	}, nil
}

type readCloser struct {
	io.Reader
	under io.Closer
}

func (r *readCloser) Close() error { return r.under.Close() }

type writeCloser struct {
	tw    *transform.Writer
	under io.WriteCloser
}

func (w *writeCloser) Write(p []byte) (int, error) {
	n, err := w.tw.Write(p)
	if err != nil {
		return n, fmt.Errorf("encoding: %w", err)
	}
	return n, nil
}

// Close flushes buffered output before closing the underlying writer. The
// underlying writer is closed even when the flush fails.
func (w *writeCloser) Close() error {
	ferr := w.tw.Close()
	cerr := w.under.Close()
	if ferr != nil {
		return fmt.Errorf("encoding: %w", ferr)
	}
	return cerr
}
