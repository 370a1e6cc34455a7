package ini

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStorage is a test Storage that keeps files in an in-memory map.
type memStorage struct {
	files map[string]string
	// failCreate makes Create fail; failWrite makes the returned writer fail.
	failCreate bool
	failWrite  bool
}

func newMemStorage(files map[string]string) *memStorage {
	if files == nil {
		files = make(map[string]string)
	}
	return &memStorage{files: files}
}

func (m *memStorage) Open(path string) (io.ReadCloser, error) {
	content, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (m *memStorage) Create(path string) (io.WriteCloser, error) {
	if m.failCreate {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrPermission}
	}
	return &memFile{m: m, path: path, fail: m.failWrite}, nil
}

type memFile struct {
	m    *memStorage
	path string
	buf  bytes.Buffer
	fail bool
}

var errDiskFull = errors.New("disk full")

func (f *memFile) Write(p []byte) (int, error) {
	if f.fail {
		return 0, errDiskFull
	}
	return f.buf.Write(p)
}

func (f *memFile) Close() error {
	if !f.fail {
		f.m.files[f.path] = f.buf.String()
	}
	return nil
}

func TestDocumentLoadFlush(t *testing.T) {
	t.Parallel()

	const src = "\xef\xbb\xbf; settings\n\n[server]\nhost=localhost\nport=8080\n\n[client]\nretries=3\n"
	st := newMemStorage(map[string]string{"app.ini": src})

	d := &Document{Storage: st}
	require.NoError(t, d.Load(t.Context(), "app.ini"))
	assert.Equal(t, "app.ini", d.Path())
	assert.False(t, d.Dirty())
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, "\xef\xbb\xbf", string(d.Head()))

	// Unmodified documents flush back byte for byte, however often.
	for range 3 {
		require.NoError(t, d.Flush(t.Context(), ""))
		assert.Equal(t, src, st.files["app.ini"])
		require.NoError(t, d.Load(t.Context(), "app.ini"))
	}

	s, err := d.Section("server")
	require.NoError(t, err)
	s.MustKey("port").SetInt(9090)
	assert.True(t, d.Dirty())

	require.NoError(t, d.Flush(t.Context(), "copy.ini"))
	assert.False(t, d.Dirty())
	assert.Equal(t, "copy.ini", d.Path())
	assert.Equal(t,
		"\xef\xbb\xbf; settings\n\n[server]\nhost=localhost\nport=9090\n\n[client]\nretries=3\n",
		st.files["copy.ini"])
	assert.Equal(t, src, st.files["app.ini"])
}

func TestDocumentLoadErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		d := &Document{Storage: newMemStorage(nil)}
		require.NoError(t, d.ParseString(t.Context(), "[a]\nk=1\n"))

		err := d.Load(t.Context(), "nope.ini")
		require.ErrorIs(t, err, fs.ErrNotExist)
		assert.Equal(t, 0, d.Len())
		assert.Empty(t, d.Path())
		assert.False(t, d.Dirty())
	})

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()

		d := &Document{}
		require.ErrorIs(t, d.Load(t.Context(), ""), ErrNoPath)
	})
}

func TestDocumentFlushErrors(t *testing.T) {
	t.Parallel()

	t.Run("no path", func(t *testing.T) {
		t.Parallel()

		d := &Document{}
		require.NoError(t, d.ParseString(t.Context(), "k=1\n"))
		require.ErrorIs(t, d.Flush(t.Context(), ""), ErrNoPath)
		assert.True(t, d.Dirty())
	})

	t.Run("create fails", func(t *testing.T) {
		t.Parallel()

		st := newMemStorage(nil)
		st.failCreate = true
		d := &Document{Storage: st}
		require.NoError(t, d.ParseString(t.Context(), "k=1\n"))

		err := d.Flush(t.Context(), "out.ini")
		require.ErrorIs(t, err, fs.ErrPermission)
		assert.True(t, d.Dirty())
		assert.Empty(t, d.Path())
	})

	t.Run("write fails", func(t *testing.T) {
		t.Parallel()

		st := newMemStorage(nil)
		st.failWrite = true
		d := &Document{Storage: st}
		require.NoError(t, d.ParseString(t.Context(), "k=1\n"))

		err := d.Flush(t.Context(), "out.ini")
		require.ErrorIs(t, err, errDiskFull)
		assert.True(t, d.Dirty())
		assert.NotContains(t, st.files, "out.ini")
	})
}

func TestDocumentClose(t *testing.T) {
	t.Parallel()

	t.Run("flushes when dirty", func(t *testing.T) {
		t.Parallel()

		st := newMemStorage(map[string]string{"a.ini": "[a]\nk=1\n"})
		d := &Document{Storage: st}
		require.NoError(t, d.Load(t.Context(), "a.ini"))
		d.MustSection("a").MustKey("k").SetString("2")

		require.NoError(t, d.Close(t.Context()))
		assert.Equal(t, "[a]\nk=2\n", st.files["a.ini"])
		assert.Equal(t, 0, d.Len())
		assert.Empty(t, d.Path())
	})

	t.Run("clean document is not written", func(t *testing.T) {
		t.Parallel()

		st := newMemStorage(map[string]string{"a.ini": "[a]\nk=1\n"})
		st.failCreate = true
		d := &Document{Storage: st}
		require.NoError(t, d.Load(t.Context(), "a.ini"))
		require.NoError(t, d.Close(t.Context()))
	})

	t.Run("flush failure still resets", func(t *testing.T) {
		t.Parallel()

		st := newMemStorage(map[string]string{"a.ini": "[a]\nk=1\n"})
		d := &Document{Storage: st}
		require.NoError(t, d.Load(t.Context(), "a.ini"))
		d.MustSection("b")
		d.MustSection("a").MustKey("k").SetString("2")
		st.failCreate = true

		require.Error(t, d.Close(t.Context()))
		assert.Equal(t, 0, d.Len())
	})
}

func TestDocumentFileStorage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "conf.ini")
	require.NoError(t, os.WriteFile(path, []byte("[a]\nk=1\n"), 0o600))

	d := &Document{}
	require.NoError(t, d.Load(t.Context(), path))
	d.MustSection("a").MustKey("j").SetBool(true)
	require.NoError(t, d.Flush(t.Context(), ""))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[a]\nk=1\nj=true\n", string(got))
}

func TestDocumentSection(t *testing.T) {
	t.Parallel()

	t.Run("normalizes brackets and whitespace", func(t *testing.T) {
		t.Parallel()

		d := &Document{}
		a := d.MustSection(" [ db ] ")
		b := d.MustSection("DB")
		assert.Same(t, a, b)
		assert.Equal(t, "db", a.Name())
		assert.Equal(t, 1, d.Len())
		assert.False(t, d.Dirty())
	})

	t.Run("lookup does not create", func(t *testing.T) {
		t.Parallel()

		d := &Document{}
		_, ok := d.Lookup("x")
		assert.False(t, ok)
		assert.False(t, d.HasSection("x"))
		assert.False(t, d.HasKey("x", "k"))
		assert.Equal(t, 0, d.Len())
	})

	t.Run("multi-line name rejected", func(t *testing.T) {
		t.Parallel()

		d := &Document{}
		_, err := d.Section("a\nb")
		require.ErrorIs(t, err, ErrInvalidSectionName)
		assert.True(t, errdefs.IsInvalidArgument(err))
		assert.Panics(t, func() { d.MustSection("a\rb") })
	})

	t.Run("created but unused sections are not written", func(t *testing.T) {
		t.Parallel()

		d := parseString(t, "[a]\nk=1\n")
		d.MustSection("ghost")
		d.MustSection("b").MustKey("j").SetInt(2)
		assert.Equal(t, "[a]\nk=1\n\n[b]\nj=2\n", d.String())
	})

	t.Run("top section keys written without header", func(t *testing.T) {
		t.Parallel()

		d := &Document{}
		d.MustSection("").MustKey("root").SetString("yes")
		d.MustSection("a").MustKey("k").SetString("v")
		assert.Equal(t, "root=yes\n\n[a]\nk=v\n", d.String())
	})
}

func TestDocumentRemoveSection(t *testing.T) {
	t.Parallel()

	d := parseString(t, "[a]\nk=1\n\n[b]\nj=2\n\n[c]\nx=3\n")
	d.SetDirty(false)

	require.NoError(t, d.RemoveSection("B"))
	requireConsistent(t, d)
	assert.True(t, d.Dirty())
	assert.False(t, d.HasSection("b"))
	assert.Equal(t, "[a]\nk=1\n\n[c]\nx=3\n", d.String())

	err := d.RemoveSection("b")
	require.ErrorIs(t, err, ErrSectionNotFound)
	assert.True(t, errdefs.IsNotFound(err))

	// Reusing the name creates a fresh section at the end.
	d.MustSection("b").MustKey("new").SetInt(1)
	assert.Equal(t, "[a]\nk=1\n\n[c]\nx=3\n\n[b]\nnew=1\n", d.String())
}

func TestDocumentRenameSection(t *testing.T) {
	t.Parallel()

	const src = "[a]\nk=1\n\n[b]\nj=2\n"

	tests := []struct {
		name    string
		from    string
		to      string
		want    string
		wantErr error
		dirty   bool
	}{
		{name: "renames in place", from: "a", to: "alpha", want: "[alpha]\nk=1\n\n[b]\nj=2\n", dirty: true},
		{name: "case only", from: "a", to: "A", want: "[A]\nk=1\n\n[b]\nj=2\n", dirty: true},
		{name: "brackets stripped", from: "[a]", to: "[ z ]", want: "[z]\nk=1\n\n[b]\nj=2\n", dirty: true},
		{name: "identical", from: "a", to: "a", want: src},
		{name: "conflict", from: "a", to: "B", want: src, wantErr: ErrNameConflict},
		{name: "missing", from: "q", to: "r", want: src, wantErr: ErrSectionNotFound},
		{name: "multi-line", from: "a", to: "x\ny", want: src, wantErr: ErrInvalidSectionName},
		{name: "empty name after top", from: "b", to: "", want: src, wantErr: ErrInvalidSectionName},
		{name: "empty name on first header", from: "a", to: "[]", want: src, wantErr: ErrInvalidSectionName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := parseString(t, src)
			d.SetDirty(false)

			err := d.RenameSection(tt.from, tt.to)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			requireConsistent(t, d)
			assert.Equal(t, tt.want, d.String())
			assert.Equal(t, tt.dirty, d.Dirty())
		})
	}

	t.Run("conflict is an already-exists error", func(t *testing.T) {
		t.Parallel()

		d := parseString(t, src)
		assert.True(t, errdefs.IsAlreadyExists(d.RenameSection("a", "b")))
	})

	t.Run("only the first section may lose its header", func(t *testing.T) {
		t.Parallel()

		d := &Document{}
		d.MustSection("a").MustKey("k").SetInt(1)
		d.MustSection("b").MustKey("j").SetInt(2)

		require.ErrorIs(t, d.RenameSection("b", ""), ErrInvalidSectionName)
		require.NoError(t, d.RenameSection("a", ""))
		requireConsistent(t, d)
		assert.Equal(t, "k=1\n\n[b]\nj=2\n", d.String())

		back := parseString(t, d.String())
		assert.True(t, back.HasKey("", "k"))
		assert.True(t, back.HasKey("b", "j"))
		assert.False(t, back.HasKey("b", "k"))
	})
}

func TestDocumentTopSectionCreatedFirst(t *testing.T) {
	t.Parallel()

	d := &Document{}
	d.MustSection("a").MustKey("k").SetInt(1)
	d.MustSection("").MustKey("x").SetInt(1)
	requireConsistent(t, d)

	assert.Equal(t, []string{"", "a"}, sectionNames(d))
	assert.Equal(t, "x=1\n\n[a]\nk=1\n", d.String())

	back := parseString(t, d.String())
	assert.True(t, back.HasKey("", "x"))
	assert.False(t, back.HasKey("a", "x"))
}

func TestDocumentDetachedHandles(t *testing.T) {
	t.Parallel()

	t.Run("reset", func(t *testing.T) {
		t.Parallel()

		d := parseString(t, "[a]\nk=1\n")
		s := d.MustSection("a")
		k := s.MustKey("k")
		d.Reset()

		k.SetString("2")
		s.MustKey("new").SetInt(1)
		assert.False(t, d.Dirty())
		assert.False(t, k.Dirty())
		assert.Equal(t, "1", k.String())
		assert.Empty(t, d.String())
	})

	t.Run("load", func(t *testing.T) {
		t.Parallel()

		d := &Document{Storage: newMemStorage(map[string]string{"a.ini": "[a]\nk=1\n"})}
		require.NoError(t, d.Load(t.Context(), "a.ini"))
		k := d.MustSection("a").MustKey("k")
		require.NoError(t, d.Load(t.Context(), "a.ini"))

		k.SetString("2")
		assert.False(t, d.Dirty())
		assert.Equal(t, "[a]\nk=1\n", d.String())
	})

	t.Run("remove section", func(t *testing.T) {
		t.Parallel()

		d := parseString(t, "[a]\nk=1\n\n[b]\nj=2\n")
		b := d.MustSection("b")
		j := b.MustKey("j")
		require.NoError(t, d.RemoveSection("b"))
		d.SetDirty(false)

		j.SetString("3")
		require.NoError(t, b.RemoveKey("j"))
		assert.False(t, d.Dirty())
		assert.NotContains(t, d.String(), "j=")
	})
}

func TestDocumentReset(t *testing.T) {
	t.Parallel()

	d := &Document{}
	require.NoError(t, d.Decode(t.Context(), strings.NewReader("\xef\xbb\xbf[a]\nk=1\n")))
	d.SetDirty(true)
	d.Reset()

	assert.Equal(t, 0, d.Len())
	assert.Empty(t, d.Head())
	assert.False(t, d.Dirty())
	assert.Empty(t, d.String())
}

func TestDocumentWriteTo(t *testing.T) {
	t.Parallel()

	d := parseString(t, "[a]\nk=1\n")
	var b bytes.Buffer
	n, err := d.WriteTo(&b)
	require.NoError(t, err)
	assert.Equal(t, int64(b.Len()), n)
	assert.Equal(t, "[a]\nk=1\n", b.String())
}
