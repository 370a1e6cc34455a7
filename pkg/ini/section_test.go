package ini

import (
	"slices"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectionKey(t *testing.T) {
	t.Parallel()

	t.Run("creates empty key without dirtying", func(t *testing.T) {
		t.Parallel()

		d := &Document{}
		s := d.MustSection("db")
		k, err := s.Key("  Host ")
		require.NoError(t, err)
		assert.Equal(t, "Host", k.Name())
		assert.True(t, k.Empty())
		assert.False(t, d.Dirty())
		assert.Equal(t, 1, s.Len())
		requireConsistent(t, d)
	})

	t.Run("lookup folds ascii case and preserves spelling", func(t *testing.T) {
		t.Parallel()

		d := parseString(t, "[DB]\nHost=x\n")
		s, ok := d.Lookup("db")
		require.True(t, ok)
		assert.Equal(t, "DB", s.Name())

		k, ok := s.Lookup("HOST")
		require.True(t, ok)
		assert.Equal(t, "Host", k.Name())
		assert.Equal(t, "x", k.String())

		same := s.MustKey("host")
		assert.Equal(t, k, same)
	})

	t.Run("non-ascii names compare exactly", func(t *testing.T) {
		t.Parallel()

		d := parseString(t, "[s]\nÄ=1\n")
		s, _ := d.Lookup("s")
		assert.True(t, s.Has("Ä"))
		assert.False(t, s.Has("ä"))
	})

	t.Run("invalid names rejected", func(t *testing.T) {
		t.Parallel()

		s := (&Document{}).MustSection("s")
		for _, name := range []string{"", "   ", "a=b", "a;b", "a#b", "[x]", "a\nb"} {
			_, err := s.Key(name)
			require.ErrorIs(t, err, ErrInvalidKeyName, "name %q", name)
			assert.True(t, errdefs.IsInvalidArgument(err), "name %q", name)
		}
		assert.Equal(t, 0, s.Len())
		assert.Panics(t, func() { s.MustKey("a=b") })
	})
}

func TestSectionRemoveKey(t *testing.T) {
	t.Parallel()

	d := parseString(t, "[s]\na=1\n; about b\nb=2\nc=3\n")
	d.SetDirty(false)
	s, _ := d.Lookup("s")
	b, _ := s.Lookup("b")

	require.NoError(t, s.RemoveKey("B"))
	requireConsistent(t, d)
	assert.True(t, d.Dirty())
	assert.False(t, s.Has("b"))
	assert.Equal(t, "[s]\na=1\n; about b\nc=3\n", d.String())

	// Stale handles keep their last value and ignore writes.
	assert.Equal(t, "2", b.String())
	b.SetString("9")
	assert.Equal(t, "2", b.String())
	assert.Equal(t, "[s]\na=1\n; about b\nc=3\n", d.String())

	err := s.RemoveKey("b")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.True(t, errdefs.IsNotFound(err))

	// A new key with the old name gets a fresh slot.
	nb := s.MustKey("b")
	assert.NotEqual(t, b, nb)
	assert.True(t, nb.Empty())
	requireConsistent(t, d)
}

func TestSectionRenameKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    string
		to      string
		want    string
		wantErr error
		dirty   bool
	}{
		{
			name:  "renames in place",
			from:  "b",
			to:    "beta",
			want:  "[s]\na=1\nbeta=2\nc=3\n",
			dirty: true,
		},
		{
			name:  "case only change",
			from:  "b",
			to:    "B",
			want:  "[s]\na=1\nB=2\nc=3\n",
			dirty: true,
		},
		{
			name: "identical name is a no-op",
			from: "b",
			to:   "b",
			want: "[s]\na=1\nb=2\nc=3\n",
		},
		{
			name:    "conflict with other key",
			from:    "b",
			to:      "C",
			want:    "[s]\na=1\nb=2\nc=3\n",
			wantErr: ErrNameConflict,
		},
		{
			name:    "missing source",
			from:    "zz",
			to:      "y",
			want:    "[s]\na=1\nb=2\nc=3\n",
			wantErr: ErrKeyNotFound,
		},
		{
			name:    "invalid target",
			from:    "b",
			to:      "x=y",
			want:    "[s]\na=1\nb=2\nc=3\n",
			wantErr: ErrInvalidKeyName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := parseString(t, "[s]\na=1\nb=2\nc=3\n")
			d.SetDirty(false)
			s, _ := d.Lookup("s")
			handle, _ := s.Lookup("b")

			err := s.RenameKey(tt.from, tt.to)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			requireConsistent(t, d)
			assert.Equal(t, tt.want, d.String())
			assert.Equal(t, tt.dirty, d.Dirty())
			assert.Equal(t, "2", handle.String())
		})
	}
}

func TestPopTrailingComments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		section  string
		body     []Node
		wantPop  []Node
		wantKeep int
	}{
		{
			name:    "comment after blank",
			section: "s",
			body: []Node{
				{Kind: KindKeyValue, Name: "k", Value: "1"},
				{Kind: KindBlank},
				{Kind: KindComment, Text: "; next"},
			},
			wantPop:  []Node{{Kind: KindComment, Text: "; next"}},
			wantKeep: 2,
		},
		{
			name:    "comment run with one trailing blank",
			section: "s",
			body: []Node{
				{Kind: KindKeyValue, Name: "k", Value: "1"},
				{Kind: KindBlank},
				{Kind: KindComment, Text: "; a"},
				{Kind: KindComment, Text: "; b"},
				{Kind: KindBlank},
			},
			wantPop: []Node{
				{Kind: KindComment, Text: "; a"},
				{Kind: KindComment, Text: "; b"},
				{Kind: KindBlank},
			},
			wantKeep: 2,
		},
		{
			name:    "comment attached to key stays",
			section: "s",
			body: []Node{
				{Kind: KindKeyValue, Name: "k", Value: "1"},
				{Kind: KindComment, Text: "; about k"},
			},
			wantKeep: 2,
		},
		{
			name:    "comments under named header stay",
			section: "s",
			body: []Node{
				{Kind: KindComment, Text: "; only"},
			},
			wantKeep: 1,
		},
		{
			name:    "implicit section gives up everything",
			section: "",
			body: []Node{
				{Kind: KindComment, Text: "; file header"},
				{Kind: KindBlank},
			},
			wantPop: []Node{
				{Kind: KindComment, Text: "; file header"},
				{Kind: KindBlank},
			},
		},
		{
			name:    "blank only",
			section: "s",
			body: []Node{
				{Kind: KindKeyValue, Name: "k", Value: "1"},
				{Kind: KindBlank},
			},
			wantKeep: 2,
		},
		{
			name:    "empty body",
			section: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var flag dirtyFlag
			s := newSection(tt.section, &flag)
			for _, n := range tt.body {
				require.True(t, s.pushNode(n))
			}

			got := s.popTrailingComments()
			assert.Equal(t, tt.wantPop, got)
			assert.Len(t, s.body, tt.wantKeep)
			assert.Len(t, s.keys, countKeyValues(tt.body))
		})
	}
}

func countKeyValues(nodes []Node) int {
	n := 0
	for _, node := range nodes {
		if node.Kind == KindKeyValue {
			n++
		}
	}
	return n
}

func TestSectionNodes(t *testing.T) {
	t.Parallel()

	d := parseString(t, "; lead\n[s]\nk=1\n\n# c\n")
	s, _ := d.Lookup("s")

	got := slices.Collect(s.Nodes())
	assert.Equal(t, []Node{
		{Kind: KindComment, Text: "; lead"},
		{Kind: KindSection, Name: "s"},
		{Kind: KindKeyValue, Name: "k", Value: "1"},
		{Kind: KindBlank},
		{Kind: KindComment, Text: "# c"},
	}, got)

	var lines []string
	for n := range s.Nodes() {
		lines = append(lines, n.Line())
		if n.Kind == KindSection {
			break
		}
	}
	assert.Equal(t, []string{"; lead", "[s]"}, lines)
}

func TestSectionKeys(t *testing.T) {
	t.Parallel()

	d := parseString(t, "[s]\nb=2\n; c\na=1\n\nc=3\n")
	s, _ := d.Lookup("s")

	var names []string
	for k := range s.Keys() {
		names = append(names, k.Name()+"="+k.String())
	}
	assert.Equal(t, []string{"b=2", "a=1", "c=3"}, names)
}

func TestHasTrailingBlank(t *testing.T) {
	t.Parallel()

	d := parseString(t, "[a]\nk=1\n\n[b]\nj=2\n")
	a, _ := d.Lookup("a")
	b, _ := d.Lookup("b")
	assert.True(t, a.HasTrailingBlank())
	assert.False(t, b.HasTrailingBlank())
	assert.False(t, d.MustSection("fresh").HasTrailingBlank())
}
