package textdiff

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from string
		to   string
		want []Line
	}{
		{
			name: "equal",
			from: "a\nb\n",
			to:   "a\nb\n",
			want: []Line{{Equal, "a"}, {Equal, "b"}},
		},
		{
			name: "replace middle",
			from: "a\nb\nc\n",
			to:   "a\nx\nc\n",
			want: []Line{{Equal, "a"}, {Delete, "b"}, {Insert, "x"}, {Equal, "c"}},
		},
		{
			name: "append",
			from: "a\n",
			to:   "a\nb\n",
			want: []Line{{Equal, "a"}, {Insert, "b"}},
		},
		{
			name: "empty to text",
			from: "",
			to:   "k=v\n",
			want: []Line{{Insert, "k=v"}},
		},
		{
			name: "both empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Lines(tt.from, tt.to))
		})
	}
}

func TestChanged(t *testing.T) {
	t.Parallel()

	assert.False(t, Changed(nil))
	assert.False(t, Changed([]Line{{Equal, "a"}}))
	assert.True(t, Changed([]Line{{Equal, "a"}, {Delete, "b"}}))
}

func TestPrinterPrint(t *testing.T) {
	t.Parallel()

	from := "[s]\na=1\nb=2\nc=3\nd=4\ne=5\nf=6\n"
	to := "[s]\na=1\nb=2\nc=3\nd=4\ne=5\nf=7\n"

	tests := []struct {
		name    string
		context int
		want    string
	}{
		{
			name:    "no context",
			context: 0,
			want:    "--- a.ini\n+++ a.ini (formatted)\n...\n-f=6\n+f=7\n",
		},
		{
			name:    "one line of context",
			context: 1,
			want:    "--- a.ini\n+++ a.ini (formatted)\n...\n e=5\n-f=6\n+f=7\n",
		},
		{
			name:    "full context",
			context: 10,
			want:    "--- a.ini\n+++ a.ini (formatted)\n [s]\n a=1\n b=2\n c=3\n d=4\n e=5\n-f=6\n+f=7\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			changed, err := Printer{Context: tt.context}.Print(&buf, "a.ini", "a.ini (formatted)", from, to)
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrinterUnchanged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	changed, err := Printer{Context: 3}.Print(&buf, "a", "b", "k=v\n", "k=v\n")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, buf.String())
}

func TestPrinterColor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_, err := Printer{Color: true}.Print(&buf, "a", "b", "x\n", "y\n")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "\x1b[31m-x")
	assert.Contains(t, buf.String(), "\x1b[32m+y")
}
