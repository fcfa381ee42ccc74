package dataset

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantRows []string
		wantErr  error
	}{
		{
			name:     "three rows",
			input:    "name,age\nAna,34\nBruno,29\nCarla,41\n",
			wantRows: []string{"name: Ana\nage: 34", "name: Bruno\nage: 29", "name: Carla\nage: 41"},
		},
		{
			name:     "empty file",
			input:    "",
			wantRows: nil,
		},
		{
			name:     "header only",
			input:    "name,age\n",
			wantRows: []string{},
		},
		{
			name:     "trims header and values",
			input:    " city , total \n Recife , 12 \n",
			wantRows: []string{"city: Recife\ntotal: 12"},
		},
		{
			name:     "missing trailing fields render empty",
			input:    "a,b,c\n1\n",
			wantRows: []string{"a: 1\nb: \nc: "},
		},
		{
			name:     "extra fields join under an empty key",
			input:    "a,b\n1,2, 3 ,4\n",
			wantRows: []string{"a: 1\nb: 2\n: 3,4"},
		},
		{
			name:     "short and long records",
			input:    "a,b\n1\n1,2,3,4\n",
			wantRows: []string{"a: 1\nb: ", "a: 1\nb: 2\n: 3,4"},
		},
		{
			name:     "quoted field with comma and newline",
			input:    "product,notes\nlamp,\"bright, warm\nlight\"\n",
			wantRows: []string{"product: lamp\nnotes: bright, warm\nlight"},
		},
		{
			name:     "byte order mark is dropped",
			input:    "\ufeffid\n7\n",
			wantRows: []string{"id: 7"},
		},
		{
			name:    "bare quote is malformed",
			input:   "a,b\n1,\"x\"y\n",
			wantErr: ErrParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			ds, err := NewLoader(dir).Load(context.Background(), strings.NewReader(tt.input))

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantRows, ds.Rows)
				assert.Equal(t, len(tt.wantRows), ds.Len())
			}

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "temp file must be removed")
		})
	}
}

func TestLoadRemovesTempFileOnReadFailure(t *testing.T) {
	dir := t.TempDir()
	_, err := NewLoader(dir).Load(context.Background(), failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadPreservesRowCount(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,value\n")
	for i := 0; i < 250; i++ {
		b.WriteString("1,2\n")
	}

	ds, err := NewLoader(t.TempDir()).Load(context.Background(), strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Equal(t, 250, ds.Len())
	assert.Equal(t, []string{"id", "value"}, ds.Columns)
}

func TestLoadHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(t.TempDir()).Load(ctx, strings.NewReader("a\n1\n"))
	assert.ErrorIs(t, err, context.Canceled)
}
