package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPath(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr error
	}{
		{"file url", "file:///data/a.pdf", "/data/a.pdf", nil},
		{"localhost", "file://localhost/data/a.pdf", "/data/a.pdf", nil},
		{"escaped", "file:///data/my%20report.pdf", "/data/my report.pdf", nil},
		{"http", "http://example.com/a.pdf", "", ErrRemoteSourceUnsupported},
		{"s3", "s3://bucket/a.pdf", "", ErrRemoteSourceUnsupported},
		{"remote host", "file://fileserver/a.pdf", "", ErrRemoteSourceUnsupported},
		{"no scheme", "/data/a.pdf", "", ErrInvalidSource},
		{"no path", "file://", "", ErrInvalidSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LocalPath(tt.url)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateLocalSource(t *testing.T) {
	dir := t.TempDir()
	url := writeSource(t, dir, "doc.pdf", "hello")

	path, err := ValidateLocalSource(url)
	require.NoError(t, err)
	assert.Equal(t, dir+"/doc.pdf", path)

	_, err = ValidateLocalSource("file://" + dir + "/missing.pdf")
	assert.ErrorIs(t, err, ErrSourceNotFound)

	_, err = ValidateLocalSource("file://" + dir)
	assert.ErrorIs(t, err, ErrSourceIsDirectory)
}
