package storage

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseArchiveTimestampRoundTrips(t *testing.T) {
	ts := time.Date(2026, 1, 8, 14, 30, 22, 0, time.UTC)
	key := "athena-backup-" + ts.Format("2006-01-02-150405") + ".tar.gz"

	got, ok := parseArchiveTimestamp(key)
	require.True(t, ok)
	require.True(t, got.Equal(ts))
}

func TestParseArchiveTimestampRejectsUnrelatedKeys(t *testing.T) {
	_, ok := parseArchiveTimestamp("some-other-object.txt")
	require.False(t, ok)
}

func TestChecksumFileIsStableAndContentSensitive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	sum1, err := checksumFile(path)
	require.NoError(t, err)
	sum2, err := checksumFile(path)
	require.NoError(t, err)
	require.Equal(t, sum1, sum2)

	require.NoError(t, os.WriteFile(path, []byte("hello world!"), 0o644))
	sum3, err := checksumFile(path)
	require.NoError(t, err)
	require.NotEqual(t, sum1, sum3)
}

func TestCreateTarGzProducesReadableArchive(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "payload.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("archived content"), 0o644))

	archivePath := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, createTarGz(archivePath, []string{filePath}))

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	require.Equal(t, "payload.txt", hdr.Name)

	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	require.Equal(t, "archived content", string(content))
}
