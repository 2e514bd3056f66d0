package storage_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selenite/internal/models"
	"selenite/internal/storage"
)

func newGateway(t *testing.T) *storage.Gateway {
	t.Helper()
	g, err := storage.New(t.TempDir())
	require.NoError(t, err)
	return g
}

func TestSaveMedia_RoundTrip(t *testing.T) {
	g := newGateway(t)
	path, err := g.SaveMedia("job-1", ".wav", strings.NewReader("fake-audio-bytes"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fake-audio-bytes", string(data))
}

func TestStageMedia_MissingFileErrors(t *testing.T) {
	g := newGateway(t)
	_, err := g.StageMedia("/nonexistent/path.wav")
	assert.Error(t, err)
}

func TestWriteReadTranscript_RoundTripsBytewiseEqual(t *testing.T) {
	g := newGateway(t)
	segments := models.Segments{
		{ID: 1, StartSec: 0, EndSec: 1.5, Text: "hello"},
		{ID: 2, StartSec: 1.5, EndSec: 3, Text: "world"},
	}
	speakers := models.SpeakerList{{Label: "Speaker 1"}}

	path, err := g.WriteTranscript("job-1", segments, speakers, "en", 3.0)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "job-1.json"))

	gotSegments, gotSpeakers, lang, dur, err := g.ReadTranscript("job-1")
	require.NoError(t, err)
	assert.Equal(t, segments, gotSegments)
	assert.Equal(t, speakers, gotSpeakers)
	assert.Equal(t, "en", lang)
	assert.Equal(t, 3.0, dur)
}

func TestDeleteTranscript_MissingIsNotAnError(t *testing.T) {
	g := newGateway(t)
	assert.NoError(t, g.DeleteTranscript("never-existed"))
}

func TestDeleteTranscript_RemovesFile(t *testing.T) {
	g := newGateway(t)
	_, err := g.WriteTranscript("job-1", nil, nil, "en", 1)
	require.NoError(t, err)

	require.NoError(t, g.DeleteTranscript("job-1"))
	_, _, _, _, err = g.ReadTranscript("job-1")
	assert.Error(t, err)
}

func TestTempDir_IsPerJobAndIdempotent(t *testing.T) {
	g := newGateway(t)
	a, err := g.TempDir("job-1")
	require.NoError(t, err)
	b, err := g.TempDir("job-1")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := g.TempDir("job-2")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	info, err := os.Stat(a)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCleanup_RemovesTempDir(t *testing.T) {
	g := newGateway(t)
	dir, err := g.TempDir("job-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.bin"), []byte("x"), 0644))

	require.NoError(t, g.Cleanup("job-1"))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestEnsureWav_AlreadyWavIsPassthrough(t *testing.T) {
	g := newGateway(t)
	path, err := g.SaveMedia("job-1", ".wav", strings.NewReader("x"))
	require.NoError(t, err)

	got, err := g.EnsureWav("job-1", path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestPathUnderRoot_RejectsEscape(t *testing.T) {
	root := t.TempDir()
	_, err := storage.PathUnderRoot(root, filepath.Join(root, "..", "..", "etc", "passwd"))
	assert.Error(t, err)
}

func TestPathUnderRoot_AcceptsNestedPath(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "whisper", "tiny.bin")
	resolved, err := storage.PathUnderRoot(root, nested)
	require.NoError(t, err)
	assert.Equal(t, nested, resolved)
}
