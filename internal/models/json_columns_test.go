package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selenite/internal/models"
)

func TestStringList_ValueScanRoundTrip(t *testing.T) {
	in := models.StringList{"resumed after restart", "fallback to whisper-base"}
	v, err := in.Value()
	require.NoError(t, err)

	var out models.StringList
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in, out)
}

func TestStringList_NilValueIsEmptyArray(t *testing.T) {
	var in models.StringList
	v, err := in.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestStringList_ScanNilLeavesEmpty(t *testing.T) {
	out := models.StringList{"stale"}
	require.NoError(t, out.Scan(nil))
	assert.Empty(t, out, "scanning a nil column value must leave the destination empty")
}

func TestSegments_ValueScanRoundTrip(t *testing.T) {
	name := "Alice"
	in := models.Segments{
		{ID: 1, StartSec: 0, EndSec: 1.5, Text: "hello"},
		{ID: 2, StartSec: 1.5, EndSec: 3.2, Text: "world", Speaker: &name},
	}
	v, err := in.Value()
	require.NoError(t, err)

	var out models.Segments
	require.NoError(t, out.Scan(v))
	require.Len(t, out, 2)
	assert.Equal(t, in[0], out[0])
	require.NotNil(t, out[1].Speaker)
	assert.Equal(t, "Alice", *out[1].Speaker)
}

func TestSpeakerList_ValueScanRoundTrip(t *testing.T) {
	name := "Bob"
	in := models.SpeakerList{
		{Label: "SPEAKER_00", Name: &name},
		{Label: "SPEAKER_01"},
	}
	v, err := in.Value()
	require.NoError(t, err)

	var out models.SpeakerList
	require.NoError(t, out.Scan(v))
	require.Len(t, out, 2)
	require.NotNil(t, out[0].Name)
	assert.Equal(t, "Bob", *out[0].Name)
	assert.Nil(t, out[1].Name)
}

func TestSegments_ScanFromByteSlice(t *testing.T) {
	var out models.Segments
	require.NoError(t, out.Scan([]byte(`[{"id":1,"start_sec":0,"end_sec":2,"text":"hi"}]`)))
	require.Len(t, out, 1)
	assert.Equal(t, "hi", out[0].Text)
}
