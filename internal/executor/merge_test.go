package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selenite/internal/engine"
	"selenite/internal/models"
)

func TestMerge_NoTurns_AllSegmentsUnlabeled(t *testing.T) {
	segs := []engine.DraftSegment{
		{StartSec: 0, EndSec: 1, Text: "hello"},
		{StartSec: 1, EndSec: 2, Text: "world"},
	}

	segments, speakers := merge(segs, nil)

	require.Len(t, segments, 2)
	for _, s := range segments {
		assert.Nil(t, s.Speaker)
	}
	assert.Empty(t, speakers)
}

func TestMerge_AssignsLargestOverlap(t *testing.T) {
	segs := []engine.DraftSegment{
		{StartSec: 0, EndSec: 10, Text: "mixed"},
	}
	turns := []engine.SpeakerTurn{
		{StartSec: 0, EndSec: 3, Speaker: "SPEAKER_0"},  // 3s overlap
		{StartSec: 3, EndSec: 10, Speaker: "SPEAKER_1"}, // 7s overlap, wins
	}

	segments, speakers := merge(segs, turns)

	require.Len(t, segments, 1)
	require.NotNil(t, segments[0].Speaker)
	assert.Equal(t, "SPEAKER_1", *segments[0].Speaker)
	assert.Equal(t, []string{"SPEAKER_1"}, labelsOf(speakers))
}

func TestMerge_TieBrokenByEarliestStart(t *testing.T) {
	segs := []engine.DraftSegment{
		{StartSec: 0, EndSec: 10, Text: "tie"},
	}
	turns := []engine.SpeakerTurn{
		{StartSec: 5, EndSec: 10, Speaker: "SPEAKER_1"}, // 5s overlap, starts later
		{StartSec: 0, EndSec: 5, Speaker: "SPEAKER_0"},  // 5s overlap, starts earlier -> wins
	}

	segments, _ := merge(segs, turns)

	require.NotNil(t, segments[0].Speaker)
	assert.Equal(t, "SPEAKER_0", *segments[0].Speaker)
}

func TestMerge_NonOverlappingSegmentUnlabeled(t *testing.T) {
	segs := []engine.DraftSegment{
		{StartSec: 0, EndSec: 1, Text: "alone"},
	}
	turns := []engine.SpeakerTurn{
		{StartSec: 5, EndSec: 6, Speaker: "SPEAKER_0"},
	}

	segments, speakers := merge(segs, turns)

	assert.Nil(t, segments[0].Speaker)
	assert.Empty(t, speakers)
}

func TestMerge_SpeakersOrderedByFirstAppearance(t *testing.T) {
	segs := []engine.DraftSegment{
		{StartSec: 0, EndSec: 1, Text: "a"},
		{StartSec: 1, EndSec: 2, Text: "b"},
		{StartSec: 2, EndSec: 3, Text: "c"},
	}
	turns := []engine.SpeakerTurn{
		{StartSec: 0, EndSec: 1, Speaker: "SPEAKER_1"},
		{StartSec: 1, EndSec: 2, Speaker: "SPEAKER_0"},
		{StartSec: 2, EndSec: 3, Speaker: "SPEAKER_1"},
	}

	_, speakers := merge(segs, turns)

	assert.Equal(t, []string{"SPEAKER_1", "SPEAKER_0"}, labelsOf(speakers))
}

func TestMerge_SegmentIDsAreSequential(t *testing.T) {
	segs := []engine.DraftSegment{
		{StartSec: 0, EndSec: 1, Text: "a"},
		{StartSec: 1, EndSec: 2, Text: "b"},
	}

	segments, _ := merge(segs, nil)

	assert.Equal(t, 0, segments[0].ID)
	assert.Equal(t, 1, segments[1].ID)
}

func TestJoinText_ConcatenatesTrimmed(t *testing.T) {
	segs, _ := merge([]engine.DraftSegment{
		{StartSec: 0, EndSec: 1, Text: " hello "},
		{StartSec: 1, EndSec: 2, Text: "world"},
	}, nil)

	assert.Equal(t, "hello world", joinText(segs))
}

func labelsOf(speakers models.SpeakerList) []string {
	out := make([]string, 0, len(speakers))
	for _, s := range speakers {
		out = append(out, s.Label)
	}
	return out
}
