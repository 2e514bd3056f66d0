package executor

import (
	"strings"

	"selenite/internal/engine"
	"selenite/internal/models"
)

// merge assigns each ASR segment the speaker turn with the largest temporal
// overlap, ties broken by earliest turn start. Segments that overlap no
// turn carry no speaker label; speakers is the ordered set of labels
// actually appearing in the output.
func merge(segments []engine.DraftSegment, turns []engine.SpeakerTurn) (models.Segments, models.SpeakerList) {
	result := make(models.Segments, 0, len(segments))
	seen := make(map[string]bool)
	var speakers models.SpeakerList

	for i, seg := range segments {
		var label *string
		if len(turns) > 0 {
			if best := bestTurn(seg, turns); best != nil {
				l := best.Speaker
				label = &l
			}
		}
		if label != nil && !seen[*label] {
			seen[*label] = true
			speakers = append(speakers, models.SpeakerLabel{Label: *label})
		}
		result = append(result, models.Segment{
			ID:       i,
			StartSec: seg.StartSec,
			EndSec:   seg.EndSec,
			Text:     seg.Text,
			Speaker:  label,
		})
	}
	return result, speakers
}

func bestTurn(seg engine.DraftSegment, turns []engine.SpeakerTurn) *engine.SpeakerTurn {
	var best *engine.SpeakerTurn
	var bestOverlap float64
	for i := range turns {
		t := &turns[i]
		overlap := overlapSeconds(seg.StartSec, seg.EndSec, t.StartSec, t.EndSec)
		if overlap <= 0 {
			continue
		}
		if best == nil || overlap > bestOverlap || (overlap == bestOverlap && t.StartSec < best.StartSec) {
			best = t
			bestOverlap = overlap
		}
	}
	return best
}

func overlapSeconds(aStart, aEnd, bStart, bEnd float64) float64 {
	lo := aStart
	if bStart > lo {
		lo = bStart
	}
	hi := aEnd
	if bEnd < hi {
		hi = bEnd
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// joinText concatenates segment text in order, the plain-text rendering
// stored alongside the structured Transcript row.
func joinText(segments models.Segments) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, strings.TrimSpace(s.Text))
	}
	return strings.Join(parts, " ")
}
