package conflict

import (
	"time"

	"mentorme-service/internal/models"
	"mentorme-service/internal/recurrence"
)

// Footprint is a buffered time range used for overlap checks.
type Footprint struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses half-open interval semantics: [a,b) intersects [c,d)
// iff a < d && c < b. Back-to-back footprints do not conflict.
func (f Footprint) Overlaps(other Footprint) bool {
	return f.Start.Before(other.End) && other.Start.Before(f.End)
}

// CandidateFootprint applies the slot's current buffers to a candidate window.
// Buffers are slot-level and re-read at every publish.
func CandidateFootprint(c recurrence.Candidate, bufferBeforeMin, bufferAfterMin int) Footprint {
	return Footprint{
		Start: c.Start.Add(-time.Duration(bufferBeforeMin) * time.Minute),
		End:   c.End.Add(time.Duration(bufferAfterMin) * time.Minute),
	}
}

// OccurrenceFootprint builds the buffered footprint of an existing occurrence.
func OccurrenceFootprint(o *models.Occurrence) Footprint {
	return Footprint{Start: o.FootprintStart(), End: o.FootprintEnd()}
}

// FilterResult reports the outcome of a publish batch.
type FilterResult struct {
	Accepted        []recurrence.Candidate
	SkippedConflict int
}

// Filter accepts candidates that conflict neither with the mentor's existing
// non-cancelled occurrences nor with an earlier accepted candidate of the
// same batch. Conflicting candidates are counted, not retried.
func Filter(existing []*models.Occurrence, candidates []recurrence.Candidate, bufferBeforeMin, bufferAfterMin int) FilterResult {
	existingFp := make([]Footprint, 0, len(existing))
	for _, o := range existing {
		if o.Status == models.OccurrenceCancelled {
			continue
		}
		existingFp = append(existingFp, OccurrenceFootprint(o))
	}

	var res FilterResult
	acceptedFp := make([]Footprint, 0, len(candidates))

	for _, c := range candidates {
		fp := CandidateFootprint(c, bufferBeforeMin, bufferAfterMin)

		if conflictsAny(fp, existingFp) || conflictsAny(fp, acceptedFp) {
			res.SkippedConflict++
			continue
		}

		res.Accepted = append(res.Accepted, c)
		acceptedFp = append(acceptedFp, fp)
	}

	return res
}

// FindConflicts returns, per candidate, the existing occurrences whose
// footprints overlap it. Used by the dry-run check so the caller can explain
// the rejection.
func FindConflicts(existing []*models.Occurrence, candidates []recurrence.Candidate, bufferBeforeMin, bufferAfterMin int) map[int][]*models.Occurrence {
	out := make(map[int][]*models.Occurrence)

	for i, c := range candidates {
		fp := CandidateFootprint(c, bufferBeforeMin, bufferAfterMin)
		for _, o := range existing {
			if o.Status == models.OccurrenceCancelled {
				continue
			}
			if fp.Overlaps(OccurrenceFootprint(o)) {
				out[i] = append(out[i], o)
			}
		}
	}

	return out
}

func conflictsAny(fp Footprint, against []Footprint) bool {
	for _, other := range against {
		if fp.Overlaps(other) {
			return true
		}
	}
	return false
}
