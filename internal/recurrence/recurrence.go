package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"mentorme-service/internal/models"
)

// Candidate is one proposed occurrence window, UTC instants.
type Candidate struct {
	Start time.Time
	End   time.Time
}

// Expand turns a slot into concrete candidate windows inside
// [now, now+horizonDays]. Candidates are ordered by start time.
//
// Degenerate windows (end <= start) and exclusion-date matches are dropped
// silently: publishing favors availability over failure.
func Expand(slot *models.AvailabilitySlot, now time.Time, horizonDays int) ([]Candidate, error) {
	const op = "recurrence.Expand"

	now = now.UTC()
	horizon := now.AddDate(0, 0, horizonDays)

	if !slot.IsRecurring() {
		if slot.StartAt == nil || slot.EndAt == nil {
			return nil, fmt.Errorf("%s: slot %s has neither times nor rrule", op, slot.ID)
		}

		start := slot.StartAt.UTC()
		end := slot.EndAt.UTC()
		if !end.After(start) {
			return nil, nil
		}
		if start.Before(now) || start.After(horizon) {
			return nil, nil
		}

		return []Candidate{{Start: start, End: end}}, nil
	}

	loc, err := time.LoadLocation(slot.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%s: load timezone %q: %w", op, slot.Timezone, err)
	}

	opt, err := rrule.StrToROptionInLocation(*slot.RRule, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: parse rrule: %w", op, err)
	}

	// The session length comes from the slot's own start/end times; the rule
	// only carries the repetition pattern.
	if slot.StartAt == nil || slot.EndAt == nil {
		return nil, fmt.Errorf("%s: recurring slot %s missing start/end template", op, slot.ID)
	}
	duration := slot.EndAt.Sub(*slot.StartAt)
	if duration <= 0 {
		return nil, nil
	}

	if opt.Dtstart.IsZero() {
		opt.Dtstart = slot.StartAt.In(loc)
	}

	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%s: build rrule: %w", op, err)
	}

	excluded := make(map[int64]struct{}, len(slot.ExDates))
	for _, ex := range slot.ExDates {
		excluded[ex.UTC().Unix()] = struct{}{}
	}

	starts := rule.Between(now.In(loc), horizon.In(loc), true)

	candidates := make([]Candidate, 0, len(starts))
	for _, s := range starts {
		start := s.UTC()
		if _, skip := excluded[start.Unix()]; skip {
			continue
		}
		if start.After(horizon) {
			break
		}

		candidates = append(candidates, Candidate{
			Start: start,
			End:   start.Add(duration).UTC(),
		})
	}

	return candidates, nil
}
