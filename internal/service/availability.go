package service

import (
	"context"
	"fmt"
	"time"

	"mentorme-service/api"
	"mentorme-service/internal/conflict"
	"mentorme-service/internal/models"
	"mentorme-service/internal/recurrence"
	"mentorme-service/pkg/response"
)

func (s *Service) CreateSlot(ctx context.Context, req *api.SlotCreateRequest) (*api.SlotResponse, error) {
	const op = "service.CreateSlot"

	if req.MentorID == "" {
		return nil, fmt.Errorf("%s: mentor_id: %w", op, response.ErrValidation)
	}
	if req.Timezone == "" {
		return nil, fmt.Errorf("%s: timezone: %w", op, response.ErrValidation)
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return nil, fmt.Errorf("%s: unknown timezone %q: %w", op, req.Timezone, response.ErrValidation)
	}

	hasTimes := req.Start != nil && req.End != nil
	hasRule := req.RRule != nil && *req.RRule != ""
	if !hasTimes && !hasRule {
		return nil, fmt.Errorf("%s: slot needs either start/end or rrule: %w", op, response.ErrValidation)
	}

	var startAt, endAt *time.Time
	if req.Start != nil {
		t, err := time.Parse(time.RFC3339, *req.Start)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid start: %w", op, response.ErrValidation)
		}
		startAt = &t
	}
	if req.End != nil {
		t, err := time.Parse(time.RFC3339, *req.End)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid end: %w", op, response.ErrValidation)
		}
		endAt = &t
	}
	if hasRule && (startAt == nil || endAt == nil) {
		return nil, fmt.Errorf("%s: recurring slot needs a start/end template for session length: %w", op, response.ErrValidation)
	}

	exDates := make([]time.Time, 0, len(req.ExDates))
	for _, raw := range req.ExDates {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid exdate %q: %w", op, raw, response.ErrValidation)
		}
		exDates = append(exDates, t.UTC())
	}

	if req.BufferBeforeMin < 0 || req.BufferAfterMin < 0 {
		return nil, fmt.Errorf("%s: negative buffer: %w", op, response.ErrValidation)
	}

	visibility := models.SlotVisibility(req.Visibility)
	if visibility == "" {
		visibility = models.SlotPublic
	}
	if visibility != models.SlotPublic && visibility != models.SlotPrivate {
		return nil, fmt.Errorf("%s: invalid visibility: %w", op, response.ErrValidation)
	}

	horizon := req.HorizonDays
	if horizon <= 0 {
		horizon = s.policy.DefaultHorizonDays
	}
	if horizon > s.policy.MaxHorizonDays {
		horizon = s.policy.MaxHorizonDays
	}

	slot := &models.AvailabilitySlot{
		MentorID:        req.MentorID,
		Title:           req.Title,
		Timezone:        req.Timezone,
		StartAt:         startAt,
		EndAt:           endAt,
		RRule:           req.RRule,
		ExDates:         exDates,
		BufferBeforeMin: req.BufferBeforeMin,
		BufferAfterMin:  req.BufferAfterMin,
		Visibility:      visibility,
		Status:          models.SlotDraft,
		HorizonDays:     horizon,
		PriceMinor:      req.PriceMinor,
	}

	id, err := s.store.CreateSlot(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.GetSlotResponse(ctx, id)
}

func (s *Service) GetSlotResponse(ctx context.Context, id string) (*api.SlotResponse, error) {
	const op = "service.GetSlotResponse"

	slot, err := s.store.GetSlot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return slotToResponse(slot), nil
}

func slotToResponse(slot *models.AvailabilitySlot) *api.SlotResponse {
	return &api.SlotResponse{
		ID:              slot.ID,
		MentorID:        slot.MentorID,
		Title:           slot.Title,
		Timezone:        slot.Timezone,
		Start:           slot.StartAt,
		End:             slot.EndAt,
		RRule:           slot.RRule,
		BufferBeforeMin: slot.BufferBeforeMin,
		BufferAfterMin:  slot.BufferAfterMin,
		Visibility:      string(slot.Visibility),
		Status:          string(slot.Status),
		HorizonDays:     slot.HorizonDays,
		PriceMinor:      slot.PriceMinor,
	}
}

// Publish expands the slot into occurrences and persists the conflict-free
// ones. Default policy is best effort: conflicting candidates are skipped and
// counted, and zero created occurrences is still a successful publish. With
// AllOrNothing the publish fails with the conflict list instead.
func (s *Service) Publish(ctx context.Context, slotID string, req *api.PublishRequest) (*api.PublishResponse, []api.ConflictInfo, error) {
	const op = "service.Publish"

	slot, err := s.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if slot.Status == models.SlotArchived {
		return nil, nil, fmt.Errorf("%s: slot is archived: %w", op, response.ErrInvalidTransition)
	}

	horizon := slot.HorizonDays
	if req != nil && req.HorizonDays != nil && *req.HorizonDays > 0 {
		horizon = *req.HorizonDays
	}
	if horizon > s.policy.MaxHorizonDays {
		horizon = s.policy.MaxHorizonDays
	}

	// One publish at a time per mentor: the conflict check must see a stable
	// occurrence set.
	lockKey := fmt.Sprintf("mentor:%s:occurrences", slot.MentorID)
	locked, err := s.locker.LockWait(ctx, lockKey, 30*time.Second, 2*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: lock error: %w", op, err)
	}
	if !locked {
		return nil, nil, fmt.Errorf("%s: %w", op, response.ErrLocked)
	}
	defer func() {
		_ = s.locker.Unlock(ctx, lockKey)
	}()

	existing, err := s.store.ListOccurrencesByMentor(ctx, slot.MentorID, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	candidates, err := recurrence.Expand(slot, s.now(), horizon)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	filtered := conflict.Filter(existing, candidates, slot.BufferBeforeMin, slot.BufferAfterMin)

	if req != nil && req.AllOrNothing && filtered.SkippedConflict > 0 {
		conflicts, cErr := s.describeConflicts(ctx, existing, candidates, slot)
		if cErr != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, cErr)
		}
		return nil, conflicts, fmt.Errorf("%s: %w", op, response.ErrConflict)
	}

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		for _, c := range filtered.Accepted {
			occ := &models.Occurrence{
				SlotID:          slot.ID,
				MentorID:        slot.MentorID,
				StartAt:         c.Start,
				EndAt:           c.End,
				BufferBeforeMin: slot.BufferBeforeMin,
				BufferAfterMin:  slot.BufferAfterMin,
				Status:          models.OccurrenceOpen,
			}
			if _, err := tx.CreateOccurrence(ctx, occ); err != nil {
				return fmt.Errorf("create occurrence: %w", err)
			}
		}
		return tx.UpdateSlotStatus(ctx, slot.ID, models.SlotPublished)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return &api.PublishResponse{
		Published:          true,
		OccurrencesCreated: len(filtered.Accepted),
		SkippedConflict:    filtered.SkippedConflict,
		RRule:              slot.RRule,
		HorizonDays:        horizon,
	}, nil, nil
}

// CheckConflicts is the dry-run counterpart of Publish: it reports which
// existing occurrences a publish would collide with, without writing anything.
func (s *Service) CheckConflicts(ctx context.Context, slotID string) ([]api.ConflictInfo, error) {
	const op = "service.CheckConflicts"

	slot, err := s.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	existing, err := s.store.ListOccurrencesByMentor(ctx, slot.MentorID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	candidates, err := recurrence.Expand(slot, s.now(), slot.HorizonDays)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conflicts, err := s.describeConflicts(ctx, existing, candidates, slot)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return conflicts, nil
}

func (s *Service) describeConflicts(ctx context.Context, existing []*models.Occurrence, candidates []recurrence.Candidate, slot *models.AvailabilitySlot) ([]api.ConflictInfo, error) {
	found := conflict.FindConflicts(existing, candidates, slot.BufferBeforeMin, slot.BufferAfterMin)

	titles := make(map[string]string)
	seen := make(map[string]struct{})
	var out []api.ConflictInfo

	for _, occs := range found {
		for _, o := range occs {
			if _, dup := seen[o.ID]; dup {
				continue
			}
			seen[o.ID] = struct{}{}

			title, ok := titles[o.SlotID]
			if !ok {
				owner, err := s.store.GetSlot(ctx, o.SlotID)
				if err != nil {
					return nil, fmt.Errorf("load owning slot %s: %w", o.SlotID, err)
				}
				title = owner.Title
				titles[o.SlotID] = title
			}

			out = append(out, api.ConflictInfo{
				OccurrenceID:    o.ID,
				SlotID:          o.SlotID,
				SlotTitle:       title,
				Start:           o.StartAt,
				End:             o.EndAt,
				BufferBeforeMin: o.BufferBeforeMin,
				BufferAfterMin:  o.BufferAfterMin,
			})
		}
	}

	return out, nil
}

func (s *Service) PauseSlot(ctx context.Context, slotID string) error {
	const op = "service.PauseSlot"

	if err := s.store.UpdateSlotStatus(ctx, slotID, models.SlotPublished, models.SlotPaused); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) ResumeSlot(ctx context.Context, slotID string) error {
	const op = "service.ResumeSlot"

	if err := s.store.UpdateSlotStatus(ctx, slotID, models.SlotPaused, models.SlotPublished); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteSlot archives a slot. Refused while any occurrence is reserved or
// booked; remaining open occurrences are cancelled and never resurrected.
func (s *Service) DeleteSlot(ctx context.Context, slotID string) error {
	const op = "service.DeleteSlot"

	if _, err := s.store.GetSlot(ctx, slotID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	blocking, err := s.store.CountBlockingOccurrences(ctx, slotID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if blocking > 0 {
		return fmt.Errorf("%s: %d occurrences still held by bookings: %w", op, blocking, response.ErrConflict)
	}

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.CancelOpenOccurrencesBySlot(ctx, slotID); err != nil {
			return fmt.Errorf("cancel occurrences: %w", err)
		}
		return tx.UpdateSlotStatus(ctx, slotID, models.SlotArchived)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Calendar lists a mentor's occurrences inside [from, to] for public display.
func (s *Service) Calendar(ctx context.Context, mentorID string, from, to *time.Time) ([]*api.OccurrenceResponse, error) {
	const op = "service.Calendar"

	if mentorID == "" {
		return nil, fmt.Errorf("%s: mentor_id: %w", op, response.ErrValidation)
	}

	occurrences, err := s.store.ListOccurrencesByMentor(ctx, mentorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*api.OccurrenceResponse, 0, len(occurrences))
	for _, o := range occurrences {
		result = append(result, &api.OccurrenceResponse{
			ID:       o.ID,
			SlotID:   o.SlotID,
			MentorID: o.MentorID,
			Start:    o.StartAt,
			End:      o.EndAt,
			Status:   string(o.Status),
		})
	}

	return result, nil
}
