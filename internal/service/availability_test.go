package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorme-service/api"
	"mentorme-service/internal/models"
	"mentorme-service/pkg/response"
)

func strPtr(s string) *string { return &s }

func oneOffSlotRequest(start, end time.Time) *api.SlotCreateRequest {
	return &api.SlotCreateRequest{
		MentorID: "mentor-1",
		Title:    "Go mentoring",
		Timezone: "UTC",
		Start:    strPtr(start.Format(time.RFC3339)),
		End:      strPtr(end.Format(time.RFC3339)),
	}
}

func TestCreateSlot_Defaults(t *testing.T) {
	svc, _ := newTestService()
	svc.now = func() time.Time { return testNow }

	slot, err := svc.CreateSlot(context.Background(),
		oneOffSlotRequest(testNow.Add(24*time.Hour), testNow.Add(25*time.Hour)))

	require.NoError(t, err)
	assert.Equal(t, string(models.SlotDraft), slot.Status)
	assert.Equal(t, string(models.SlotPublic), slot.Visibility)
	assert.Equal(t, 14, slot.HorizonDays)
}

func TestCreateSlot_Validation(t *testing.T) {
	svc, _ := newTestService()

	cases := []struct {
		name string
		req  api.SlotCreateRequest
	}{
		{"missing mentor", api.SlotCreateRequest{Timezone: "UTC", RRule: strPtr("FREQ=WEEKLY")}},
		{"missing timezone", api.SlotCreateRequest{MentorID: "m1", RRule: strPtr("FREQ=WEEKLY")}},
		{"bad timezone", api.SlotCreateRequest{MentorID: "m1", Timezone: "Mars/Olympus", RRule: strPtr("FREQ=WEEKLY")}},
		{"neither times nor rule", api.SlotCreateRequest{MentorID: "m1", Timezone: "UTC"}},
		{"rule without template", api.SlotCreateRequest{MentorID: "m1", Timezone: "UTC", RRule: strPtr("FREQ=WEEKLY")}},
		{"negative buffer", api.SlotCreateRequest{
			MentorID: "m1", Timezone: "UTC",
			Start: strPtr("2025-06-03T09:00:00Z"), End: strPtr("2025-06-03T10:00:00Z"),
			BufferBeforeMin: -5,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateSlot(context.Background(), &tc.req)
			assert.ErrorIs(t, err, response.ErrValidation)
		})
	}
}

func TestPublish_OneOff(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }

	slot, err := svc.CreateSlot(context.Background(),
		oneOffSlotRequest(testNow.Add(24*time.Hour), testNow.Add(25*time.Hour)))
	require.NoError(t, err)

	result, conflicts, err := svc.Publish(context.Background(), slot.ID, &api.PublishRequest{})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	assert.True(t, result.Published)
	assert.Equal(t, 1, result.OccurrencesCreated)
	assert.Equal(t, 0, result.SkippedConflict)

	stored, _ := store.GetSlot(context.Background(), slot.ID)
	assert.Equal(t, models.SlotPublished, stored.Status)

	occs, _ := store.ListOccurrencesByMentor(context.Background(), "mentor-1", nil, nil)
	require.Len(t, occs, 1)
	assert.Equal(t, models.OccurrenceOpen, occs[0].Status)
	assert.Equal(t, testNow.Add(24*time.Hour), occs[0].StartAt)
}

func TestPublish_Republish_SkipsAll(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }

	slot, err := svc.CreateSlot(context.Background(),
		oneOffSlotRequest(testNow.Add(24*time.Hour), testNow.Add(25*time.Hour)))
	require.NoError(t, err)

	_, _, err = svc.Publish(context.Background(), slot.ID, &api.PublishRequest{})
	require.NoError(t, err)

	// second publish finds its own occurrence in the way
	result, _, err := svc.Publish(context.Background(), slot.ID, &api.PublishRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.OccurrencesCreated)
	assert.Equal(t, 1, result.SkippedConflict)

	occs, _ := store.ListOccurrencesByMentor(context.Background(), "mentor-1", nil, nil)
	assert.Len(t, occs, 1)
}

func TestPublish_AllOrNothing_FailsOnConflict(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }

	first, err := svc.CreateSlot(context.Background(),
		oneOffSlotRequest(testNow.Add(24*time.Hour), testNow.Add(25*time.Hour)))
	require.NoError(t, err)
	_, _, err = svc.Publish(context.Background(), first.ID, &api.PublishRequest{})
	require.NoError(t, err)

	// overlaps the published occurrence by 30 minutes
	second, err := svc.CreateSlot(context.Background(),
		oneOffSlotRequest(testNow.Add(24*time.Hour+30*time.Minute), testNow.Add(25*time.Hour+30*time.Minute)))
	require.NoError(t, err)

	_, conflicts, err := svc.Publish(context.Background(), second.ID, &api.PublishRequest{AllOrNothing: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, response.ErrConflict)
	require.Len(t, conflicts, 1)
	assert.Equal(t, first.ID, conflicts[0].SlotID)
	assert.Equal(t, "Go mentoring", conflicts[0].SlotTitle)

	// nothing written, slot still draft
	stored, _ := store.GetSlot(context.Background(), second.ID)
	assert.Equal(t, models.SlotDraft, stored.Status)
}

func TestPublish_BuffersCreateConflicts(t *testing.T) {
	svc, _ := newTestService()
	svc.now = func() time.Time { return testNow }

	req := oneOffSlotRequest(testNow.Add(24*time.Hour), testNow.Add(25*time.Hour))
	req.BufferAfterMin = 30
	first, err := svc.CreateSlot(context.Background(), req)
	require.NoError(t, err)
	_, _, err = svc.Publish(context.Background(), first.ID, &api.PublishRequest{})
	require.NoError(t, err)

	// back-to-back with the session but inside its after-buffer
	second, err := svc.CreateSlot(context.Background(),
		oneOffSlotRequest(testNow.Add(25*time.Hour), testNow.Add(26*time.Hour)))
	require.NoError(t, err)

	result, _, err := svc.Publish(context.Background(), second.ID, &api.PublishRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.OccurrencesCreated)
	assert.Equal(t, 1, result.SkippedConflict)
}

func TestPublish_ArchivedSlot(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }

	slot, err := svc.CreateSlot(context.Background(),
		oneOffSlotRequest(testNow.Add(24*time.Hour), testNow.Add(25*time.Hour)))
	require.NoError(t, err)
	store.slots[slot.ID].Status = models.SlotArchived

	_, _, err = svc.Publish(context.Background(), slot.ID, &api.PublishRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, response.ErrInvalidTransition)
}

func TestCheckConflicts_DryRun(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }

	first, err := svc.CreateSlot(context.Background(),
		oneOffSlotRequest(testNow.Add(24*time.Hour), testNow.Add(25*time.Hour)))
	require.NoError(t, err)
	_, _, err = svc.Publish(context.Background(), first.ID, &api.PublishRequest{})
	require.NoError(t, err)

	second, err := svc.CreateSlot(context.Background(),
		oneOffSlotRequest(testNow.Add(24*time.Hour), testNow.Add(25*time.Hour)))
	require.NoError(t, err)

	conflicts, err := svc.CheckConflicts(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)

	// dry run wrote nothing
	occs, _ := store.ListOccurrencesByMentor(context.Background(), "mentor-1", nil, nil)
	assert.Len(t, occs, 1)
	stored, _ := store.GetSlot(context.Background(), second.ID)
	assert.Equal(t, models.SlotDraft, stored.Status)
}

func TestPauseResumeSlot(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }

	slot, err := svc.CreateSlot(context.Background(),
		oneOffSlotRequest(testNow.Add(24*time.Hour), testNow.Add(25*time.Hour)))
	require.NoError(t, err)

	// draft cannot be paused
	err = svc.PauseSlot(context.Background(), slot.ID)
	assert.ErrorIs(t, err, response.ErrInvalidTransition)

	_, _, err = svc.Publish(context.Background(), slot.ID, &api.PublishRequest{})
	require.NoError(t, err)

	require.NoError(t, svc.PauseSlot(context.Background(), slot.ID))
	stored, _ := store.GetSlot(context.Background(), slot.ID)
	assert.Equal(t, models.SlotPaused, stored.Status)

	require.NoError(t, svc.ResumeSlot(context.Background(), slot.ID))
	stored, _ = store.GetSlot(context.Background(), slot.ID)
	assert.Equal(t, models.SlotPublished, stored.Status)
}

func TestDeleteSlot_BlockedByActiveBooking(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 0, testNow.Add(24*time.Hour))
	store.occurrences[occID].Status = models.OccurrenceReserved

	err := svc.DeleteSlot(context.Background(), "slot-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, response.ErrConflict)
}

func TestDeleteSlot_CancelsOpenOccurrences(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 0, testNow.Add(24*time.Hour))

	err := svc.DeleteSlot(context.Background(), "slot-1")
	require.NoError(t, err)

	stored, _ := store.GetSlot(context.Background(), "slot-1")
	assert.Equal(t, models.SlotArchived, stored.Status)

	occ, _ := store.GetOccurrence(context.Background(), occID)
	assert.Equal(t, models.OccurrenceCancelled, occ.Status)
}

func TestCalendar_FiltersByWindow(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }

	seedOccurrence(store, 0, testNow.Add(24*time.Hour))
	store.occurrences["occ-2"] = &models.Occurrence{
		ID:       "occ-2",
		SlotID:   "slot-1",
		MentorID: "mentor-1",
		StartAt:  testNow.Add(96 * time.Hour),
		EndAt:    testNow.Add(97 * time.Hour),
		Status:   models.OccurrenceOpen,
	}

	from := testNow
	to := testNow.Add(48 * time.Hour)
	occs, err := svc.Calendar(context.Background(), "mentor-1", &from, &to)
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Equal(t, "occ-1", occs[0].ID)

	all, err := svc.Calendar(context.Background(), "mentor-1", nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
