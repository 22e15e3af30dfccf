package memshipment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, st *Storage, tn string, now time.Time) *models.Shipment {
	t.Helper()
	sh, err := st.CreateShipment(context.Background(),
		models.NewShipment(models.ShipmentCreateInput{Origin: "Berlin", Destination: "Munich"}, tn, now))
	require.NoError(t, err)
	return sh
}

func TestStorage_CreateAndGet(t *testing.T) {
	st := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	a := seed(t, st, "DT0000000000A1", now)
	b := seed(t, st, "DT0000000000B2", now)
	require.Equal(t, uint64(1), a.ID)
	require.Equal(t, uint64(2), b.ID)

	got, err := st.GetShipmentByTrackingNumber(ctx, "DT0000000000B2")
	require.NoError(t, err)
	require.Equal(t, b.ID, got.ID)

	// returned values are copies
	got.Status = models.StatusDelivered
	again, err := st.GetShipmentByID(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCreated, again.Status)

	_, err = st.GetShipmentByID(ctx, 99)
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = st.CreateShipment(ctx, models.NewShipment(models.ShipmentCreateInput{Origin: "Kyiv", Destination: "Lviv"}, "DT0000000000A1", now))
	require.ErrorIs(t, err, models.ErrTrackingNumberTaken)
}

func TestStorage_DeletedNumberNotReused(t *testing.T) {
	st := New()
	ctx := context.Background()
	now := time.Now()

	a := seed(t, st, "DT0000000000A1", now)
	_, err := st.DeleteShipment(ctx, a.ID, nil)
	require.NoError(t, err)

	_, err = st.GetShipmentByTrackingNumber(ctx, "DT0000000000A1")
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = st.CreateShipment(ctx, models.NewShipment(models.ShipmentCreateInput{Origin: "Berlin", Destination: "Munich"}, "DT0000000000A1", now))
	require.ErrorIs(t, err, models.ErrTrackingNumberTaken)
}

func TestStorage_DeleteGuard(t *testing.T) {
	st := New()
	ctx := context.Background()

	a := seed(t, st, "DT0000000000A1", time.Now())
	_, err := st.UpdateShipment(ctx, a.ID, func(sh *models.Shipment) error {
		return sh.Transition(models.StatusCancelled, time.Now())
	})
	require.NoError(t, err)

	_, err = st.DeleteShipment(ctx, a.ID, func(sh *models.Shipment) error { return sh.CheckDeletable() })
	require.ErrorIs(t, err, models.ErrConflict)

	_, err = st.GetShipmentByID(ctx, a.ID)
	require.NoError(t, err)
}

func TestStorage_UpdateRollsBackOnError(t *testing.T) {
	st := New()
	ctx := context.Background()

	a := seed(t, st, "DT0000000000A1", time.Now())
	_, err := st.UpdateShipment(ctx, a.ID, func(sh *models.Shipment) error {
		sh.Origin = "changed"
		return sh.Transition(models.StatusDelivered, time.Now())
	})
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	got, err := st.GetShipmentByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "Berlin", got.Origin)
	require.Equal(t, models.StatusCreated, got.Status)
}

func TestStorage_ListShipments(t *testing.T) {
	st := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, tn := range []string{"DT000000000001", "DT000000000002", "DT000000000003"} {
		seed(t, st, tn, base.Add(time.Duration(i)*time.Minute))
	}
	// same updatedAt as shipment 3
	seed(t, st, "DT000000000004", base.Add(2*time.Minute))

	items, total, err := st.ListShipments(ctx, models.PageRequest{Page: 0, Size: 2, Sort: models.DefaultSort()})
	require.NoError(t, err)
	require.EqualValues(t, 4, total)
	require.Equal(t, []uint64{4, 3}, ids(items))

	items, _, err = st.ListShipments(ctx, models.PageRequest{Page: 1, Size: 2, Sort: models.DefaultSort()})
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 1}, ids(items))

	items, _, err = st.ListShipments(ctx, models.PageRequest{Page: 5, Size: 2, Sort: models.DefaultSort()})
	require.NoError(t, err)
	require.Empty(t, items)

	items, _, err = st.ListShipments(ctx, models.PageRequest{Page: 0, Size: 10, Sort: models.Sort{Field: models.SortByCreatedAt}})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3, 4}, ids(items))
}

func TestStorage_OverdueAndClaim(t *testing.T) {
	st := New()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	late := seed(t, st, "DT000000000001", now.Add(-96*time.Hour))
	seed(t, st, "DT000000000002", now)
	done := seed(t, st, "DT000000000003", now.Add(-96*time.Hour))
	_, err := st.UpdateShipment(ctx, done.ID, func(sh *models.Shipment) error {
		return sh.Transition(models.StatusCancelled, now)
	})
	require.NoError(t, err)

	overdue, err := st.ListOverdueShipments(ctx, now)
	require.NoError(t, err)
	require.Equal(t, []uint64{late.ID}, ids(overdue))

	claimed, err := st.ClaimOverdueShipments(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, []uint64{late.ID}, ids(claimed))
	require.NotNil(t, claimed[0].OverdueNotifiedAt)

	claimed, err = st.ClaimOverdueShipments(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestStorage_ConcurrentTransitionsSerialize(t *testing.T) {
	st := New()
	ctx := context.Background()
	sh := seed(t, st, "DT000000000001", time.Now())

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.UpdateShipment(ctx, sh.ID, func(cur *models.Shipment) error {
				return cur.Transition(models.StatusPickedUp, time.Now())
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// PICKED_UP -> PICKED_UP is illegal, so exactly one writer wins
	require.Equal(t, 1, succeeded)
}

func TestStorage_Events(t *testing.T) {
	st := New()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"e1", "e2", "e3"} {
		ok, err := st.AppendShipmentEvent(ctx, &models.ShipmentEvent{
			EventID:    id,
			ShipmentID: 1,
			EventType:  models.EventShipmentStatusUpdated,
			Status:     models.StatusInTransit,
			OccurredAt: now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := st.AppendShipmentEvent(ctx, &models.ShipmentEvent{EventID: "e2", ShipmentID: 1})
	require.NoError(t, err)
	require.False(t, ok)

	evs, err := st.ListShipmentEvents(ctx, 1, 2, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, "e3", evs[0].EventID)
	require.Equal(t, "e2", evs[1].EventID)

	evs, err = st.ListShipmentEvents(ctx, 1, 2, 2)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "e1", evs[0].EventID)
}

func ids(items []*models.Shipment) []uint64 {
	out := make([]uint64, 0, len(items))
	for _, sh := range items {
		out = append(out, sh.ID)
	}
	return out
}
