package pgshipment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "shiptrack_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/shiptrack_test?sslmode=disable"

	var st *Storage
	// the port can be open before postgres accepts connections
	require.Eventually(t, func() bool {
		st, err = New(ctx, dsn)
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(st.Close)
	return st
}

func newShipment(tn string, now time.Time) *models.Shipment {
	return models.NewShipment(models.ShipmentCreateInput{Origin: "Berlin", Destination: "Munich"}, tn, now)
}

func TestPGShipment_RepoFlow(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a, err := st.CreateShipment(ctx, newShipment("DTAAAAAAAAAAAA", now))
	require.NoError(t, err)
	require.NotZero(t, a.ID)
	require.Equal(t, models.StatusCreated, a.Status)

	_, err = st.CreateShipment(ctx, newShipment("DTAAAAAAAAAAAA", now))
	require.ErrorIs(t, err, models.ErrTrackingNumberTaken)

	got, err := st.GetShipmentByTrackingNumber(ctx, "DTAAAAAAAAAAAA")
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.True(t, a.CreatedAt.Equal(got.CreatedAt))

	_, err = st.GetShipmentByID(ctx, a.ID+1000)
	var nf *models.NotFoundError
	require.True(t, errors.As(err, &nf))

	upd, err := st.UpdateShipment(ctx, a.ID, func(sh *models.Shipment) error {
		return sh.Transition(models.StatusPickedUp, time.Now())
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusPickedUp, upd.Status)
	require.True(t, upd.UpdatedAt.After(a.UpdatedAt))

	_, err = st.UpdateShipment(ctx, a.ID, func(sh *models.Shipment) error {
		return sh.Transition(models.StatusCreated, time.Now())
	})
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	got, err = st.GetShipmentByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPickedUp, got.Status)

	byStatus, err := st.ListShipmentsByStatus(ctx, models.StatusPickedUp)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)

	deleted, err := st.DeleteShipment(ctx, a.ID, func(sh *models.Shipment) error { return sh.CheckDeletable() })
	require.NoError(t, err)
	require.Equal(t, a.ID, deleted.ID)

	// deleted numbers stay registered
	_, err = st.CreateShipment(ctx, newShipment("DTAAAAAAAAAAAA", now))
	require.ErrorIs(t, err, models.ErrTrackingNumberTaken)
}

func TestPGShipment_ListAndOverdue(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	for i, tn := range []string{"DT000000000001", "DT000000000002", "DT000000000003"} {
		sh := newShipment(tn, now.Add(time.Duration(i)*time.Second))
		if i < 2 {
			eta := past.Add(time.Duration(i) * time.Minute)
			sh.EstimatedDelivery = &eta
		}
		_, err := st.CreateShipment(ctx, sh)
		require.NoError(t, err)
	}

	page, total, err := st.ListShipments(ctx, models.PageRequest{Page: 0, Size: 2, Sort: models.DefaultSort()})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, page, 2)
	require.Equal(t, "DT000000000003", page[0].TrackingNumber)

	page, _, err = st.ListShipments(ctx, models.PageRequest{Page: 1, Size: 2, Sort: models.DefaultSort()})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "DT000000000001", page[0].TrackingNumber)

	overdue, err := st.ListOverdueShipments(ctx, now)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	require.Equal(t, "DT000000000001", overdue[0].TrackingNumber)

	claimed, err := st.ClaimOverdueShipments(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.NotNil(t, claimed[0].OverdueNotifiedAt)

	again, err := st.ClaimOverdueShipments(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestPGShipment_ConcurrentTransitions(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	sh, err := st.CreateShipment(ctx, newShipment("DTCCCCCCCCCCCC", time.Now()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, next := range []models.Status{models.StatusPickedUp, models.StatusCancelled} {
		wg.Add(1)
		go func(i int, next models.Status) {
			defer wg.Done()
			_, errs[i] = st.UpdateShipment(ctx, sh.ID, func(cur *models.Shipment) error {
				return cur.Transition(next, time.Now())
			})
		}(i, next)
	}
	wg.Wait()

	// both are legal from CREATED but PICKED_UP -> CANCELLED is legal too, so both succeed in
	// one order and the loser sees the winner's state in the other
	got, err := st.GetShipmentByID(ctx, sh.ID)
	require.NoError(t, err)
	if errs[0] != nil {
		require.ErrorIs(t, errs[0], models.ErrInvalidTransition)
		require.Equal(t, models.StatusCancelled, got.Status)
	} else {
		require.NoError(t, errs[1])
		require.Equal(t, models.StatusCancelled, got.Status)
	}
}

func TestPGShipment_Events(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	prev := models.StatusCreated
	evs := []*models.ShipmentEvent{
		{EventID: "e1", ShipmentID: 7, TrackingNumber: "DT1", EventType: models.EventShipmentCreated, Status: models.StatusCreated, OccurredAt: now},
		{EventID: "e2", ShipmentID: 7, TrackingNumber: "DT1", EventType: models.EventShipmentStatusUpdated, Status: models.StatusPickedUp, PreviousStatus: &prev, OccurredAt: now.Add(time.Second)},
	}
	for _, e := range evs {
		ok, err := st.AppendShipmentEvent(ctx, e)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := st.AppendShipmentEvent(ctx, evs[0])
	require.NoError(t, err)
	require.False(t, ok)

	got, err := st.ListShipmentEvents(ctx, 7, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "e2", got[0].EventID)
	require.NotNil(t, got[0].PreviousStatus)
	require.Equal(t, models.StatusCreated, *got[0].PreviousStatus)
}
