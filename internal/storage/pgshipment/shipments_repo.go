package pgshipment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const shipmentColumns = `
  id, tracking_number, origin, destination, description,
  status, delayed_from, estimated_delivery, overdue_notified_at,
  created_at, updated_at`

var sortColumns = map[models.SortField]string{
	models.SortByUpdatedAt:         "updated_at",
	models.SortByCreatedAt:         "created_at",
	models.SortByEstimatedDelivery: "estimated_delivery",
	models.SortByStatus:            "status",
	models.SortByID:                "id",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (*models.Shipment, error) {
	var sh models.Shipment
	var status string
	var delayedFrom *string
	if err := row.Scan(
		&sh.ID, &sh.TrackingNumber, &sh.Origin, &sh.Destination, &sh.Description,
		&status, &delayedFrom, &sh.EstimatedDelivery, &sh.OverdueNotifiedAt,
		&sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sh.Status = models.Status(status)
	if delayedFrom != nil {
		d := models.Status(*delayedFrom)
		sh.DelayedFrom = &d
	}
	sh.CreatedAt = sh.CreatedAt.UTC()
	sh.UpdatedAt = sh.UpdatedAt.UTC()
	if sh.EstimatedDelivery != nil {
		t := sh.EstimatedDelivery.UTC()
		sh.EstimatedDelivery = &t
	}
	return &sh, nil
}

func collectShipments(rows pgx.Rows) ([]*models.Shipment, error) {
	defer rows.Close()

	out := make([]*models.Shipment, 0)
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func statusPtr(s *models.Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func (s *Storage) CreateShipment(ctx context.Context, sh *models.Shipment) (*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
INSERT INTO tracking_numbers (tracking_number, issued_at)
VALUES ($1, $2)
ON CONFLICT (tracking_number) DO NOTHING
`, sh.TrackingNumber, sh.CreatedAt.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "register tracking number")
	}
	if tag.RowsAffected() == 0 {
		return nil, models.ErrTrackingNumberTaken
	}

	row := tx.QueryRow(ctx, `
INSERT INTO shipments (
  tracking_number, origin, destination, description,
  status, delayed_from, estimated_delivery, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING `+shipmentColumns,
		sh.TrackingNumber, sh.Origin, sh.Destination, sh.Description,
		string(sh.Status), statusPtr(sh.DelayedFrom), sh.EstimatedDelivery, sh.CreatedAt.UTC(), sh.UpdatedAt.UTC())
	created, err := scanShipment(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return created, nil
}

func (s *Storage) GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id)
	sh, err := scanShipment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("shipment", strconv.FormatUint(id, 10))
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

func (s *Storage) GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Shipment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = $1`, trackingNumber)
	sh, err := scanShipment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("shipment", trackingNumber)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by tracking number")
	}
	return sh, nil
}

func orderBy(sort models.Sort) string {
	col, ok := sortColumns[sort.Field]
	if !ok {
		col = "updated_at"
	}
	dir := "ASC"
	if sort.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s NULLS LAST, id %s", col, dir, dir)
}

// ListShipments reads the count and the page from one snapshot.
func (s *Storage) ListShipments(ctx context.Context, req models.PageRequest) ([]*models.Shipment, int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM shipments`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count shipments")
	}

	rows, err := tx.Query(ctx, `SELECT `+shipmentColumns+` FROM shipments `+orderBy(req.Sort)+` LIMIT $1 OFFSET $2`,
		req.Size, req.Offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, "select shipments")
	}
	out, err := collectShipments(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Storage) ListShipmentsByStatus(ctx context.Context, status models.Status) ([]*models.Shipment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE status = $1 `+orderBy(models.DefaultSort()),
		string(status))
	if err != nil {
		return nil, errors.Wrap(err, "select shipments by status")
	}
	return collectShipments(rows)
}

func terminalStatusStrings() []string {
	out := make([]string, 0, len(models.TerminalStatuses))
	for _, st := range models.TerminalStatuses {
		out = append(out, string(st))
	}
	return out
}

func (s *Storage) ListOverdueShipments(ctx context.Context, now time.Time) ([]*models.Shipment, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE estimated_delivery < $1
  AND status <> ALL($2)
`+orderBy(models.Sort{Field: models.SortByEstimatedDelivery}),
		now.UTC(), terminalStatusStrings())
	if err != nil {
		return nil, errors.Wrap(err, "select overdue shipments")
	}
	return collectShipments(rows)
}

// UpdateShipment locks the row, applies mutate and writes back the mutable columns.
// A concurrent writer on the same id waits for the lock and then sees the committed state.
func (s *Storage) UpdateShipment(ctx context.Context, id uint64, mutate func(*models.Shipment) error) (*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sh, err := scanShipment(tx.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("shipment", strconv.FormatUint(id, 10))
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock shipment")
	}

	if err := mutate(sh); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
UPDATE shipments
SET
  status = $2,
  delayed_from = $3,
  overdue_notified_at = $4,
  updated_at = $5
WHERE id = $1
`, id, string(sh.Status), statusPtr(sh.DelayedFrom), sh.OverdueNotifiedAt, sh.UpdatedAt.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "update shipment")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return sh, nil
}

func (s *Storage) DeleteShipment(ctx context.Context, id uint64, guard func(*models.Shipment) error) (*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sh, err := scanShipment(tx.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewNotFoundError("shipment", strconv.FormatUint(id, 10))
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock shipment")
	}
	if guard != nil {
		if err := guard(sh); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM shipments WHERE id = $1`, id); err != nil {
		return nil, errors.Wrap(err, "delete shipment")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return sh, nil
}

// ClaimOverdueShipments picks overdue shipments that have not been announced yet and marks them,
// skipping rows another worker holds (SELECT ... FOR UPDATE SKIP LOCKED).
func (s *Storage) ClaimOverdueShipments(ctx context.Context, now time.Time, limit int) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE estimated_delivery < $1
  AND status <> ALL($2)
  AND overdue_notified_at IS NULL
ORDER BY estimated_delivery ASC, id ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), terminalStatusStrings(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select overdue shipments")
	}
	picked, err := collectShipments(rows)
	if err != nil {
		return nil, err
	}

	marked := now.UTC().Truncate(models.TimePrecision)
	for _, sh := range picked {
		if _, err := tx.Exec(ctx, `UPDATE shipments SET overdue_notified_at = $2 WHERE id = $1`, sh.ID, marked); err != nil {
			return nil, errors.Wrap(err, "mark overdue shipment")
		}
		t := marked
		sh.OverdueNotifiedAt = &t
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}
