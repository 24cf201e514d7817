package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/parkb/internal/model"
)

// EnsureSpots inserts spots 1..n in a single statement. Existing rows keep
// their occupancy flag.
func (t *mysqlTx) EnsureSpots(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT IGNORE INTO parking_spots (id, is_occupied) VALUES `)
	args := make([]interface{}, 0, n)
	for id := 1; id <= n; id++ {
		if id > 1 {
			b.WriteString(",")
		}
		b.WriteString("(?, FALSE)")
		args = append(args, id)
	}
	_, err := t.tx.ExecContext(ctx, b.String(), args...)
	return err
}

// ListSpots returns all spots ordered by id.
func (t *mysqlTx) ListSpots(ctx context.Context) ([]model.Spot, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id, is_occupied FROM parking_spots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Spot
	for rows.Next() {
		var sp model.Spot
		if err := rows.Scan(&sp.ID, &sp.Occupied); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (t *mysqlTx) SpotByID(ctx context.Context, id int) (model.Spot, error) {
	var sp model.Spot
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, is_occupied FROM parking_spots WHERE id = ? FOR UPDATE`, id).
		Scan(&sp.ID, &sp.Occupied)
	return sp, notFound(err)
}

func (t *mysqlTx) SetSpotOccupied(ctx context.Context, id int, occupied bool) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE parking_spots SET is_occupied = ? WHERE id = ?`, occupied, id)
	if err != nil {
		return err
	}
	// RowsAffected is 0 when the flag already had the requested value, so
	// existence is checked separately.
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := t.SpotByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
