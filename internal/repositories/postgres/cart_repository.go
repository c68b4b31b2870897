package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	domain "github.com/skydish/api/internal/domain"
	ppg "github.com/skydish/api/internal/platform/postgres"
	"github.com/skydish/api/internal/repositories"
)

const cartColumns = `id, user_id, dish_id, combo_id, flavor, name, image, unit_amount, quantity, created_at`

// CartRepository stores cart lines in Postgres.
type CartRepository struct {
	db ppg.Querier
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a CartRepository.
func NewCartRepository(db ppg.Querier) (*CartRepository, error) {
	if db == nil {
		return nil, errors.New("cart repository: database is required")
	}
	return &CartRepository{db: db}, nil
}

func (r *CartRepository) ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	rows, err := ppg.Conn(ctx, r.db).Query(ctx, `SELECT `+cartColumns+` FROM cart_lines WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, ppg.WrapError("cart.list", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CartLine, error) {
		var line domain.CartLine
		err := row.Scan(&line.ID, &line.UserID, &line.DishID, &line.ComboID, &line.Flavor, &line.Name,
			&line.Image, &line.UnitAmount, &line.Quantity, &line.CreatedAt)
		return line, err
	})
	if err != nil {
		return nil, ppg.WrapError("cart.list", err)
	}
	return lines, nil
}

func (r *CartRepository) Insert(ctx context.Context, lines ...domain.CartLine) error {
	if len(lines) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, []any{line.ID, line.UserID, line.DishID, line.ComboID, line.Flavor, line.Name,
			line.Image, line.UnitAmount, line.Quantity, line.CreatedAt})
	}
	batch := &pgx.Batch{}
	for _, values := range rows {
		batch.Queue(`INSERT INTO cart_lines (`+cartColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, values...)
	}
	results := ppg.Conn(ctx, r.db).SendBatch(ctx, batch)
	for range rows {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return ppg.WrapError("cart.insert", err)
		}
	}
	return ppg.WrapError("cart.insert", results.Close())
}

func (r *CartRepository) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	tag, err := ppg.Conn(ctx, r.db).Exec(ctx, `UPDATE cart_lines SET quantity = $2 WHERE id = $1`, lineID, quantity)
	if err != nil {
		return ppg.WrapError("cart.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ppg.WrapError("cart.update", fmt.Errorf("cart line %s: %w", lineID, pgx.ErrNoRows))
	}
	return nil
}

func (r *CartRepository) Delete(ctx context.Context, lineID string) error {
	_, err := ppg.Conn(ctx, r.db).Exec(ctx, `DELETE FROM cart_lines WHERE id = $1`, lineID)
	return ppg.WrapError("cart.delete", err)
}

func (r *CartRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := ppg.Conn(ctx, r.db).Exec(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID)
	return ppg.WrapError("cart.clear", err)
}
