package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/skydish/api/internal/domain"
	ppg "github.com/skydish/api/internal/platform/postgres"
	"github.com/skydish/api/internal/repositories"
)

// CatalogRepository reads dish and combo price snapshots.
type CatalogRepository struct {
	db ppg.Querier
}

var _ repositories.CatalogReader = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a CatalogRepository.
func NewCatalogRepository(db ppg.Querier) (*CatalogRepository, error) {
	if db == nil {
		return nil, errors.New("catalog repository: database is required")
	}
	return &CatalogRepository{db: db}, nil
}

func (r *CatalogRepository) FindItem(ctx context.Context, kind domain.CatalogKind, id string) (domain.CatalogItem, error) {
	var table string
	switch kind {
	case domain.CatalogKindDish:
		table = "dishes"
	case domain.CatalogKindCombo:
		table = "combos"
	default:
		return domain.CatalogItem{}, fmt.Errorf("catalog repository: unknown kind %q", kind)
	}

	item := domain.CatalogItem{ID: id, Kind: kind}
	err := ppg.Conn(ctx, r.db).QueryRow(ctx, `SELECT name, image, price, on_sale FROM `+table+` WHERE id = $1`, id).
		Scan(&item.Name, &item.Image, &item.UnitAmount, &item.Available)
	if err != nil {
		return domain.CatalogItem{}, ppg.WrapError("catalog."+table+".get", err)
	}
	return item, nil
}
