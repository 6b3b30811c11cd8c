package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// CatalogRepository reads panel products. Writes belong to the admin side.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) GetPanelProduct(ctx context.Context, id string) (*models.PanelProduct, error) {
	query := `
		SELECT id, name, price, ram, cpu, disk, description, enabled, created_at
		FROM storefront.panel_products
		WHERE id = $1
	`

	var p models.PanelProduct
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Price, &p.RAM, &p.CPU, &p.Disk, &p.Description, &p.Enabled, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get panel product: %w", err)
	}
	return &p, nil
}
