package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/KryssNa/sugandha-api/internal/domain"
)

func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var product domain.Product
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, image, price, quantity FROM products WHERE id = $1`, id).
		Scan(&product.ID, &product.Name, &product.Image, &product.Price, &product.Quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &product, nil
}

func (r *Repository) UpsertProduct(ctx context.Context, product *domain.Product) error {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, name, image, price, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET name = $2, image = $3, price = $4, quantity = $5, updated_at = NOW()`,
		product.ID, product.Name, product.Image, product.Price, product.Quantity)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}
