package domain

import "github.com/google/uuid"

// Product is the catalog view the checkout path needs: current price,
// display fields for the line-item snapshot, and available quantity.
type Product struct {
	ID       uuid.UUID
	Name     string
	Image    string
	Price    float64
	Quantity int32
}
