package models

import "time"

// PanelProduct is a catalog entry for a panel plan. RAM is in GB.
type PanelProduct struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Price       int64     `json:"price"`
	RAM         int       `json:"ram"`
	CPU         int       `json:"cpu"`
	Disk        int       `json:"disk"`
	Description string    `json:"description"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}
