package models

import "time"

// Product is a scheduled trip as returned by GET /public/products/{id}.
type Product struct {
	ID            string    `json:"id" yaml:"id"`
	Company       string    `json:"company,omitempty" yaml:"company"`
	From          string    `json:"from" yaml:"from"`
	To            string    `json:"to" yaml:"to"`
	DepartureTime time.Time `json:"departure_time" yaml:"departure_time"`
	Price         float64   `json:"price" yaml:"price"`
	Layout        string    `json:"layout" yaml:"layout"` // "2+1" or "2+2"
	Rows          int       `json:"rows" yaml:"rows"`
	TakenSeats    []string  `json:"taken_seats" yaml:"taken_seats"`
}
