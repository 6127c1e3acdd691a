package domain

import "github.com/shopspring/decimal"

type Course struct {
	ID    string
	Title string
	Price decimal.Decimal
}
