package model

import "github.com/shopspring/decimal"

type ProductSort string

const (
	SortNewest    ProductSort = "newest"
	SortPriceAsc  ProductSort = "price_asc"
	SortPriceDesc ProductSort = "price_desc"
	SortName      ProductSort = "name"
)

// ProductFilter fields are AND-combined; zero values mean "no constraint".
type ProductFilter struct {
	Category string
	Search   string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Sort     ProductSort
}

type CategoryCount struct {
	Name  string
	Count int
}

// OrderFilter drives the admin order listing. An empty Status means all.
type OrderFilter struct {
	Status OrderStatus
	Search string
}
