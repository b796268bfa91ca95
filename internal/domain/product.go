package domain

// Product is a buyer's on-hand stock row, upserted by the inventory
// replenisher on successful drop settlement (§4.8). Products missing at
// upsert time are created with MinThreshold=0, Unit="unit", Name=SKU.
type Product struct {
	Owner        string // buyer address
	SKU          string
	Name         string
	Unit         string
	TargetStock  int64
	MinThreshold int64
	Active       bool
}
