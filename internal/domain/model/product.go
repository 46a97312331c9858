package model

// ProductSnapshot freezes the catalog facts a negotiation was opened
// against. The live catalog price may drift afterwards; the snapshot is
// what the parties are bargaining over.
type ProductSnapshot struct {
	ProductID   string
	Title       string
	ListedPrice int64  // minor units
	Currency    string // ISO-4217
}

func (p ProductSnapshot) IsZero() bool { return p.ProductID == "" }
