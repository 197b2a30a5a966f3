package models

// Package is one purchasable access offer.
type Package struct {
	ID     string `yaml:"id" json:"id"`
	Label  string `yaml:"label" json:"label"`
	Hours  int    `yaml:"hours" json:"hours"`
	Amount int64  `yaml:"amount" json:"amount"`
}

func (p Package) PurchaseRequest(identity string) PurchaseRequest {
	return PurchaseRequest{
		ClientIdentity:       identity,
		Amount:               p.Amount,
		PackageDurationHours: p.Hours,
		PackageLabel:         p.Label,
	}
}
