package model

import "github.com/shopspring/decimal"

// TestOrder is the canned order printed by the direct print command.
func TestOrder() Order {
	return Order{
		ID:           "TEST-001",
		DeliveryType: "LIVRAISON",
		Items: []LineItem{
			{Name: "Poké Créa", Quantity: 2, Price: decimal.RequireFromString("12.50")},
			{Name: "Sushi Créa", Quantity: 1, Price: decimal.RequireFromString("15.00")},
		},
	}
}

// DebugOrder is served on the pull endpoint when the printer polls.
func DebugOrder() Order {
	return Order{
		ID:           "DEBUG",
		DeliveryType: "TEST SERVER DIRECT PRINT",
		Items: []LineItem{
			{Name: "Test Article 1", Quantity: 1, Price: decimal.RequireFromString("5.00")},
			{Name: "Test Article 2", Quantity: 2, Price: decimal.RequireFromString("3.50")},
		},
	}
}
