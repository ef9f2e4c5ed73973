package models

import "strings"

// Well-known category ids inserted when the store is first seen empty.
const (
	CategoryDebitCredit     = "debit_credit"
	CategoryMemberCard      = "member_card"
	CategoryElectronicMoney = "electronic_money"
)

type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	// IconName is optional, empty means none
	IconName  string `json:"icon_name,omitempty"`
	SortOrder int    `json:"sort_order"`
}

type CreateCategory struct {
	DisplayName string `json:"display_name"`
	IconName    string `json:"icon_name"`
}

// CategoryName derives the identifier-like name of a category from its
// display name: upper case, spaces replaced with underscores.
func CategoryName(displayName string) string {
	return strings.ToUpper(strings.ReplaceAll(displayName, " ", "_"))
}

// DefaultCategories returns a fresh copy of the seed categories.
func DefaultCategories() []Category {
	return []Category{
		{
			ID:          CategoryDebitCredit,
			Name:        "DEBIT_CREDIT",
			DisplayName: "Debit/Credit",
			IconName:    "credit_card",
			SortOrder:   0,
		},
		{
			ID:          CategoryMemberCard,
			Name:        "MEMBER_CARD",
			DisplayName: "Member Card",
			IconName:    "card_membership",
			SortOrder:   1,
		},
		{
			ID:          CategoryElectronicMoney,
			Name:        "ELECTRONIC_MONEY",
			DisplayName: "Electronic Money",
			IconName:    "account_balance_wallet",
			SortOrder:   2,
		},
	}
}

// Group is one category with its cards, the unit of the wallet view.
type Group struct {
	Category Category `json:"category"`
	Cards    []Card   `json:"cards"`
}
