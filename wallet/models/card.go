package models

import (
	"fmt"
	"strings"
)

type CardType string

const (
	CardTypeVisa       CardType = "VISA"
	CardTypeMastercard CardType = "MASTERCARD"
)

// ParseCardType accepts the card type in any letter case.
func ParseCardType(s string) (CardType, error) {
	switch t := CardType(strings.ToUpper(strings.TrimSpace(s))); t {
	case CardTypeVisa, CardTypeMastercard:
		return t, nil
	default:
		return "", fmt.Errorf("unknown card type %q", s)
	}
}

// Card is a stored card record. CardNumber and MaskedNumber only ever hold
// masked display forms.
type Card struct {
	ID           string   `json:"id"`
	BankName     string   `json:"bank_name"`
	CardType     CardType `json:"card_type"`
	CardNumber   string   `json:"card_number"`
	MaskedNumber string   `json:"masked_number"`
	// CardHolder may be empty
	CardHolder string `json:"card_holder"`
	CategoryID string `json:"category_id"`
	ColorHex   string `json:"color_hex"`
	IsDefault  bool   `json:"is_default"`
}

// CreateCard is the request body for adding a card. Number is the number as
// typed; only its masked forms are kept.
type CreateCard struct {
	BankName   string `json:"bank_name"`
	CardType   string `json:"card_type"`
	Number     string `json:"number"`
	CardHolder string `json:"card_holder"`
	CategoryID string `json:"category_id"`
	ColorHex   string `json:"color_hex"`
	IsDefault  bool   `json:"is_default"`
}
