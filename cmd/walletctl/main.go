// Command walletctl adds a card to a running wallet server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alovak/cardwallet/internal/cardfmt"
	"github.com/alovak/cardwallet/internal/walletclient"
	"github.com/alovak/cardwallet/wallet/models"
)

var (
	flagServer     = flag.String("server", "http://127.0.0.1:9090", "wallet server base URL")
	flagBank       = flag.String("bank", "", "issuing bank name")
	flagType       = flag.String("type", "visa", "card type: visa|mastercard")
	flagNumber     = flag.String("number", "", "card number as printed")
	flagHolder     = flag.String("holder", "", "cardholder name")
	flagCategory   = flag.String("category", models.CategoryDebitCredit, "category id")
	flagColor      = flag.String("color", "", "card color as #RRGGBB")
	flagDefault    = flag.Bool("default", false, "make this the default card")
	flagShowOnly   = flag.Bool("print", false, "print JSON only, do not POST")
	flagShowWallet = flag.Bool("wallet", false, "print the wallet after adding")
)

func main() {
	flag.Parse()
	if *flagBank == "" {
		fail("-bank is required")
	}
	cardType := must1(models.ParseCardType(*flagType))
	number := cardfmt.NormalizeNumber(*flagNumber)
	must(cardfmt.ValidateNumber(number))
	if *flagColor != "" && !cardfmt.ValidColorHex(*flagColor) {
		fail("-color must look like #RRGGBB")
	}

	create := models.CreateCard{
		BankName:   strings.TrimSpace(*flagBank),
		CardType:   string(cardType),
		Number:     number,
		CardHolder: normalizeHolder(*flagHolder),
		CategoryID: *flagCategory,
		ColorHex:   *flagColor,
		IsDefault:  *flagDefault,
	}

	if *flagShowOnly {
		shown := create
		shown.Number = cardfmt.MaskGrouped(number)
		enc, _ := json.MarshalIndent(shown, "", "  ")
		fmt.Println(string(enc))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cli := walletclient.New(*flagServer, nil)
	card := must1(cli.CreateCard(ctx, create))
	fmt.Printf("added %s %s %s (id %s)\n", card.BankName, card.CardType, card.CardNumber, card.ID)

	if *flagShowWallet {
		groups := must1(cli.Wallet(ctx))
		for _, g := range groups {
			fmt.Printf("%s (%d)\n", g.Category.DisplayName, len(g.Cards))
			for _, c := range g.Cards {
				mark := " "
				if c.IsDefault {
					mark = "*"
				}
				fmt.Printf("  %s %s %s\n", mark, c.BankName, c.MaskedNumber)
			}
		}
	}
}

// maxHolderLen is the number of characters that fit on a card face.
const maxHolderLen = 26

// normalizeHolder upper-cases the name, collapses whitespace and cuts it to
// what fits on a card face.
func normalizeHolder(name string) string {
	normalized := strings.Join(strings.Fields(name), " ")
	if normalized == "" {
		return ""
	}
	up := []rune(strings.ToUpper(normalized))
	if len(up) > maxHolderLen {
		up = up[:maxHolderLen]
	}
	return string(up)
}

func must(err error) {
	if err != nil {
		fail("%v", err)
	}
}

func must1[T any](v T, err error) T {
	if err != nil {
		fail("%v", err)
	}
	return v
}

func fail(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
