package enums

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217 code accepted for rates and totals.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyINR Currency = "INR"
	CurrencyJPY Currency = "JPY"
)

var validCurrencies = values[Currency]{
	CurrencyUSD,
	CurrencyEUR,
	CurrencyGBP,
	CurrencyINR,
	CurrencyJPY,
}

// zero-decimal currencies; everything else uses cents
var minorUnits = map[Currency]int32{CurrencyJPY: 0}

func (v Currency) String() string {
	return string(v)
}

func (v Currency) IsValid() bool {
	return validCurrencies.has(v)
}

// MinorUnits is the number of decimal places the currency is quoted in.
func (v Currency) MinorUnits() int32 {
	if n, ok := minorUnits[v]; ok {
		return n
	}
	return 2
}

// Round rounds amount half away from zero to the currency's minor unit.
func (v Currency) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(v.MinorUnits())
}

// ParseCurrency accepts any letter case, e.g. "eur".
func ParseCurrency(value string) (Currency, error) {
	return validCurrencies.parse(strings.ToUpper(value), "currency")
}
