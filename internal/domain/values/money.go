package values

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 currency code
type Currency string

// Supported currency codes. USD and COP are the marketplace's settlement
// currencies; the others are accepted on bids and converted.
const (
	USD Currency = "USD"
	COP Currency = "COP"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	MXN Currency = "MXN"
	CAD Currency = "CAD"
)

var knownCurrencies = map[Currency]struct{}{
	USD: {}, COP: {}, EUR: {}, GBP: {}, MXN: {}, CAD: {},
	"BRL": {}, "PEN": {}, "CLP": {}, "ARS": {},
}

// ParseCurrency normalizes and validates a currency code
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

// Validate checks the code against the known currency set
func (c Currency) Validate() error {
	if c == "" {
		return fmt.Errorf("currency cannot be empty")
	}
	if len(c) != 3 {
		return fmt.Errorf("currency code must be 3 characters")
	}
	if _, ok := knownCurrencies[c]; !ok {
		return fmt.Errorf("unsupported currency: %s", string(c))
	}
	return nil
}

func (c Currency) String() string {
	return string(c)
}

// Money represents a monetary value with currency and precision handling
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney creates a new Money value object
func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if err := currency.Validate(); err != nil {
		return Money{}, err
	}

	return Money{
		amount:   amount,
		currency: currency,
	}, nil
}

// NewMoneyFromString creates Money from string amount and currency
func NewMoneyFromString(amount string, currency Currency) (Money, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount: %w", err)
	}

	return NewMoney(dec, currency)
}

// NewMoneyFromFloat creates Money from float64 amount and currency
// Note: Use with caution due to floating point precision issues
func NewMoneyFromFloat(amount float64, currency Currency) (Money, error) {
	return NewMoney(decimal.NewFromFloat(amount), currency)
}

// MustNewMoney creates Money and panics on error (for constants/tests)
func MustNewMoney(amount decimal.Decimal, currency Currency) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// MustNewMoneyFromFloat creates Money from float and panics on error (for constants/tests)
func MustNewMoneyFromFloat(amount float64, currency Currency) Money {
	m, err := NewMoneyFromFloat(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero Money value in the given currency
func Zero(currency Currency) Money {
	return MustNewMoney(decimal.Zero, currency)
}

// Amount returns the decimal amount
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency returns the currency code
func (m Money) Currency() Currency {
	return m.currency
}

// String returns formatted money string (e.g., "$123.45")
func (m Money) String() string {
	return getCurrencySymbol(m.currency) + m.amount.StringFixed(m.currency.Places())
}

// StringWithCode returns money with currency code (e.g., "123.45 USD")
func (m Money) StringWithCode() string {
	return m.amount.StringFixed(m.currency.Places()) + " " + string(m.currency)
}

// IsZero checks if the amount is zero
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// IsPositive checks if the amount is positive
func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

// Equal checks if two Money values are equal (same amount and currency)
func (m Money) Equal(other Money) bool {
	return m.amount.Equal(other.amount) && m.currency == other.currency
}

// Compare returns -1, 0, or 1 based on comparison with other Money
// Panics if currencies don't match
func (m Money) Compare(other Money) int {
	if m.currency != other.currency {
		panic(fmt.Sprintf("cannot compare different currencies: %s vs %s", m.currency, other.currency))
	}
	return m.amount.Cmp(other.amount)
}

// Add adds two Money values (must have same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot add different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Mul multiplies Money by a decimal factor
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor), currency: m.currency}
}

// Convert returns the amount expressed in another currency using rate
// (units of target per unit of m's currency).
func (m Money) Convert(to Currency, rate decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(rate), currency: to}
}

// RoundToUnit rounds to the nearest whole unit of the currency
func (m Money) RoundToUnit() Money {
	return Money{amount: m.amount.Round(0), currency: m.currency}
}

// ToFloat64 converts to float64 (use with caution for precision)
func (m Money) ToFloat64() float64 {
	f, _ := m.amount.Float64()
	return f
}

// MarshalJSON encodes the amount as a string to keep precision
func (m Money) MarshalJSON() ([]byte, error) {
	data := struct {
		Amount   string   `json:"amount"`
		Currency Currency `json:"currency"`
	}{
		Amount:   m.amount.String(),
		Currency: m.currency,
	}
	return json.Marshal(data)
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var temp struct {
		Amount   string   `json:"amount"`
		Currency Currency `json:"currency"`
	}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	money, err := NewMoneyFromString(temp.Amount, temp.Currency)
	if err != nil {
		return err
	}

	*m = money
	return nil
}

// Places is the number of minor-unit digits; COP has no minor unit in practice.
func (c Currency) Places() int32 {
	switch c {
	case COP, "CLP":
		return 0
	default:
		return 2
	}
}

func getCurrencySymbol(currency Currency) string {
	symbols := map[Currency]string{
		USD: "$",
		COP: "COL$",
		EUR: "€",
		GBP: "£",
		CAD: "C$",
		MXN: "MX$",
	}

	if symbol, ok := symbols[currency]; ok {
		return symbol
	}
	return string(currency) + " "
}
