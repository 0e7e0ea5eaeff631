package wallet

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Credit amounts are stored with five decimal places, always floored.
const creditAmountScale = 5

// Monetary amounts at the boundary are integers in minor currency units;
// the rate is quoted in full currency units per credit.
const currencySubunitFactor = 100

// WalletID identifies a wallet.
type WalletID struct {
	value string
}

// CustomerID identifies the customer a wallet belongs to.
type CustomerID struct {
	value string
}

// TransactionID identifies a ledger entry.
type TransactionID struct {
	value string
}

// NewWalletID validates and normalizes a wallet id.
func NewWalletID(raw string) (WalletID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return WalletID{}, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	return WalletID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id WalletID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id WalletID) IsZero() bool {
	return id.value == ""
}

// NewCustomerID validates and normalizes a customer id.
func NewCustomerID(raw string) (CustomerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CustomerID{}, fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	return CustomerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CustomerID) String() string {
	return id.value
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id TransactionID) IsZero() bool {
	return id.value == ""
}

// CreditAmount is a non-negative credit quantity floored to five decimals.
type CreditAmount struct {
	value decimal.Decimal
}

// NewCreditAmount parses a decimal string into a credit amount. The input is
// truncated, not rounded, to five fractional digits.
func NewCreditAmount(raw string) (CreditAmount, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CreditAmount{}, fmt.Errorf("%w: empty value", ErrInvalidAmountFormat)
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return CreditAmount{}, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, trimmed)
	}
	return NewCreditAmountFromDecimal(parsed)
}

// NewCreditAmountFromDecimal validates a decimal credit amount.
func NewCreditAmountFromDecimal(value decimal.Decimal) (CreditAmount, error) {
	if value.IsNegative() {
		return CreditAmount{}, fmt.Errorf("%w: must not be negative", ErrInvalidAmountFormat)
	}
	return CreditAmount{value: value.Truncate(creditAmountScale)}, nil
}

// Decimal returns the truncated credit quantity.
func (amount CreditAmount) Decimal() decimal.Decimal {
	return amount.value
}

// IsZero reports whether the amount is zero.
func (amount CreditAmount) IsZero() bool {
	return amount.value.IsZero()
}

// String renders the credit quantity.
func (amount CreditAmount) String() string {
	return amount.value.String()
}

// Rate is the price of one credit in full currency units. Fixed at wallet
// creation, strictly positive.
type Rate struct {
	value decimal.Decimal
}

// NewRate validates a rate string.
func NewRate(raw string) (Rate, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Rate{}, fmt.Errorf("%w: %q", ErrInvalidRate, raw)
	}
	return NewRateFromDecimal(parsed)
}

// NewRateFromDecimal validates a decimal rate.
func NewRateFromDecimal(value decimal.Decimal) (Rate, error) {
	if !value.IsPositive() {
		return Rate{}, fmt.Errorf("%w: must be positive", ErrInvalidRate)
	}
	return Rate{value: value}, nil
}

// Decimal returns the rate value.
func (rate Rate) Decimal() decimal.Decimal {
	return rate.value
}

// String renders the rate.
func (rate Rate) String() string {
	return rate.value.String()
}

// CentsForCredits converts a credit amount to minor currency units at this
// rate. Flooring keeps the conversion reproducible from the stored credit
// amount.
func (rate Rate) CentsForCredits(amount CreditAmount) int64 {
	return amount.Decimal().
		Mul(rate.value).
		Mul(decimal.NewFromInt(currencySubunitFactor)).
		Floor().
		IntPart()
}

// CreditsForCents converts minor currency units back to credits at this rate.
func (rate Rate) CreditsForCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).
		Div(rate.value.Mul(decimal.NewFromInt(currencySubunitFactor))).
		Truncate(creditAmountScale)
}

// TransactionType is the direction of a ledger entry.
type TransactionType string

const (
	TransactionTypeInbound  TransactionType = "inbound"
	TransactionTypeOutbound TransactionType = "outbound"
)

// ParseTransactionType validates a stored transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionTypeInbound, TransactionTypeOutbound:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// String returns the stored representation.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// Status is the settlement state of a ledger entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// ParseStatus validates a stored status.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusSettled, StatusFailed:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// String returns the stored representation.
func (status Status) String() string {
	return string(status)
}

// TransactionStatus is the business origin of a ledger entry.
type TransactionStatus string

const (
	TransactionStatusPurchased TransactionStatus = "purchased"
	TransactionStatusGranted   TransactionStatus = "granted"
	TransactionStatusVoided    TransactionStatus = "voided"
)

// ParseTransactionStatus validates a stored transaction status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case TransactionStatusPurchased, TransactionStatusGranted, TransactionStatusVoided:
		return TransactionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
}

// String returns the stored representation.
func (transactionStatus TransactionStatus) String() string {
	return string(transactionStatus)
}

// Source declares where a balance-affecting request originated.
type Source string

const (
	SourceManual    Source = "manual"
	SourceInterval  Source = "interval"
	SourceThreshold Source = "threshold"
)

// ParseSource validates a source, defaulting empty input to manual.
func ParseSource(raw string) (Source, error) {
	if strings.TrimSpace(raw) == "" {
		return SourceManual, nil
	}
	switch Source(raw) {
	case SourceManual, SourceInterval, SourceThreshold:
		return Source(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
}

// String returns the stored representation.
func (source Source) String() string {
	return string(source)
}

// MetadataItem is one key/value pair attached to a ledger entry.
type MetadataItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metadata is an ordered, non-deduplicated list of key/value pairs.
type Metadata []MetadataItem

// Wallet is a customer's prepaid credit account. Balances are mutated only
// through Service operations; the Version field guards concurrent writers.
type Wallet struct {
	WalletID                         WalletID
	CustomerID                       CustomerID
	Currency                         string
	RateAmount                       Rate
	BalanceCents                     int64
	CreditsBalance                   decimal.Decimal
	OngoingUsageBalanceCents         int64
	CreditsOngoingUsageBalance       decimal.Decimal
	OngoingBalanceCents              int64
	CreditsOngoingBalance            decimal.Decimal
	ReadyToBeRefreshed               bool
	DepletedOngoingBalance           bool
	InvoiceRequiresSuccessfulPayment bool
	Version                          int64
	TerminatedAtUnixUTC              int64
	CreatedUnixUTC                   int64
}

// Terminated reports whether the wallet no longer accepts mutations.
func (wallet Wallet) Terminated() bool {
	return wallet.TerminatedAtUnixUTC != 0
}

// refreshOngoing rederives the ongoing pair from the gross balance and the
// unreconciled usage. The ongoing balance may go negative.
func (wallet *Wallet) refreshOngoing() {
	wallet.OngoingBalanceCents = wallet.BalanceCents - wallet.OngoingUsageBalanceCents
	wallet.CreditsOngoingBalance = wallet.CreditsBalance.Sub(wallet.CreditsOngoingUsageBalance)
}

// setUsage replaces the unreconciled usage figures and rederives the ongoing
// pair.
func (wallet *Wallet) setUsage(usageCents int64) {
	wallet.OngoingUsageBalanceCents = usageCents
	wallet.CreditsOngoingUsageBalance = wallet.RateAmount.CreditsForCents(usageCents)
	wallet.refreshOngoing()
}

// clearDepletionIfRestored drops the depletion flag once a mutation has
// restored a positive ongoing balance. Recompute never clears the flag; only
// balance-restoring mutations do, inside their own atomic unit.
func (wallet *Wallet) clearDepletionIfRestored() {
	if wallet.DepletedOngoingBalance && wallet.OngoingBalanceCents > 0 {
		wallet.DepletedOngoingBalance = false
	}
}

// Transaction is a single immutable line in the wallet ledger. Only Status
// and SettledAtUnixUTC may change after creation, via Settle or Fail.
type Transaction struct {
	TransactionID                    TransactionID
	WalletID                         WalletID
	Type                             TransactionType
	Status                           Status
	TransactionStatus                TransactionStatus
	Source                           Source
	AmountCents                      int64
	CreditAmount                     CreditAmount
	InvoiceRequiresSuccessfulPayment bool
	Metadata                         Metadata
	SettledAtUnixUTC                 int64
	CreatedUnixUTC                   int64
}
