package wallet

import (
	"errors"
	"testing"
)

func TestNewCreditAmount(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "integer", input: "10", wantVal: "10"},
		{name: "trims spaces", input: " 5.00 ", wantVal: "5"},
		{name: "truncates to five decimals", input: "1.2345678", wantVal: "1.23456"},
		{name: "truncates not rounds", input: "0.999999", wantVal: "0.99999"},
		{name: "zero", input: "0", wantVal: "0"},
		{name: "negative", input: "-1", wantErr: ErrInvalidAmountFormat},
		{name: "garbage", input: "ten", wantErr: ErrInvalidAmountFormat},
		{name: "empty", input: "  ", wantErr: ErrInvalidAmountFormat},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			amount, err := NewCreditAmount(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if amount.String() != tc.wantVal {
				t.Fatalf("expected %q, got %q", tc.wantVal, amount.String())
			}
		})
	}
}

func TestNewRate(t *testing.T) {
	t.Parallel()
	_, err := NewRate("0")
	if !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate for zero, got %v", err)
	}
	_, err = NewRate("-0.5")
	if !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate for negative, got %v", err)
	}
	rate, err := NewRate("1.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate.String() != "1.5" {
		t.Fatalf("expected 1.5, got %s", rate.String())
	}
}

func TestRateConversions(t *testing.T) {
	t.Parallel()
	rate := mustRate(t, "1.0")
	if cents := rate.CentsForCredits(mustCredit(t, "5.00")); cents != 500 {
		t.Fatalf("expected 500 cents, got %d", cents)
	}
	mustDecimalEqual(t, "6", rate.CreditsForCents(600))

	halfRate := mustRate(t, "0.5")
	if cents := halfRate.CentsForCredits(mustCredit(t, "10")); cents != 500 {
		t.Fatalf("expected 500 cents at half rate, got %d", cents)
	}
	mustDecimalEqual(t, "10", halfRate.CreditsForCents(500))
}

func TestCreditAmountCentsRoundTrip(t *testing.T) {
	t.Parallel()
	// The stored credit amount is the truncated input; deriving cents from it
	// must reproduce the originally stored cents exactly.
	rate := mustRate(t, "1.0")
	for _, raw := range []string{"1.23456789", "0.00001", "42", "7.999999"} {
		amount := mustCredit(t, raw)
		first := rate.CentsForCredits(amount)
		stored, err := NewCreditAmountFromDecimal(amount.Decimal())
		if err != nil {
			t.Fatalf("re-store %s: %v", raw, err)
		}
		second := rate.CentsForCredits(stored)
		if first != second {
			t.Fatalf("round trip mismatch for %s: %d != %d", raw, first, second)
		}
	}
}

func TestParseTransactionEnums(t *testing.T) {
	t.Parallel()
	if _, err := ParseTransactionType("sideways"); !errors.Is(err, ErrInvalidTransactionType) {
		t.Fatalf("expected ErrInvalidTransactionType, got %v", err)
	}
	if _, err := ParseStatus("limbo"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := ParseTransactionStatus("gifted"); !errors.Is(err, ErrInvalidTransactionStatus) {
		t.Fatalf("expected ErrInvalidTransactionStatus, got %v", err)
	}
	if _, err := ParseSource("carrier-pigeon"); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
	source, err := ParseSource("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != SourceManual {
		t.Fatalf("expected empty source to default to manual, got %s", source)
	}
}

func TestWalletIDValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewWalletID("   "); !errors.Is(err, ErrInvalidWalletID) {
		t.Fatalf("expected ErrInvalidWalletID, got %v", err)
	}
	walletID := mustWalletID(t, " wallet-1 ")
	if walletID.String() != "wallet-1" {
		t.Fatalf("expected normalized id, got %q", walletID.String())
	}
}

func TestWalletOngoingDerivation(t *testing.T) {
	t.Parallel()
	walletRecord := Wallet{
		RateAmount:     mustRate(t, "1.0"),
		BalanceCents:   1000,
		CreditsBalance: mustCredit(t, "10").Decimal(),
	}
	walletRecord.setUsage(200)
	if walletRecord.OngoingBalanceCents != 800 {
		t.Fatalf("expected ongoing 800, got %d", walletRecord.OngoingBalanceCents)
	}
	mustDecimalEqual(t, "2", walletRecord.CreditsOngoingUsageBalance)
	mustDecimalEqual(t, "8", walletRecord.CreditsOngoingBalance)

	walletRecord.setUsage(1500)
	if walletRecord.OngoingBalanceCents != -500 {
		t.Fatalf("expected ongoing -500, got %d", walletRecord.OngoingBalanceCents)
	}
	mustDecimalEqual(t, "-5", walletRecord.CreditsOngoingBalance)
}
