package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet mirrors the wallets table. Version guards concurrent balance
// writers.
type Wallet struct {
	WalletID                         string          `gorm:"type:uuid;primaryKey"`
	CustomerID                       string          `gorm:"not null;index:idx_wallets_customer"`
	Currency                         string          `gorm:"not null"`
	RateAmount                       decimal.Decimal `gorm:"type:numeric(30,15);not null"`
	BalanceCents                     int64           `gorm:"not null;default:0"`
	CreditsBalance                   decimal.Decimal `gorm:"type:numeric(30,5);not null;default:0"`
	OngoingUsageBalanceCents         int64           `gorm:"not null;default:0"`
	CreditsOngoingUsageBalance       decimal.Decimal `gorm:"type:numeric(30,5);not null;default:0"`
	OngoingBalanceCents              int64           `gorm:"not null;default:0"`
	CreditsOngoingBalance            decimal.Decimal `gorm:"type:numeric(30,5);not null;default:0"`
	ReadyToBeRefreshed               bool            `gorm:"not null;default:false;index:idx_wallets_ready"`
	DepletedOngoingBalance           bool            `gorm:"not null;default:false"`
	InvoiceRequiresSuccessfulPayment bool            `gorm:"not null;default:false"`
	Version                          int64           `gorm:"not null;default:0"`
	TerminatedAt                     *time.Time      `gorm:""`
	CreatedAt                        time.Time       `gorm:"not null"`
	UpdatedAt                        time.Time       `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

func (wallet *Wallet) BeforeCreate(tx *gorm.DB) error {
	if wallet.WalletID == "" {
		wallet.WalletID = uuid.NewString()
	}
	return nil
}

// WalletTransaction mirrors the wallet_transactions table. Rows are append
// only; status and settled_at are the single permitted transition.
type WalletTransaction struct {
	TransactionID                    string          `gorm:"type:uuid;primaryKey"`
	WalletID                         string          `gorm:"type:uuid;not null;index:idx_wallet_transactions_wallet_created,priority:1"`
	TransactionType                  string          `gorm:"not null"`
	Status                           string          `gorm:"not null"`
	TransactionStatus                string          `gorm:"not null"`
	Source                           string          `gorm:"not null"`
	AmountCents                      int64           `gorm:"not null"`
	CreditAmount                     decimal.Decimal `gorm:"type:numeric(30,5);not null"`
	InvoiceRequiresSuccessfulPayment bool            `gorm:"not null;default:false"`
	Metadata                         datatypes.JSON  `gorm:"type:jsonb;not null"`
	SettledAt                        *time.Time      `gorm:""`
	CreatedAt                        time.Time       `gorm:"not null;index:idx_wallet_transactions_wallet_created,priority:2"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

func (transaction *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}
