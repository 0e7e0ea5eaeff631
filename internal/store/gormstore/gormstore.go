package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/n0obHere/lago-api/pkg/wallet"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON   = "[]"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectWallet    = "wallet"
	errorSubjectEntry     = "transaction"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeDuplicate    = "duplicate"
	errorCodeUpdate       = "update"
	errorCodeUpdateStatus = "update_status"
)

// Store implements wallet.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Used for sqlite; postgres deployments migrate
// out of band.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Wallet{}, &WalletTransaction{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetWallet(ctx context.Context, walletID wallet.WalletID) (wallet.Wallet, error) {
	return store.getWallet(ctx, walletID, false)
}

func (store *Store) GetWalletForUpdate(ctx context.Context, walletID wallet.WalletID) (wallet.Wallet, error) {
	return store.getWallet(ctx, walletID, true)
}

func (store *Store) getWallet(ctx context.Context, walletID wallet.WalletID, forUpdate bool) (wallet.Wallet, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Wallet
	err := query.Where("wallet_id = ?", walletID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, wallet.ErrWalletNotFound)
		}
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	mapped, err := mapWallet(model)
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return mapped, nil
}

// UpdateWalletBalances writes the wallet's mutable fields guarded by the
// version the caller read. Zero rows affected means a concurrent writer won.
func (store *Store) UpdateWalletBalances(ctx context.Context, walletRecord wallet.Wallet) error {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("wallet_id = ? AND version = ?", walletRecord.WalletID.String(), walletRecord.Version).
		Updates(map[string]interface{}{
			"balance_cents":                 walletRecord.BalanceCents,
			"credits_balance":               walletRecord.CreditsBalance,
			"ongoing_usage_balance_cents":   walletRecord.OngoingUsageBalanceCents,
			"credits_ongoing_usage_balance": walletRecord.CreditsOngoingUsageBalance,
			"ongoing_balance_cents":         walletRecord.OngoingBalanceCents,
			"credits_ongoing_balance":       walletRecord.CreditsOngoingBalance,
			"ready_to_be_refreshed":         walletRecord.ReadyToBeRefreshed,
			"depleted_ongoing_balance":      walletRecord.DepletedOngoingBalance,
			"version":                       walletRecord.Version + 1,
			"updated_at":                    time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdate, wallet.ErrConcurrencyConflict)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction wallet.Transaction) error {
	metadata, err := metadataJSON(transaction.Metadata)
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	var settledAt *time.Time
	if transaction.SettledAtUnixUTC != 0 {
		value := time.Unix(transaction.SettledAtUnixUTC, 0).UTC()
		settledAt = &value
	}
	model := WalletTransaction{
		TransactionID:                    transaction.TransactionID.String(),
		WalletID:                         transaction.WalletID.String(),
		TransactionType:                  transaction.Type.String(),
		Status:                           transaction.Status.String(),
		TransactionStatus:                transaction.TransactionStatus.String(),
		Source:                           transaction.Source.String(),
		AmountCents:                      transaction.AmountCents,
		CreditAmount:                     transaction.CreditAmount.Decimal(),
		InvoiceRequiresSuccessfulPayment: transaction.InvoiceRequiresSuccessfulPayment,
		Metadata:                         metadata,
		SettledAt:                        settledAt,
		CreatedAt:                        time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetTransactionForUpdate(ctx context.Context, transactionID wallet.TransactionID) (wallet.Transaction, error) {
	var model WalletTransaction
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", transactionID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Transaction{}, wrapStoreError(errorSubjectEntry, errorCodeGet, wallet.ErrUnknownTransaction)
		}
		return wallet.Transaction{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	mapped, err := mapTransaction(model)
	if err != nil {
		return wallet.Transaction{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) UpdateTransactionStatus(ctx context.Context, transactionID wallet.TransactionID, from wallet.Status, to wallet.Status, settledUnixUTC int64) error {
	updates := map[string]interface{}{"status": to.String()}
	if settledUnixUTC != 0 {
		updates["settled_at"] = time.Unix(settledUnixUTC, 0).UTC()
	}
	result := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Where("transaction_id = ? AND status = ?", transactionID.String(), from.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, wallet.ErrTransactionClosed)
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, walletID wallet.WalletID, beforeUnixUTC int64, limit int) ([]wallet.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []WalletTransaction
	err := store.db.WithContext(ctx).
		Where("wallet_id = ? AND created_at < ?", walletID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	transactions := make([]wallet.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) ListWalletsReadyToRefresh(ctx context.Context, limit int) ([]wallet.Wallet, error) {
	var rows []Wallet
	err := store.db.WithContext(ctx).
		Where("ready_to_be_refreshed = ? AND terminated_at IS NULL", true).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectWallet, errorCodeList, err)
	}
	wallets := make([]wallet.Wallet, 0, len(rows))
	for _, row := range rows {
		mapped, err := mapWallet(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
		}
		wallets = append(wallets, mapped)
	}
	return wallets, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func mapWallet(model Wallet) (wallet.Wallet, error) {
	walletID, err := wallet.NewWalletID(model.WalletID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	customerID, err := wallet.NewCustomerID(model.CustomerID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	rate, err := wallet.NewRateFromDecimal(model.RateAmount)
	if err != nil {
		return wallet.Wallet{}, err
	}
	return wallet.Wallet{
		WalletID:                         walletID,
		CustomerID:                       customerID,
		Currency:                         model.Currency,
		RateAmount:                       rate,
		BalanceCents:                     model.BalanceCents,
		CreditsBalance:                   model.CreditsBalance,
		OngoingUsageBalanceCents:         model.OngoingUsageBalanceCents,
		CreditsOngoingUsageBalance:       model.CreditsOngoingUsageBalance,
		OngoingBalanceCents:              model.OngoingBalanceCents,
		CreditsOngoingBalance:            model.CreditsOngoingBalance,
		ReadyToBeRefreshed:               model.ReadyToBeRefreshed,
		DepletedOngoingBalance:           model.DepletedOngoingBalance,
		InvoiceRequiresSuccessfulPayment: model.InvoiceRequiresSuccessfulPayment,
		Version:                          model.Version,
		TerminatedAtUnixUTC:              timeOrZero(model.TerminatedAt),
		CreatedUnixUTC:                   model.CreatedAt.Unix(),
	}, nil
}

func mapTransaction(model WalletTransaction) (wallet.Transaction, error) {
	transactionID, err := wallet.NewTransactionID(model.TransactionID)
	if err != nil {
		return wallet.Transaction{}, err
	}
	walletID, err := wallet.NewWalletID(model.WalletID)
	if err != nil {
		return wallet.Transaction{}, err
	}
	transactionType, err := wallet.ParseTransactionType(model.TransactionType)
	if err != nil {
		return wallet.Transaction{}, err
	}
	status, err := wallet.ParseStatus(model.Status)
	if err != nil {
		return wallet.Transaction{}, err
	}
	transactionStatus, err := wallet.ParseTransactionStatus(model.TransactionStatus)
	if err != nil {
		return wallet.Transaction{}, err
	}
	source, err := wallet.ParseSource(model.Source)
	if err != nil {
		return wallet.Transaction{}, err
	}
	creditAmount, err := wallet.NewCreditAmountFromDecimal(model.CreditAmount)
	if err != nil {
		return wallet.Transaction{}, err
	}
	metadata, err := parseMetadata(model.Metadata)
	if err != nil {
		return wallet.Transaction{}, err
	}
	return wallet.Transaction{
		TransactionID:                    transactionID,
		WalletID:                         walletID,
		Type:                             transactionType,
		Status:                           status,
		TransactionStatus:                transactionStatus,
		Source:                           source,
		AmountCents:                      model.AmountCents,
		CreditAmount:                     creditAmount,
		InvoiceRequiresSuccessfulPayment: model.InvoiceRequiresSuccessfulPayment,
		Metadata:                         metadata,
		SettledAtUnixUTC:                 timeOrZero(model.SettledAt),
		CreatedUnixUTC:                   model.CreatedAt.Unix(),
	}, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func metadataJSON(metadata wallet.Metadata) (datatypes.JSON, error) {
	if len(metadata) == 0 {
		return datatypes.JSON([]byte(defaultMetadataJSON)), nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func parseMetadata(raw datatypes.JSON) (wallet.Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var metadata wallet.Metadata
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
