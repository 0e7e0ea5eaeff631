package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/n0obHere/lago-api/pkg/wallet"
	"go.uber.org/zap"
)

const (
	errorWalletNotFound      = "wallet_not_found"
	errorWalletTerminated    = "wallet_terminated"
	errorInvalidAmountFormat = "invalid_amount_format"
	errorInvalidWalletID     = "invalid_wallet_id"
	errorInvalidTransaction  = "invalid_transaction_id"
	errorInvalidSource       = "invalid_source"
	errorEmptyRequest        = "empty_request"
	errorInsufficientBalance = "insufficient_balance"
	errorUnknownTransaction  = "unknown_transaction"
	errorTransactionClosed   = "transaction_closed"
	errorConcurrencyConflict = "concurrency_conflict"
	errorBillingCollaborator = "billing_collaborator_failure"
	errorInternal            = "internal_error"

	defaultListLimit = 50
	maxListLimit     = 200
)

// Server exposes the wallet ledger over HTTP.
type Server struct {
	walletService *wallet.Service
	logger        *zap.Logger
}

// NewServer constructs an HTTP server for the wallet service.
func NewServer(walletService *wallet.Service, logger *zap.Logger) *Server {
	return &Server{walletService: walletService, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (server *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	router.POST("/wallet_transactions", server.createTransactions)
	router.POST("/wallet_transactions/:id/settle", server.settleTransaction)
	router.POST("/wallet_transactions/:id/fail", server.failTransaction)
	router.GET("/wallets/:id", server.getWallet)
	router.GET("/wallets/:id/transactions", server.listTransactions)
	router.POST("/wallets/:id/ongoing_balance", server.recomputeOngoing)

	return router
}

type createTransactionsRequest struct {
	WalletID                         string               `json:"wallet_id"`
	PaidCredits                      string               `json:"paid_credits"`
	GrantedCredits                   string               `json:"granted_credits"`
	VoidedCredits                    string               `json:"voided_credits"`
	ResetConsumedCredits             bool                 `json:"reset_consumed_credits"`
	InvoiceRequiresSuccessfulPayment *bool                `json:"invoice_requires_successful_payment"`
	Source                           string               `json:"source"`
	Metadata                         []metadataItemObject `json:"metadata"`
}

type metadataItemObject struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type createTransactionsResponse struct {
	Transactions []transactionObject `json:"wallet_transactions"`
	LegErrors    map[string]string   `json:"leg_errors,omitempty"`
}

type recomputeOngoingRequest struct {
	TotalUsageAmountCents        int64 `json:"total_usage_amount_cents"`
	PayInAdvanceUsageAmountCents int64 `json:"pay_in_advance_usage_amount_cents"`
}

type transactionObject struct {
	TransactionID                    string               `json:"lago_id"`
	WalletID                         string               `json:"lago_wallet_id"`
	TransactionType                  string               `json:"transaction_type"`
	Status                           string               `json:"status"`
	TransactionStatus                string               `json:"transaction_status"`
	Source                           string               `json:"source"`
	AmountCents                      int64                `json:"amount_cents"`
	CreditAmount                     string               `json:"credit_amount"`
	InvoiceRequiresSuccessfulPayment bool                 `json:"invoice_requires_successful_payment"`
	Metadata                         []metadataItemObject `json:"metadata"`
	SettledAtUnixUTC                 int64                `json:"settled_at_unix_utc,omitempty"`
	CreatedUnixUTC                   int64                `json:"created_at_unix_utc"`
}

type walletObject struct {
	WalletID                         string `json:"lago_id"`
	CustomerID                       string `json:"lago_customer_id"`
	Currency                         string `json:"currency"`
	RateAmount                       string `json:"rate_amount"`
	BalanceCents                     int64  `json:"balance_cents"`
	CreditsBalance                   string `json:"credits_balance"`
	OngoingBalanceCents              int64  `json:"ongoing_balance_cents"`
	CreditsOngoingBalance            string `json:"credits_ongoing_balance"`
	OngoingUsageBalanceCents         int64  `json:"ongoing_usage_balance_cents"`
	CreditsOngoingUsageBalance       string `json:"credits_ongoing_usage_balance"`
	ReadyToBeRefreshed               bool   `json:"ready_to_be_refreshed"`
	DepletedOngoingBalance           bool   `json:"depleted_ongoing_balance"`
	InvoiceRequiresSuccessfulPayment bool   `json:"invoice_requires_successful_payment"`
}

func (server *Server) createTransactions(ginContext *gin.Context) {
	var request createTransactionsRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidAmountFormat})
		return
	}
	result, err := server.walletService.CreateTransactions(ginContext.Request.Context(), wallet.CreateRequest{
		WalletID:                         request.WalletID,
		PaidCredits:                      request.PaidCredits,
		GrantedCredits:                   request.GrantedCredits,
		VoidedCredits:                    request.VoidedCredits,
		ResetConsumedCredits:             request.ResetConsumedCredits,
		InvoiceRequiresSuccessfulPayment: request.InvoiceRequiresSuccessfulPayment,
		Source:                           request.Source,
		Metadata:                         toMetadata(request.Metadata),
	})
	if err != nil {
		server.renderError(ginContext, err)
		return
	}
	response := createTransactionsResponse{
		Transactions: make([]transactionObject, 0, len(result.Transactions)),
	}
	for _, transaction := range result.Transactions {
		response.Transactions = append(response.Transactions, toTransactionObject(transaction))
	}
	if result.Failed() {
		response.LegErrors = map[string]string{}
		for leg, legErr := range result.LegErrors {
			response.LegErrors[string(leg)] = errorCode(legErr)
		}
		// Partial success still returns the committed entries.
		ginContext.JSON(http.StatusMultiStatus, response)
		return
	}
	ginContext.JSON(http.StatusOK, response)
}

func (server *Server) settleTransaction(ginContext *gin.Context) {
	transactionID, err := wallet.NewTransactionID(ginContext.Param("id"))
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidTransaction})
		return
	}
	settled, err := server.walletService.Settle(ginContext.Request.Context(), transactionID)
	if err != nil {
		server.renderError(ginContext, err)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"wallet_transaction": toTransactionObject(settled)})
}

func (server *Server) failTransaction(ginContext *gin.Context) {
	transactionID, err := wallet.NewTransactionID(ginContext.Param("id"))
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidTransaction})
		return
	}
	failed, err := server.walletService.Fail(ginContext.Request.Context(), transactionID)
	if err != nil {
		server.renderError(ginContext, err)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"wallet_transaction": toTransactionObject(failed)})
}

func (server *Server) getWallet(ginContext *gin.Context) {
	walletID, err := wallet.NewWalletID(ginContext.Param("id"))
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidWalletID})
		return
	}
	walletRecord, err := server.walletService.GetWallet(ginContext.Request.Context(), walletID)
	if err != nil {
		server.renderError(ginContext, err)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"wallet": toWalletObject(walletRecord)})
}

func (server *Server) listTransactions(ginContext *gin.Context) {
	walletID, err := wallet.NewWalletID(ginContext.Param("id"))
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidWalletID})
		return
	}
	limit := defaultListLimit
	if raw, ok := ginContext.GetQuery("limit"); ok {
		parsed, parseErr := parseLimit(raw)
		if parseErr != nil {
			ginContext.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}
	before := int64(0)
	if raw, ok := ginContext.GetQuery("before"); ok {
		parsed, parseErr := parseUnix(raw)
		if parseErr != nil {
			ginContext.JSON(http.StatusBadRequest, gin.H{"error": "invalid_before"})
			return
		}
		before = parsed
	}
	if before == 0 {
		before = time.Now().UTC().Unix()
	}
	transactions, err := server.walletService.ListTransactions(ginContext.Request.Context(), walletID, before, limit)
	if err != nil {
		server.renderError(ginContext, err)
		return
	}
	response := make([]transactionObject, 0, len(transactions))
	for _, transaction := range transactions {
		response = append(response, toTransactionObject(transaction))
	}
	ginContext.JSON(http.StatusOK, gin.H{"wallet_transactions": response})
}

func (server *Server) recomputeOngoing(ginContext *gin.Context) {
	walletID, err := wallet.NewWalletID(ginContext.Param("id"))
	if err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidWalletID})
		return
	}
	var request recomputeOngoingRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": "invalid_usage_amounts"})
		return
	}
	walletRecord, err := server.walletService.RecomputeOngoing(
		ginContext.Request.Context(),
		walletID,
		request.TotalUsageAmountCents,
		request.PayInAdvanceUsageAmountCents,
	)
	if err != nil {
		server.renderError(ginContext, err)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"wallet": toWalletObject(walletRecord)})
}

func (server *Server) renderError(ginContext *gin.Context, err error) {
	statusCode, code := mapToHTTPError(err)
	if statusCode == http.StatusInternalServerError && server.logger != nil {
		server.logger.Error("wallet request failed", zap.Error(err))
	}
	ginContext.JSON(statusCode, gin.H{"error": code})
}

func mapToHTTPError(source error) (int, string) {
	switch {
	case errors.Is(source, wallet.ErrInvalidWalletID):
		return http.StatusBadRequest, errorInvalidWalletID
	case errors.Is(source, wallet.ErrInvalidTransactionID):
		return http.StatusBadRequest, errorInvalidTransaction
	case errors.Is(source, wallet.ErrInvalidAmountFormat):
		return http.StatusBadRequest, errorInvalidAmountFormat
	case errors.Is(source, wallet.ErrInvalidSource):
		return http.StatusBadRequest, errorInvalidSource
	case errors.Is(source, wallet.ErrEmptyRequest):
		return http.StatusBadRequest, errorEmptyRequest
	case errors.Is(source, wallet.ErrWalletNotFound):
		return http.StatusNotFound, errorWalletNotFound
	case errors.Is(source, wallet.ErrUnknownTransaction):
		return http.StatusNotFound, errorUnknownTransaction
	case errors.Is(source, wallet.ErrWalletTerminated):
		return http.StatusUnprocessableEntity, errorWalletTerminated
	case errors.Is(source, wallet.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, errorInsufficientBalance
	case errors.Is(source, wallet.ErrTransactionClosed):
		return http.StatusUnprocessableEntity, errorTransactionClosed
	case errors.Is(source, wallet.ErrConcurrencyConflict):
		return http.StatusConflict, errorConcurrencyConflict
	case errors.Is(source, wallet.ErrBillingCollaborator):
		return http.StatusBadGateway, errorBillingCollaborator
	}
	return http.StatusInternalServerError, errorInternal
}

func errorCode(err error) string {
	_, code := mapToHTTPError(err)
	return code
}

func toMetadata(items []metadataItemObject) wallet.Metadata {
	if len(items) == 0 {
		return nil
	}
	metadata := make(wallet.Metadata, 0, len(items))
	for _, item := range items {
		metadata = append(metadata, wallet.MetadataItem{Key: item.Key, Value: item.Value})
	}
	return metadata
}

func fromMetadata(metadata wallet.Metadata) []metadataItemObject {
	items := make([]metadataItemObject, 0, len(metadata))
	for _, item := range metadata {
		items = append(items, metadataItemObject{Key: item.Key, Value: item.Value})
	}
	return items
}

func toTransactionObject(transaction wallet.Transaction) transactionObject {
	return transactionObject{
		TransactionID:                    transaction.TransactionID.String(),
		WalletID:                         transaction.WalletID.String(),
		TransactionType:                  transaction.Type.String(),
		Status:                           transaction.Status.String(),
		TransactionStatus:                transaction.TransactionStatus.String(),
		Source:                           transaction.Source.String(),
		AmountCents:                      transaction.AmountCents,
		CreditAmount:                     transaction.CreditAmount.String(),
		InvoiceRequiresSuccessfulPayment: transaction.InvoiceRequiresSuccessfulPayment,
		Metadata:                         fromMetadata(transaction.Metadata),
		SettledAtUnixUTC:                 transaction.SettledAtUnixUTC,
		CreatedUnixUTC:                   transaction.CreatedUnixUTC,
	}
}

func toWalletObject(walletRecord wallet.Wallet) walletObject {
	return walletObject{
		WalletID:                         walletRecord.WalletID.String(),
		CustomerID:                       walletRecord.CustomerID.String(),
		Currency:                         walletRecord.Currency,
		RateAmount:                       walletRecord.RateAmount.String(),
		BalanceCents:                     walletRecord.BalanceCents,
		CreditsBalance:                   walletRecord.CreditsBalance.String(),
		OngoingBalanceCents:              walletRecord.OngoingBalanceCents,
		CreditsOngoingBalance:            walletRecord.CreditsOngoingBalance.String(),
		OngoingUsageBalanceCents:         walletRecord.OngoingUsageBalanceCents,
		CreditsOngoingUsageBalance:       walletRecord.CreditsOngoingUsageBalance.String(),
		ReadyToBeRefreshed:               walletRecord.ReadyToBeRefreshed,
		DepletedOngoingBalance:           walletRecord.DepletedOngoingBalance,
		InvoiceRequiresSuccessfulPayment: walletRecord.InvoiceRequiresSuccessfulPayment,
	}
}

func parseLimit(raw string) (int, error) {
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		return defaultListLimit, nil
	}
	if limit > maxListLimit {
		return 0, errors.New("limit exceeds maximum")
	}
	return limit, nil
}

func parseUnix(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
