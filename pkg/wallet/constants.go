package wallet

const (
	operationCreate           = "create_transactions"
	operationIncrease         = "increase"
	operationRegisterPurchase = "register_purchase"
	operationVoid             = "void"
	operationRecompute        = "recompute_ongoing"
	operationSettle           = "settle"
	operationFail             = "fail"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// Bounded retry budget for wallet version conflicts.
	defaultConflictRetries = 3
)
