package ledger

const (
	operationCreateAccount = "create_account"
	operationEnsureAccount = "ensure_account"
	operationPost          = "post_transaction"

	operationStatusOK        = "ok"
	operationStatusError     = "error"
	operationStatusDuplicate = "duplicate"

	defaultLineListLimit = 100
	maxLineListLimit     = 1000
)
