package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service contains the double-entry domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() time.Time
	logger OperationLogger
}

// BalanceCheck compares a stored balance with the one projected from lines.
type BalanceCheck struct {
	AccountID AccountID
	Stored    SignedAmount
	Projected SignedAmount
}

// Consistent reports whether the stored balance matches the projection.
func (check BalanceCheck) Consistent() bool {
	return check.Stored == check.Projected
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// WithStore returns a copy of the service bound to another store, typically
// a transaction-scoped one handed out by Store.WithTx.
func (service *Service) WithStore(store Store) *Service {
	bound := *service
	bound.store = store
	return &bound
}

// CreateAccount inserts a new account with a zero balance.
func (service *Service) CreateAccount(ctx context.Context, spec AccountSpec) (Account, error) {
	validated, err := NewAccountSpec(spec.Name, spec.Type, spec.Nature, spec.OwnerID, spec.Currency)
	if err != nil {
		return Account{}, err
	}
	account, operationError := service.store.CreateAccount(ctx, validated, service.nowFn().UTC())
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateAccount,
		AccountID: account.ID,
		Error:     operationError,
	})
	return account, operationError
}

// EnsureAccount returns the account for (owner, type), creating it when absent.
// Concurrent callers converge on one row.
func (service *Service) EnsureAccount(ctx context.Context, spec AccountSpec) (Account, error) {
	validated, err := NewAccountSpec(spec.Name, spec.Type, spec.Nature, spec.OwnerID, spec.Currency)
	if err != nil {
		return Account{}, err
	}
	account, operationError := service.store.GetOrCreateAccount(ctx, validated, service.nowFn().UTC())
	if operationError != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationEnsureAccount,
			AccountID: account.ID,
			Error:     operationError,
		})
		return Account{}, operationError
	}
	if account.Nature != validated.Nature {
		return Account{}, WrapError("service", "ensure_account", "nature_mismatch",
			fmt.Errorf("%w: existing %s account is %s", ErrInvalidAccountNature, account.Type, account.Nature))
	}
	return account, nil
}

// GetAccount loads an account by id.
func (service *Service) GetAccount(ctx context.Context, accountID AccountID) (Account, error) {
	return service.store.GetAccount(ctx, accountID)
}

// GetAccountByOwnerAndType loads the account an owner holds for a type.
func (service *Service) GetAccountByOwnerAndType(ctx context.Context, ownerID UserID, accountType AccountType) (Account, error) {
	return service.store.FindAccountByOwnerAndType(ctx, ownerID, accountType)
}

// GetJournalEntry loads a committed entry and its lines by transaction id.
func (service *Service) GetJournalEntry(ctx context.Context, transactionID TransactionID) (JournalEntry, error) {
	return service.store.GetJournalEntry(ctx, transactionID)
}

// ListJournalEntriesByReference lists entries posted for an external reference.
func (service *Service) ListJournalEntriesByReference(ctx context.Context, referenceType string, referenceID string) ([]JournalEntry, error) {
	return service.store.ListJournalEntriesByReference(ctx, referenceType, referenceID)
}

// ListAccountLines returns the most recent lines posted to an account.
func (service *Service) ListAccountLines(ctx context.Context, accountID AccountID, limit int) ([]JournalLine, error) {
	if limit <= 0 {
		limit = defaultLineListLimit
	}
	if limit > maxLineListLimit {
		limit = maxLineListLimit
	}
	return service.store.ListAccountLines(ctx, accountID, limit)
}

// PostTransaction atomically records a balanced entry and applies every
// line's signed delta to its account. A transaction id that was already
// posted yields ErrDuplicateTransaction and changes nothing.
func (service *Service) PostTransaction(ctx context.Context, input PostingInput) (JournalEntry, error) {
	posting, err := NewPosting(input)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:     operationPost,
			TransactionID: input.TransactionID,
			ReferenceType: input.ReferenceType,
			ReferenceID:   input.ReferenceID,
			Error:         err,
		})
		return JournalEntry{}, err
	}
	var posted JournalEntry
	operationError := service.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, transactionStore Store) error {
		accounts := make(map[AccountID]Account, len(posting.accountIDs))
		var currency string
		for _, accountID := range posting.AccountIDs() {
			account, err := transactionStore.LockAccount(ctx, accountID)
			if err != nil {
				return err
			}
			if currency == "" {
				currency = account.Currency
			} else if account.Currency != currency {
				return fmt.Errorf("%w: currency %s does not match %s", ErrInvalidLine, account.Currency, currency)
			}
			accounts[accountID] = account
		}
		createdAt := service.nowFn().UTC()
		header := posting.Header(createdAt)
		entryID, err := transactionStore.InsertJournalEntry(ctx, header)
		if err != nil {
			return err
		}
		lines := posting.Lines()
		if err := transactionStore.InsertJournalLines(ctx, entryID, lines, createdAt); err != nil {
			return err
		}
		deltas := make(map[AccountID]SignedAmount, len(accounts))
		journalLines := make([]JournalLine, 0, len(lines))
		for _, line := range lines {
			delta, err := SignedDelta(accounts[line.AccountID].Nature, line.Type, line.Amount)
			if err != nil {
				return err
			}
			deltas[line.AccountID] += delta
			journalLines = append(journalLines, JournalLine{
				EntryID:   entryID,
				AccountID: line.AccountID,
				Type:      line.Type,
				Amount:    line.Amount,
				CreatedAt: createdAt,
			})
		}
		for _, accountID := range posting.AccountIDs() {
			if err := transactionStore.ApplyBalanceDelta(ctx, accountID, deltas[accountID], createdAt); err != nil {
				return err
			}
		}
		posted = JournalEntry{
			ID:            entryID,
			TransactionID: header.TransactionID,
			Description:   header.Description,
			ReferenceType: header.ReferenceType,
			ReferenceID:   header.ReferenceID,
			Metadata:      header.Metadata,
			CreatedAt:     createdAt,
			Lines:         journalLines,
		}
		return nil
	})
	logEntry := OperationLog{
		Operation:     operationPost,
		TransactionID: posting.input.TransactionID,
		ReferenceType: posting.input.ReferenceType,
		ReferenceID:   posting.input.ReferenceID,
		Amount:        posting.Total().ToSigned(),
		Error:         operationError,
	}
	if errors.Is(operationError, ErrDuplicateTransaction) {
		logEntry.Status = operationStatusDuplicate
	}
	service.logOperation(ctx, logEntry)
	if operationError != nil {
		return JournalEntry{}, operationError
	}
	return posted, nil
}

// VerifyAccountBalance recomputes an account balance from its lines.
func (service *Service) VerifyAccountBalance(ctx context.Context, accountID AccountID) (BalanceCheck, error) {
	var check BalanceCheck
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		totals, err := transactionStore.SumAccountLines(ctx, accountID)
		if err != nil {
			return err
		}
		check = BalanceCheck{
			AccountID: accountID,
			Stored:    account.Balance,
			Projected: ProjectBalance(account.Nature, totals),
		}
		return nil
	})
	if err != nil {
		return BalanceCheck{}, err
	}
	return check, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
