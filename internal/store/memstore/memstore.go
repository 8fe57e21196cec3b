// Package memstore keeps ledger and payment order state in process memory.
// Transactions hold one database-wide lock for their whole duration and
// commit by swapping in a modified copy, so they are serializable.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

const (
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectEntry     = "entry"
	errorSubjectOrder     = "order"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeUpdateStatus = "update_status"
)

// Database is the shared committed state.
type Database struct {
	mu        sync.Mutex
	committed *state
}

// New returns an empty Database.
func New() *Database {
	return &Database{committed: newState()}
}

// Orders returns a settlement.Store over the database.
func (database *Database) Orders() *OrderStore {
	return &OrderStore{database: database}
}

// Ledger returns a ledger.Store over the database.
func (database *Database) Ledger() *LedgerStore {
	return &LedgerStore{database: database}
}

// Ping reports the database as reachable.
func (database *Database) Ping(context.Context) error {
	return nil
}

func (database *Database) transact(fn func(working *state) error) error {
	database.mu.Lock()
	defer database.mu.Unlock()
	working := database.committed.clone()
	if err := fn(working); err != nil {
		return err
	}
	database.committed = working
	return nil
}

// session runs fn against the transaction's working state, or inside a
// fresh single-operation transaction when there is none.
type session struct {
	database *Database
	working  *state
}

func (current session) run(fn func(working *state) error) error {
	if current.working != nil {
		return fn(current.working)
	}
	return current.database.transact(fn)
}

type state struct {
	accounts map[ledger.AccountID]ledger.Account
	entries  []ledger.JournalEntry
	orders   map[settlement.MerchantTransactionID]settlement.PaymentOrder
	lineSeq  int64
}

func newState() *state {
	return &state{
		accounts: make(map[ledger.AccountID]ledger.Account),
		orders:   make(map[settlement.MerchantTransactionID]settlement.PaymentOrder),
	}
}

func (current *state) clone() *state {
	copied := &state{
		accounts: make(map[ledger.AccountID]ledger.Account, len(current.accounts)),
		entries:  make([]ledger.JournalEntry, len(current.entries)),
		orders:   make(map[settlement.MerchantTransactionID]settlement.PaymentOrder, len(current.orders)),
		lineSeq:  current.lineSeq,
	}
	for id, account := range current.accounts {
		copied.accounts[id] = account
	}
	for index, entry := range current.entries {
		lines := make([]ledger.JournalLine, len(entry.Lines))
		copy(lines, entry.Lines)
		entry.Lines = lines
		copied.entries[index] = entry
	}
	for id, order := range current.orders {
		copied.orders[id] = order
	}
	return copied
}

// OrderStore implements settlement.Store.
type OrderStore struct {
	database *Database
	working  *state
}

// WithTx runs fn in a transaction. A store already bound to a transaction
// joins it.
func (store *OrderStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore settlement.Store) error) error {
	if store.working != nil {
		return fn(ctx, store)
	}
	return store.database.transact(func(working *state) error {
		return fn(ctx, &OrderStore{database: store.database, working: working})
	})
}

// Ledger returns a ledger store sharing this store's transaction.
func (store *OrderStore) Ledger() ledger.Store {
	return &LedgerStore{database: store.database, working: store.working}
}

func (store *OrderStore) session() session {
	return session{database: store.database, working: store.working}
}

func (store *OrderStore) CreateOrder(_ context.Context, order settlement.PaymentOrder) error {
	return store.session().run(func(working *state) error {
		if _, exists := working.orders[order.ID]; exists {
			return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, settlement.ErrOrderExists)
		}
		order.GatewayPayload = cloneRaw(order.GatewayPayload)
		working.orders[order.ID] = order
		return nil
	})
}

func (store *OrderStore) GetOrder(_ context.Context, id settlement.MerchantTransactionID) (settlement.PaymentOrder, error) {
	var order settlement.PaymentOrder
	err := store.session().run(func(working *state) error {
		found, ok := working.orders[id]
		if !ok {
			return wrapStoreError(errorSubjectOrder, errorCodeGet, settlement.ErrUnknownOrder)
		}
		order = found
		return nil
	})
	return order, err
}

// LockOrder loads an order. The transaction already holds the database lock.
func (store *OrderStore) LockOrder(ctx context.Context, id settlement.MerchantTransactionID) (settlement.PaymentOrder, error) {
	return store.GetOrder(ctx, id)
}

func (store *OrderStore) UpdateOrderStatus(_ context.Context, transition settlement.OrderTransition) (bool, error) {
	applied := false
	err := store.session().run(func(working *state) error {
		order, ok := working.orders[transition.ID]
		if !ok {
			return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, settlement.ErrUnknownOrder)
		}
		if order.Status != transition.From {
			return nil
		}
		order.Status = transition.To
		order.UpdatedAt = transition.UpdatedAt
		if transition.GatewayTransactionID != "" {
			order.GatewayTransactionID = transition.GatewayTransactionID
		}
		if len(transition.GatewayPayload) > 0 {
			order.GatewayPayload = cloneRaw(transition.GatewayPayload)
		}
		working.orders[transition.ID] = order
		applied = true
		return nil
	})
	return applied, err
}

func (store *OrderStore) ListOrdersByStatus(_ context.Context, status settlement.OrderStatus, createdBefore time.Time, limit int) ([]settlement.PaymentOrder, error) {
	var orders []settlement.PaymentOrder
	err := store.session().run(func(working *state) error {
		for _, order := range working.orders {
			if order.Status == status && order.CreatedAt.Before(createdBefore) {
				orders = append(orders, order)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(left, right int) bool {
		if !orders[left].CreatedAt.Equal(orders[right].CreatedAt) {
			return orders[left].CreatedAt.Before(orders[right].CreatedAt)
		}
		return orders[left].ID.String() < orders[right].ID.String()
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// LedgerStore implements ledger.Store.
type LedgerStore struct {
	database *Database
	working  *state
}

// WithTx runs fn in a transaction. A store already bound to a transaction
// joins it.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.working != nil {
		return fn(ctx, store)
	}
	return store.database.transact(func(working *state) error {
		return fn(ctx, &LedgerStore{database: store.database, working: working})
	})
}

func (store *LedgerStore) session() session {
	return session{database: store.database, working: store.working}
}

func (store *LedgerStore) CreateAccount(_ context.Context, spec ledger.AccountSpec, createdAt time.Time) (ledger.Account, error) {
	var account ledger.Account
	err := store.session().run(func(working *state) error {
		if _, found := working.findAccount(spec.OwnerID, spec.Type); found {
			return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
		}
		created, err := working.insertAccount(spec, createdAt)
		if err != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
		}
		account = created
		return nil
	})
	return account, err
}

func (store *LedgerStore) GetOrCreateAccount(_ context.Context, spec ledger.AccountSpec, createdAt time.Time) (ledger.Account, error) {
	var account ledger.Account
	err := store.session().run(func(working *state) error {
		if existing, found := working.findAccount(spec.OwnerID, spec.Type); found {
			account = existing
			return nil
		}
		created, err := working.insertAccount(spec, createdAt)
		if err != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
		}
		account = created
		return nil
	})
	return account, err
}

func (store *LedgerStore) GetAccount(_ context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	var account ledger.Account
	err := store.session().run(func(working *state) error {
		found, ok := working.accounts[accountID]
		if !ok {
			return wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		account = found
		return nil
	})
	return account, err
}

func (store *LedgerStore) FindAccountByOwnerAndType(_ context.Context, ownerID ledger.UserID, accountType ledger.AccountType) (ledger.Account, error) {
	var account ledger.Account
	err := store.session().run(func(working *state) error {
		found, ok := working.findAccount(ownerID, accountType)
		if !ok {
			return wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		account = found
		return nil
	})
	return account, err
}

// LockAccount loads an account. The transaction already holds the database lock.
func (store *LedgerStore) LockAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return store.GetAccount(ctx, accountID)
}

func (store *LedgerStore) InsertJournalEntry(_ context.Context, header ledger.EntryHeader) (ledger.EntryID, error) {
	var entryID ledger.EntryID
	err := store.session().run(func(working *state) error {
		for _, entry := range working.entries {
			if entry.TransactionID == header.TransactionID {
				return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateTransaction)
			}
		}
		parsed, err := ledger.NewEntryID(uuid.NewString())
		if err != nil {
			return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
		}
		entryID = parsed
		working.entries = append(working.entries, ledger.JournalEntry{
			ID:            parsed,
			TransactionID: header.TransactionID,
			Description:   header.Description,
			ReferenceType: header.ReferenceType,
			ReferenceID:   header.ReferenceID,
			Metadata:      header.Metadata,
			CreatedAt:     header.CreatedAt,
		})
		return nil
	})
	return entryID, err
}

func (store *LedgerStore) InsertJournalLines(_ context.Context, entryID ledger.EntryID, lines []ledger.LineInput, createdAt time.Time) error {
	return store.session().run(func(working *state) error {
		for index := range working.entries {
			if working.entries[index].ID != entryID {
				continue
			}
			for _, line := range lines {
				if _, ok := working.accounts[line.AccountID]; !ok {
					return wrapStoreError(errorSubjectEntry, errorCodeInsert, ledger.ErrAccountNotFound)
				}
				working.lineSeq++
				working.entries[index].Lines = append(working.entries[index].Lines, ledger.JournalLine{
					ID:        working.lineSeq,
					EntryID:   entryID,
					AccountID: line.AccountID,
					Type:      line.Type,
					Amount:    line.Amount,
					CreatedAt: createdAt,
				})
			}
			return nil
		}
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, ledger.ErrUnknownJournalEntry)
	})
}

func (store *LedgerStore) ApplyBalanceDelta(_ context.Context, accountID ledger.AccountID, delta ledger.SignedAmount, updatedAt time.Time) error {
	return store.session().run(func(working *state) error {
		account, ok := working.accounts[accountID]
		if !ok {
			return wrapStoreError(errorSubjectAccount, errorCodeUpdateStatus, ledger.ErrAccountNotFound)
		}
		account.Balance += delta
		account.Version++
		account.UpdatedAt = updatedAt
		working.accounts[accountID] = account
		return nil
	})
}

func (store *LedgerStore) GetJournalEntry(_ context.Context, transactionID ledger.TransactionID) (ledger.JournalEntry, error) {
	var found ledger.JournalEntry
	err := store.session().run(func(working *state) error {
		for _, entry := range working.entries {
			if entry.TransactionID == transactionID {
				found = entry
				return nil
			}
		}
		return wrapStoreError(errorSubjectEntry, errorCodeGet, ledger.ErrUnknownJournalEntry)
	})
	return found, err
}

func (store *LedgerStore) ListJournalEntriesByReference(_ context.Context, referenceType string, referenceID string) ([]ledger.JournalEntry, error) {
	var entries []ledger.JournalEntry
	err := store.session().run(func(working *state) error {
		for _, entry := range working.entries {
			if entry.ReferenceType == referenceType && entry.ReferenceID == referenceID {
				entries = append(entries, entry)
			}
		}
		return nil
	})
	return entries, err
}

func (store *LedgerStore) ListAccountLines(_ context.Context, accountID ledger.AccountID, limit int) ([]ledger.JournalLine, error) {
	var lines []ledger.JournalLine
	err := store.session().run(func(working *state) error {
		for _, entry := range working.entries {
			for _, line := range entry.Lines {
				if line.AccountID == accountID {
					lines = append(lines, line)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(lines, func(left, right int) bool { return lines[left].ID > lines[right].ID })
	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	return lines, nil
}

func (store *LedgerStore) SumAccountLines(_ context.Context, accountID ledger.AccountID) (ledger.LineTotals, error) {
	var totals ledger.LineTotals
	err := store.session().run(func(working *state) error {
		for _, entry := range working.entries {
			for _, line := range entry.Lines {
				if line.AccountID != accountID {
					continue
				}
				if line.Type == ledger.LineDebit {
					totals.Debits += line.Amount.ToSigned()
				} else {
					totals.Credits += line.Amount.ToSigned()
				}
			}
		}
		return nil
	})
	return totals, err
}

func (current *state) findAccount(ownerID ledger.UserID, accountType ledger.AccountType) (ledger.Account, bool) {
	for _, account := range current.accounts {
		if account.OwnerID == ownerID && account.Type == accountType {
			return account, true
		}
	}
	return ledger.Account{}, false
}

func (current *state) insertAccount(spec ledger.AccountSpec, createdAt time.Time) (ledger.Account, error) {
	accountID, err := ledger.NewAccountID(uuid.NewString())
	if err != nil {
		return ledger.Account{}, err
	}
	account := ledger.Account{
		ID:        accountID,
		Name:      spec.Name,
		Type:      spec.Type,
		Nature:    spec.Nature,
		OwnerID:   spec.OwnerID,
		Currency:  spec.Currency,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	current.accounts[accountID] = account
	return account, nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	copied := make(json.RawMessage, len(raw))
	copy(copied, raw)
	return copied
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
