package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"testing"
	"time"
)

type stubStore struct {
	accounts  map[AccountID]Account
	entries   []JournalEntry
	nextID    int
	lockOrder []AccountID
	failApply error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{accounts: make(map[AccountID]Account)}
}

func (store *stubStore) snapshot() stubStore {
	accounts := make(map[AccountID]Account, len(store.accounts))
	for id, account := range store.accounts {
		accounts[id] = account
	}
	entries := make([]JournalEntry, len(store.entries))
	copy(entries, store.entries)
	return stubStore{accounts: accounts, entries: entries, nextID: store.nextID}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	saved := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.accounts = saved.accounts
		store.entries = saved.entries
		store.nextID = saved.nextID
		return err
	}
	return nil
}

func (store *stubStore) nextIdentifier(prefix string) string {
	store.nextID++
	return prefix + "-" + strconv.Itoa(store.nextID)
}

func (store *stubStore) CreateAccount(_ context.Context, spec AccountSpec, createdAt time.Time) (Account, error) {
	for _, account := range store.accounts {
		if account.OwnerID == spec.OwnerID && account.Type == spec.Type {
			return Account{}, ErrAccountExists
		}
	}
	accountID, err := NewAccountID(store.nextIdentifier("acct"))
	if err != nil {
		return Account{}, err
	}
	account := Account{
		ID:        accountID,
		Name:      spec.Name,
		Type:      spec.Type,
		Nature:    spec.Nature,
		OwnerID:   spec.OwnerID,
		Currency:  spec.Currency,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	store.accounts[accountID] = account
	return account, nil
}

func (store *stubStore) GetOrCreateAccount(ctx context.Context, spec AccountSpec, createdAt time.Time) (Account, error) {
	if account, err := store.FindAccountByOwnerAndType(ctx, spec.OwnerID, spec.Type); err == nil {
		return account, nil
	}
	return store.CreateAccount(ctx, spec, createdAt)
}

func (store *stubStore) GetAccount(_ context.Context, accountID AccountID) (Account, error) {
	account, ok := store.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) FindAccountByOwnerAndType(_ context.Context, ownerID UserID, accountType AccountType) (Account, error) {
	for _, account := range store.accounts {
		if account.OwnerID == ownerID && account.Type == accountType {
			return account, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (store *stubStore) LockAccount(ctx context.Context, accountID AccountID) (Account, error) {
	store.lockOrder = append(store.lockOrder, accountID)
	return store.GetAccount(ctx, accountID)
}

func (store *stubStore) InsertJournalEntry(_ context.Context, header EntryHeader) (EntryID, error) {
	for _, entry := range store.entries {
		if entry.TransactionID == header.TransactionID {
			return EntryID{}, fmt.Errorf("stub insert: %w", ErrDuplicateTransaction)
		}
	}
	entryID, err := NewEntryID(store.nextIdentifier("entry"))
	if err != nil {
		return EntryID{}, err
	}
	store.entries = append(store.entries, JournalEntry{
		ID:            entryID,
		TransactionID: header.TransactionID,
		Description:   header.Description,
		ReferenceType: header.ReferenceType,
		ReferenceID:   header.ReferenceID,
		Metadata:      header.Metadata,
		CreatedAt:     header.CreatedAt,
	})
	return entryID, nil
}

func (store *stubStore) InsertJournalLines(_ context.Context, entryID EntryID, lines []LineInput, createdAt time.Time) error {
	for index := range store.entries {
		if store.entries[index].ID != entryID {
			continue
		}
		for _, line := range lines {
			store.nextID++
			store.entries[index].Lines = append(store.entries[index].Lines, JournalLine{
				ID:        int64(store.nextID),
				EntryID:   entryID,
				AccountID: line.AccountID,
				Type:      line.Type,
				Amount:    line.Amount,
				CreatedAt: createdAt,
			})
		}
		return nil
	}
	return ErrUnknownJournalEntry
}

func (store *stubStore) ApplyBalanceDelta(_ context.Context, accountID AccountID, delta SignedAmount, updatedAt time.Time) error {
	if store.failApply != nil {
		return store.failApply
	}
	account, ok := store.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Balance += delta
	account.Version++
	account.UpdatedAt = updatedAt
	store.accounts[accountID] = account
	return nil
}

func (store *stubStore) GetJournalEntry(_ context.Context, transactionID TransactionID) (JournalEntry, error) {
	for _, entry := range store.entries {
		if entry.TransactionID == transactionID {
			return entry, nil
		}
	}
	return JournalEntry{}, ErrUnknownJournalEntry
}

func (store *stubStore) ListJournalEntriesByReference(_ context.Context, referenceType string, referenceID string) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, entry := range store.entries {
		if entry.ReferenceType == referenceType && entry.ReferenceID == referenceID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (store *stubStore) ListAccountLines(_ context.Context, accountID AccountID, limit int) ([]JournalLine, error) {
	var out []JournalLine
	for _, entry := range store.entries {
		for _, line := range entry.Lines {
			if line.AccountID == accountID {
				out = append(out, line)
			}
		}
	}
	sort.Slice(out, func(left, right int) bool { return out[left].ID > out[right].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (store *stubStore) SumAccountLines(_ context.Context, accountID AccountID) (LineTotals, error) {
	var totals LineTotals
	for _, entry := range store.entries {
		for _, line := range entry.Lines {
			if line.AccountID != accountID {
				continue
			}
			if line.Type == LineDebit {
				totals.Debits += line.Amount.ToSigned()
			} else {
				totals.Credits += line.Amount.ToSigned()
			}
		}
	}
	return totals, nil
}

type failingStore struct {
	*stubStore
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	return &failingStore{stubStore: newStubStore(test), err: err}
}

func (store *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.err
}

func fixedClock() time.Time {
	return time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, fixedClock, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustAccount(test *testing.T, service *Service, name string, accountType AccountType, nature AccountNature, owner string) Account {
	test.Helper()
	var ownerID UserID
	if owner != "" {
		ownerID = mustUserID(test, owner)
	}
	account, err := service.CreateAccount(context.Background(), AccountSpec{
		Name:    name,
		Type:    accountType,
		Nature:  nature,
		OwnerID: ownerID,
	})
	if err != nil {
		test.Fatalf("create account %s: %v", name, err)
	}
	return account
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	value, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return value
}

func mustTransactionID(test *testing.T, raw string) TransactionID {
	test.Helper()
	value, err := NewTransactionID(raw)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	return value
}

func mustPositiveAmount(test *testing.T, raw int64) PositiveAmount {
	test.Helper()
	value, err := NewPositiveAmount(raw)
	if err != nil {
		test.Fatalf("positive amount: %v", err)
	}
	return value
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	value, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return value
}
