// Package pgstore implements the ledger and order stores directly on a pgx
// connection pool.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

//go:embed schema.sql
var schemaSQL string

const (
	constraintAccountsOwnerType    = "accounts_owner_id_type_key"
	constraintEntriesTransactionID = "journal_entries_transaction_id_key"
	constraintPaymentOrdersPrimary = "payment_orders_pkey"
	pgUniqueViolationCode          = "23505"
	pgLockNotAvailableCode         = "55P03"
	pgDeadlockDetectedCode         = "40P01"
	errorOperationStore            = "store"
	errorSubjectAccount            = "account"
	errorSubjectBalance            = "balance"
	errorSubjectEntry              = "entry"
	errorSubjectLine               = "line"
	errorSubjectOrder              = "order"
	errorSubjectSchema             = "schema"
	errorSubjectTransaction        = "transaction"
	errorCodeApply                 = "apply"
	errorCodeBegin                 = "begin"
	errorCodeCommit                = "commit"
	errorCodeCreate                = "create"
	errorCodeDuplicate             = "duplicate"
	errorCodeGet                   = "get"
	errorCodeInsert                = "insert"
	errorCodeInvalid               = "invalid"
	errorCodeList                  = "list"
	errorCodeLock                  = "lock"
	errorCodeLookup                = "lookup"
	errorCodeSum                   = "sum"
	errorCodeUpdate                = "update"
	errorCodeUpdateStatus          = "update_status"

	accountColumns = `account_id::text, name, type, nature, owner_id, currency, balance, version, created_at, updated_at`
	entryColumns   = `entry_id::text, transaction_id, description, reference_type, reference_id, metadata::text, created_at`
	lineColumns    = `line_id, entry_id::text, account_id::text, type, amount, created_at`
	orderColumns   = `merchant_transaction_id, user_id, amount, currency, status, gateway_transaction_id, coalesce(gateway_payload::text,''), created_at, updated_at`

	sqlInsertAccount = `
		insert into accounts(name, type, nature, owner_id, currency, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $6)
		returning ` + accountColumns

	sqlInsertAccountIfAbsent = `
		insert into accounts(name, type, nature, owner_id, currency, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $6)
		on conflict (owner_id, type) do nothing
	`

	sqlSelectAccount            = `select ` + accountColumns + ` from accounts where account_id = $1`
	sqlSelectAccountForUpdate   = sqlSelectAccount + ` for update`
	sqlSelectAccountByOwnerType = `select ` + accountColumns + ` from accounts where owner_id = $1 and type = $2`

	sqlApplyBalanceDelta = `
		update accounts set balance = balance + $2, version = version + 1, updated_at = $3
		where account_id = $1
	`

	sqlInsertEntry = `
		insert into journal_entries(transaction_id, description, reference_type, reference_id, metadata, created_at)
		values ($1, $2, $3, $4, coalesce(nullif($5,''),'{}')::jsonb, $6)
		returning entry_id::text
	`

	sqlInsertLine = `
		insert into journal_lines(entry_id, account_id, type, amount, created_at)
		values ($1, $2, $3, $4, $5)
	`

	sqlSelectEntryByTransaction = `select ` + entryColumns + ` from journal_entries where transaction_id = $1`
	sqlSelectEntriesByReference = `select ` + entryColumns + ` from journal_entries where reference_type = $1 and reference_id = $2 order by created_at`
	sqlSelectLinesByEntries     = `select ` + lineColumns + ` from journal_lines where entry_id::text = any($1) order by line_id`
	sqlSelectLinesByAccount     = `select ` + lineColumns + ` from journal_lines where account_id = $1 order by line_id desc limit $2`

	sqlSumAccountLines = `
		select
			coalesce(sum(case when type = 'DEBIT' then amount else 0 end),0),
			coalesce(sum(case when type = 'CREDIT' then amount else 0 end),0)
		from journal_lines where account_id = $1
	`

	sqlInsertOrder = `
		insert into payment_orders(merchant_transaction_id, user_id, amount, currency, status, gateway_transaction_id, gateway_payload, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, nullif($7,'')::jsonb, $8, $9)
	`

	sqlSelectOrder          = `select ` + orderColumns + ` from payment_orders where merchant_transaction_id = $1`
	sqlSelectOrderForUpdate = sqlSelectOrder + ` for update`

	sqlUpdateOrderStatus = `
		update payment_orders
		set status = $3,
			updated_at = $4,
			gateway_transaction_id = coalesce(nullif($5,''), gateway_transaction_id),
			gateway_payload = coalesce(nullif($6,'')::jsonb, gateway_payload)
		where merchant_transaction_id = $1 and status = $2
	`

	sqlSelectOrdersByStatus = `
		select ` + orderColumns + ` from payment_orders
		where status = $1 and created_at < $2
		order by created_at, merchant_transaction_id
		limit $3
	`
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
	SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults
}

// Database owns the pgx pool shared by the ledger and order stores.
type Database struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// Option configures a Database.
type Option func(*Database)

// WithLockTimeout bounds row lock waits inside transactions.
func WithLockTimeout(timeout time.Duration) Option {
	return func(database *Database) {
		database.lockTimeout = timeout
	}
}

// New returns a Database backed by a pgx pool.
func New(pool *pgxpool.Pool, options ...Option) *Database {
	database := &Database{pool: pool}
	for _, option := range options {
		if option != nil {
			option(database)
		}
	}
	return database
}

// ApplySchema creates the tables when absent.
func (database *Database) ApplySchema(ctx context.Context) error {
	if _, err := database.pool.Exec(ctx, schemaSQL); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeApply, err)
	}
	return nil
}

// Ping checks that the database answers.
func (database *Database) Ping(ctx context.Context) error {
	return database.pool.Ping(ctx)
}

// Pool exposes the underlying pool for components that share it.
func (database *Database) Pool() *pgxpool.Pool {
	return database.pool
}

// Ledger returns a ledger.Store in autocommit mode.
func (database *Database) Ledger() *LedgerStore {
	return &LedgerStore{database: database, conn: database.pool}
}

// Orders returns a settlement.Store in autocommit mode.
func (database *Database) Orders() *OrderStore {
	return &OrderStore{database: database, conn: database.pool}
}

func (database *Database) transaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := database.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if database.lockTimeout > 0 {
		statement := fmt.Sprintf("set local lock_timeout = '%dms'", database.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, statement); err != nil {
			_ = tx.Rollback(ctx)
			return wrapStoreError(errorSubjectTransaction, errorCodeLock, err)
		}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, classify(err))
	}
	return nil
}

// LedgerStore implements ledger.Store.
type LedgerStore struct {
	database *Database
	conn     querier
	inTx     bool
}

// WithTx executes fn within a transaction. A store bound to a transaction joins it.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	return store.database.transaction(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &LedgerStore{database: store.database, conn: tx, inTx: true})
	})
}

func (store *LedgerStore) CreateAccount(ctx context.Context, spec ledger.AccountSpec, createdAt time.Time) (ledger.Account, error) {
	row := store.conn.QueryRow(ctx, sqlInsertAccount,
		spec.Name, spec.Type.String(), spec.Nature.String(), spec.OwnerID.String(), spec.Currency, createdAt)
	account, err := scanAccount(row)
	if isUniqueViolation(err, constraintAccountsOwnerType) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, classify(err))
	}
	return account, nil
}

func (store *LedgerStore) GetOrCreateAccount(ctx context.Context, spec ledger.AccountSpec, createdAt time.Time) (ledger.Account, error) {
	_, err := store.conn.Exec(ctx, sqlInsertAccountIfAbsent,
		spec.Name, spec.Type.String(), spec.Nature.String(), spec.OwnerID.String(), spec.Currency, createdAt)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, classify(err))
	}
	return store.FindAccountByOwnerAndType(ctx, spec.OwnerID, spec.Type)
}

func (store *LedgerStore) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return store.loadAccount(ctx, sqlSelectAccount, errorCodeGet, accountID.String())
}

func (store *LedgerStore) FindAccountByOwnerAndType(ctx context.Context, ownerID ledger.UserID, accountType ledger.AccountType) (ledger.Account, error) {
	return store.loadAccount(ctx, sqlSelectAccountByOwnerType, errorCodeLookup, ownerID.String(), accountType.String())
}

// LockAccount selects the account row FOR UPDATE.
func (store *LedgerStore) LockAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return store.loadAccount(ctx, sqlSelectAccountForUpdate, errorCodeLock, accountID.String())
}

func (store *LedgerStore) loadAccount(ctx context.Context, query string, code string, arguments ...any) (ledger.Account, error) {
	account, err := scanAccount(store.conn.QueryRow(ctx, query, arguments...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, classify(err))
	}
	return account, nil
}

func (store *LedgerStore) InsertJournalEntry(ctx context.Context, header ledger.EntryHeader) (ledger.EntryID, error) {
	var entryIDValue string
	err := store.conn.QueryRow(ctx, sqlInsertEntry,
		header.TransactionID.String(),
		header.Description,
		header.ReferenceType,
		header.ReferenceID,
		header.Metadata.String(),
		header.CreatedAt,
	).Scan(&entryIDValue)
	if isUniqueViolation(err, constraintEntriesTransactionID) {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateTransaction)
	}
	if err != nil {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, classify(err))
	}
	entryID, err := ledger.NewEntryID(entryIDValue)
	if err != nil {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entryID, nil
}

func (store *LedgerStore) InsertJournalLines(ctx context.Context, entryID ledger.EntryID, lines []ledger.LineInput, createdAt time.Time) error {
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(sqlInsertLine, entryID.String(), line.AccountID.String(), line.Type.String(), line.Amount.Int64(), createdAt)
	}
	results := store.conn.SendBatch(ctx, batch)
	for range lines {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return wrapStoreError(errorSubjectLine, errorCodeInsert, classify(err))
		}
	}
	if err := results.Close(); err != nil {
		return wrapStoreError(errorSubjectLine, errorCodeInsert, classify(err))
	}
	return nil
}

func (store *LedgerStore) ApplyBalanceDelta(ctx context.Context, accountID ledger.AccountID, delta ledger.SignedAmount, updatedAt time.Time) error {
	tag, err := store.conn.Exec(ctx, sqlApplyBalanceDelta, accountID.String(), delta.Int64(), updatedAt)
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, classify(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrAccountNotFound)
	}
	return nil
}

func (store *LedgerStore) GetJournalEntry(ctx context.Context, transactionID ledger.TransactionID) (ledger.JournalEntry, error) {
	entry, err := scanEntry(store.conn.QueryRow(ctx, sqlSelectEntryByTransaction, transactionID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.JournalEntry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, ledger.ErrUnknownJournalEntry)
		}
		return ledger.JournalEntry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, classify(err))
	}
	entries, err := store.attachLines(ctx, []ledger.JournalEntry{entry})
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	return entries[0], nil
}

func (store *LedgerStore) ListJournalEntriesByReference(ctx context.Context, referenceType string, referenceID string) ([]ledger.JournalEntry, error) {
	rows, err := store.conn.Query(ctx, sqlSelectEntriesByReference, referenceType, referenceID)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, classify(err))
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.JournalEntry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return store.attachLines(ctx, entries)
}

func (store *LedgerStore) attachLines(ctx context.Context, entries []ledger.JournalEntry) ([]ledger.JournalEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	entryIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		entryIDs = append(entryIDs, entry.ID.String())
	}
	rows, err := store.conn.Query(ctx, sqlSelectLinesByEntries, entryIDs)
	if err != nil {
		return nil, wrapStoreError(errorSubjectLine, errorCodeList, classify(err))
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.JournalLine, error) {
		return scanLine(row)
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectLine, errorCodeList, err)
	}
	linesByEntry := make(map[ledger.EntryID][]ledger.JournalLine, len(entries))
	for _, line := range lines {
		linesByEntry[line.EntryID] = append(linesByEntry[line.EntryID], line)
	}
	for index := range entries {
		entries[index].Lines = linesByEntry[entries[index].ID]
	}
	return entries, nil
}

func (store *LedgerStore) ListAccountLines(ctx context.Context, accountID ledger.AccountID, limit int) ([]ledger.JournalLine, error) {
	rows, err := store.conn.Query(ctx, sqlSelectLinesByAccount, accountID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectLine, errorCodeList, classify(err))
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.JournalLine, error) {
		return scanLine(row)
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectLine, errorCodeList, err)
	}
	return lines, nil
}

func (store *LedgerStore) SumAccountLines(ctx context.Context, accountID ledger.AccountID) (ledger.LineTotals, error) {
	var debits, credits int64
	if err := store.conn.QueryRow(ctx, sqlSumAccountLines, accountID.String()).Scan(&debits, &credits); err != nil {
		return ledger.LineTotals{}, wrapStoreError(errorSubjectBalance, errorCodeSum, classify(err))
	}
	return ledger.LineTotals{Debits: ledger.SignedAmount(debits), Credits: ledger.SignedAmount(credits)}, nil
}

// OrderStore implements settlement.Store.
type OrderStore struct {
	database *Database
	conn     querier
	inTx     bool
}

// WithTx executes fn within a transaction. A store bound to a transaction joins it.
func (store *OrderStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore settlement.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	return store.database.transaction(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &OrderStore{database: store.database, conn: tx, inTx: true})
	})
}

// Ledger returns a ledger store sharing this store's transaction.
func (store *OrderStore) Ledger() ledger.Store {
	return &LedgerStore{database: store.database, conn: store.conn, inTx: store.inTx}
}

func (store *OrderStore) CreateOrder(ctx context.Context, order settlement.PaymentOrder) error {
	_, err := store.conn.Exec(ctx, sqlInsertOrder,
		order.ID.String(),
		order.UserID.String(),
		order.Amount.Int64(),
		order.Currency,
		order.Status.String(),
		order.GatewayTransactionID,
		string(order.GatewayPayload),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if isUniqueViolation(err, constraintPaymentOrdersPrimary) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, settlement.ErrOrderExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, classify(err))
	}
	return nil
}

func (store *OrderStore) GetOrder(ctx context.Context, id settlement.MerchantTransactionID) (settlement.PaymentOrder, error) {
	return store.loadOrder(ctx, sqlSelectOrder, errorCodeGet, id)
}

// LockOrder selects the order row FOR UPDATE.
func (store *OrderStore) LockOrder(ctx context.Context, id settlement.MerchantTransactionID) (settlement.PaymentOrder, error) {
	return store.loadOrder(ctx, sqlSelectOrderForUpdate, errorCodeLock, id)
}

func (store *OrderStore) loadOrder(ctx context.Context, query string, code string, id settlement.MerchantTransactionID) (settlement.PaymentOrder, error) {
	order, err := scanOrder(store.conn.QueryRow(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settlement.PaymentOrder{}, wrapStoreError(errorSubjectOrder, code, settlement.ErrUnknownOrder)
		}
		return settlement.PaymentOrder{}, wrapStoreError(errorSubjectOrder, code, classify(err))
	}
	return order, nil
}

func (store *OrderStore) UpdateOrderStatus(ctx context.Context, transition settlement.OrderTransition) (bool, error) {
	tag, err := store.conn.Exec(ctx, sqlUpdateOrderStatus,
		transition.ID.String(),
		transition.From.String(),
		transition.To.String(),
		transition.UpdatedAt,
		transition.GatewayTransactionID,
		string(transition.GatewayPayload),
	)
	if err != nil {
		return false, wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, classify(err))
	}
	return tag.RowsAffected() > 0, nil
}

func (store *OrderStore) ListOrdersByStatus(ctx context.Context, status settlement.OrderStatus, createdBefore time.Time, limit int) ([]settlement.PaymentOrder, error) {
	rows, err := store.conn.Query(ctx, sqlSelectOrdersByStatus, status.String(), createdBefore, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, classify(err))
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (settlement.PaymentOrder, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	return orders, nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		accountIDValue string
		name           string
		typeValue      string
		natureValue    string
		ownerValue     string
		currency       string
		balance        int64
		version        int64
		createdAt      time.Time
		updatedAt      time.Time
	)
	if err := row.Scan(&accountIDValue, &name, &typeValue, &natureValue, &ownerValue, &currency, &balance, &version, &createdAt, &updatedAt); err != nil {
		return ledger.Account{}, err
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.Account{}, err
	}
	accountType, err := ledger.NewAccountType(typeValue)
	if err != nil {
		return ledger.Account{}, err
	}
	nature, err := ledger.ParseAccountNature(natureValue)
	if err != nil {
		return ledger.Account{}, err
	}
	var ownerID ledger.UserID
	if ownerValue != "" {
		if ownerID, err = ledger.NewUserID(ownerValue); err != nil {
			return ledger.Account{}, err
		}
	}
	return ledger.Account{
		ID:        accountID,
		Name:      name,
		Type:      accountType,
		Nature:    nature,
		OwnerID:   ownerID,
		Currency:  currency,
		Balance:   ledger.SignedAmount(balance),
		Version:   version,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

func scanEntry(row pgx.Row) (ledger.JournalEntry, error) {
	var (
		entryIDValue       string
		transactionIDValue string
		description        string
		referenceType      string
		referenceID        string
		metadataValue      string
		createdAt          time.Time
	)
	if err := row.Scan(&entryIDValue, &transactionIDValue, &description, &referenceType, &referenceID, &metadataValue, &createdAt); err != nil {
		return ledger.JournalEntry{}, err
	}
	entryID, err := ledger.NewEntryID(entryIDValue)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	transactionID, err := ledger.NewTransactionID(transactionIDValue)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(metadataValue)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	return ledger.JournalEntry{
		ID:            entryID,
		TransactionID: transactionID,
		Description:   description,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		Metadata:      metadata,
		CreatedAt:     createdAt.UTC(),
	}, nil
}

func scanLine(row pgx.Row) (ledger.JournalLine, error) {
	var (
		lineID         int64
		entryIDValue   string
		accountIDValue string
		typeValue      string
		amountValue    int64
		createdAt      time.Time
	)
	if err := row.Scan(&lineID, &entryIDValue, &accountIDValue, &typeValue, &amountValue, &createdAt); err != nil {
		return ledger.JournalLine{}, err
	}
	entryID, err := ledger.NewEntryID(entryIDValue)
	if err != nil {
		return ledger.JournalLine{}, err
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.JournalLine{}, err
	}
	lineType, err := ledger.ParseLineType(typeValue)
	if err != nil {
		return ledger.JournalLine{}, err
	}
	amount, err := ledger.NewPositiveAmount(amountValue)
	if err != nil {
		return ledger.JournalLine{}, err
	}
	return ledger.JournalLine{
		ID:        lineID,
		EntryID:   entryID,
		AccountID: accountID,
		Type:      lineType,
		Amount:    amount,
		CreatedAt: createdAt.UTC(),
	}, nil
}

func scanOrder(row pgx.Row) (settlement.PaymentOrder, error) {
	var (
		idValue              string
		userIDValue          string
		amountValue          int64
		currency             string
		statusValue          string
		gatewayTransactionID string
		payloadValue         string
		createdAt            time.Time
		updatedAt            time.Time
	)
	if err := row.Scan(&idValue, &userIDValue, &amountValue, &currency, &statusValue, &gatewayTransactionID, &payloadValue, &createdAt, &updatedAt); err != nil {
		return settlement.PaymentOrder{}, err
	}
	id, err := settlement.NewMerchantTransactionID(idValue)
	if err != nil {
		return settlement.PaymentOrder{}, err
	}
	userID, err := ledger.NewUserID(userIDValue)
	if err != nil {
		return settlement.PaymentOrder{}, err
	}
	amount, err := ledger.NewPositiveAmount(amountValue)
	if err != nil {
		return settlement.PaymentOrder{}, err
	}
	status, err := settlement.ParseOrderStatus(statusValue)
	if err != nil {
		return settlement.PaymentOrder{}, err
	}
	var payload json.RawMessage
	if payloadValue != "" {
		payload = json.RawMessage(payloadValue)
	}
	return settlement.PaymentOrder{
		ID:                   id,
		UserID:               userID,
		Amount:               amount,
		Currency:             currency,
		Status:               status,
		GatewayTransactionID: gatewayTransactionID,
		GatewayPayload:       payload,
		CreatedAt:            createdAt.UTC(),
		UpdatedAt:            updatedAt.UTC(),
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}

// classify maps lock waits and deadlocks onto ledger.ErrLockTimeout.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgLockNotAvailableCode || pgErr.Code == pgDeadlockDetectedCode) {
		return fmt.Errorf("%w: %w", ledger.ErrLockTimeout, err)
	}
	return err
}
