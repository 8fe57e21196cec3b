package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

const (
	defaultMetadataJSON     = "{}"
	dialectPostgres         = "postgres"
	pgUniqueViolationCode   = "23505"
	pgLockNotAvailableCode  = "55P03"
	pgDeadlockDetectedCode  = "40P01"
	sqliteUniqueCode        = 2067
	sqlitePrimaryKeyCode    = 1555
	sqliteBusyCode          = 5
	sqliteLockedCode        = 6
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectLine        = "line"
	errorSubjectOrder       = "order"
	errorSubjectTransaction = "transaction"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLock           = "lock"
	errorCodeLookup         = "lookup"
	errorCodeSum            = "sum"
	errorCodeUpdate         = "update"
	errorCodeUpdateStatus   = "update_status"
)

// Database owns the gorm handle shared by the ledger and order stores.
type Database struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// Option configures a Database.
type Option func(*Database)

// WithLockTimeout bounds row lock waits inside transactions on postgres.
func WithLockTimeout(timeout time.Duration) Option {
	return func(database *Database) {
		database.lockTimeout = timeout
	}
}

// New returns a Database backed by gorm.DB.
func New(db *gorm.DB, options ...Option) *Database {
	database := &Database{db: db}
	for _, option := range options {
		if option != nil {
			option(database)
		}
	}
	return database
}

// Migrate creates or updates the tables.
func (database *Database) Migrate(ctx context.Context) error {
	if err := database.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return wrapStoreError(errorSubjectTransaction, "migrate", err)
	}
	return nil
}

// Ping checks that the database answers.
func (database *Database) Ping(ctx context.Context) error {
	sqlDB, err := database.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Ledger returns a ledger.Store.
func (database *Database) Ledger() *LedgerStore {
	return &LedgerStore{database: database, db: database.db}
}

// Orders returns a settlement.Store.
func (database *Database) Orders() *OrderStore {
	return &OrderStore{database: database, db: database.db}
}

func (database *Database) transaction(ctx context.Context, fn func(transaction *gorm.DB) error) error {
	return database.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if database.lockTimeout > 0 && transaction.Dialector.Name() == dialectPostgres {
			statement := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", database.lockTimeout.Milliseconds())
			if err := transaction.Exec(statement).Error; err != nil {
				return wrapStoreError(errorSubjectTransaction, errorCodeLock, err)
			}
		}
		return fn(transaction)
	})
}

// LedgerStore implements ledger.Store using GORM.
type LedgerStore struct {
	database *Database
	db       *gorm.DB
	inTx     bool
}

// WithTx executes fn within a transaction. A store bound to a transaction joins it.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	return store.database.transaction(ctx, func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{database: store.database, db: transaction, inTx: true})
	})
}

func (store *LedgerStore) CreateAccount(ctx context.Context, spec ledger.AccountSpec, createdAt time.Time) (ledger.Account, error) {
	model := accountModel(spec, createdAt)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, indexAccountsOwnerType) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, classify(err))
	}
	return mapAccount(model)
}

func (store *LedgerStore) GetOrCreateAccount(ctx context.Context, spec ledger.AccountSpec, createdAt time.Time) (ledger.Account, error) {
	model := accountModel(spec, createdAt)
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "type"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, classify(err))
	}
	return store.FindAccountByOwnerAndType(ctx, spec.OwnerID, spec.Type)
}

func (store *LedgerStore) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return store.loadAccount(store.db.WithContext(ctx), accountID, errorCodeGet)
}

func (store *LedgerStore) FindAccountByOwnerAndType(ctx context.Context, ownerID ledger.UserID, accountType ledger.AccountType) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("owner_id = ? AND type = ?", ownerID.String(), accountType.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, classify(err))
	}
	return mapAccount(model)
}

// LockAccount selects the account row FOR UPDATE.
func (store *LedgerStore) LockAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return store.loadAccount(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), accountID, errorCodeLock)
}

func (store *LedgerStore) loadAccount(query *gorm.DB, accountID ledger.AccountID, code string) (ledger.Account, error) {
	var model Account
	err := query.Where("account_id = ?", accountID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, classify(err))
	}
	return mapAccount(model)
}

func (store *LedgerStore) InsertJournalEntry(ctx context.Context, header ledger.EntryHeader) (ledger.EntryID, error) {
	model := JournalEntry{
		TransactionID: header.TransactionID.String(),
		Description:   header.Description,
		ReferenceType: header.ReferenceType,
		ReferenceID:   header.ReferenceID,
		Metadata:      datatypesJSON(header.Metadata.String()),
		CreatedAt:     header.CreatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, indexJournalEntriesTransaction) {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateTransaction)
	}
	if err != nil {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, classify(err))
	}
	entryID, err := ledger.NewEntryID(model.EntryID)
	if err != nil {
		return ledger.EntryID{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entryID, nil
}

func (store *LedgerStore) InsertJournalLines(ctx context.Context, entryID ledger.EntryID, lines []ledger.LineInput, createdAt time.Time) error {
	if len(lines) == 0 {
		return nil
	}
	models := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		models = append(models, JournalLine{
			EntryID:   entryID.String(),
			AccountID: line.AccountID.String(),
			Type:      line.Type.String(),
			Amount:    line.Amount.Int64(),
			CreatedAt: createdAt,
		})
	}
	if err := store.db.WithContext(ctx).Create(&models).Error; err != nil {
		return wrapStoreError(errorSubjectLine, errorCodeInsert, classify(err))
	}
	return nil
}

func (store *LedgerStore) ApplyBalanceDelta(ctx context.Context, accountID ledger.AccountID, delta ledger.SignedAmount, updatedAt time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", delta.Int64()),
			"version":    gorm.Expr("version + 1"),
			"updated_at": updatedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, classify(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrAccountNotFound)
	}
	return nil
}

func (store *LedgerStore) GetJournalEntry(ctx context.Context, transactionID ledger.TransactionID) (ledger.JournalEntry, error) {
	var model JournalEntry
	err := store.db.WithContext(ctx).Where("transaction_id = ?", transactionID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.JournalEntry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, ledger.ErrUnknownJournalEntry)
		}
		return ledger.JournalEntry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, classify(err))
	}
	entries, err := store.attachLines(ctx, []JournalEntry{model})
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	return entries[0], nil
}

func (store *LedgerStore) ListJournalEntriesByReference(ctx context.Context, referenceType string, referenceID string) ([]ledger.JournalEntry, error) {
	var models []JournalEntry
	err := store.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, classify(err))
	}
	return store.attachLines(ctx, models)
}

func (store *LedgerStore) attachLines(ctx context.Context, models []JournalEntry) ([]ledger.JournalEntry, error) {
	if len(models) == 0 {
		return nil, nil
	}
	entryIDs := make([]string, 0, len(models))
	for _, model := range models {
		entryIDs = append(entryIDs, model.EntryID)
	}
	var lineModels []JournalLine
	err := store.db.WithContext(ctx).
		Where("entry_id IN ?", entryIDs).
		Order("line_id ASC").
		Find(&lineModels).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLine, errorCodeList, classify(err))
	}
	linesByEntry := make(map[string][]ledger.JournalLine, len(models))
	for _, lineModel := range lineModels {
		line, err := mapLine(lineModel)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLine, errorCodeInvalid, err)
		}
		linesByEntry[lineModel.EntryID] = append(linesByEntry[lineModel.EntryID], line)
	}
	entries := make([]ledger.JournalEntry, 0, len(models))
	for _, model := range models {
		entry, err := mapEntry(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entry.Lines = linesByEntry[model.EntryID]
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *LedgerStore) ListAccountLines(ctx context.Context, accountID ledger.AccountID, limit int) ([]ledger.JournalLine, error) {
	var models []JournalLine
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("line_id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLine, errorCodeList, classify(err))
	}
	lines := make([]ledger.JournalLine, 0, len(models))
	for _, model := range models {
		line, err := mapLine(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLine, errorCodeInvalid, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (store *LedgerStore) SumAccountLines(ctx context.Context, accountID ledger.AccountID) (ledger.LineTotals, error) {
	var sums sqlLineSums
	err := store.db.WithContext(ctx).
		Model(&JournalLine{}).
		Select(
			"coalesce(sum(case when type = ? then amount else 0 end),0) as debits, coalesce(sum(case when type = ? then amount else 0 end),0) as credits",
			ledger.LineDebit.String(), ledger.LineCredit.String(),
		).
		Where("account_id = ?", accountID.String()).
		Scan(&sums).Error
	if err != nil {
		return ledger.LineTotals{}, wrapStoreError(errorSubjectBalance, errorCodeSum, classify(err))
	}
	return ledger.LineTotals{Debits: ledger.SignedAmount(sums.Debits), Credits: ledger.SignedAmount(sums.Credits)}, nil
}

// OrderStore implements settlement.Store using GORM.
type OrderStore struct {
	database *Database
	db       *gorm.DB
	inTx     bool
}

// WithTx executes fn within a transaction. A store bound to a transaction joins it.
func (store *OrderStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore settlement.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	return store.database.transaction(ctx, func(transaction *gorm.DB) error {
		return fn(ctx, &OrderStore{database: store.database, db: transaction, inTx: true})
	})
}

// Ledger returns a ledger store sharing this store's transaction.
func (store *OrderStore) Ledger() ledger.Store {
	return &LedgerStore{database: store.database, db: store.db, inTx: store.inTx}
}

func (store *OrderStore) CreateOrder(ctx context.Context, order settlement.PaymentOrder) error {
	model := PaymentOrder{
		MerchantTransactionID: order.ID.String(),
		UserID:                order.UserID.String(),
		Amount:                order.Amount.Int64(),
		Currency:              order.Currency,
		Status:                order.Status.String(),
		GatewayTransactionID:  order.GatewayTransactionID,
		GatewayPayload:        nullableJSON(order.GatewayPayload),
		CreatedAt:             order.CreatedAt,
		UpdatedAt:             order.UpdatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintPaymentOrdersPrimary) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, settlement.ErrOrderExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, classify(err))
	}
	return nil
}

func (store *OrderStore) GetOrder(ctx context.Context, id settlement.MerchantTransactionID) (settlement.PaymentOrder, error) {
	return store.loadOrder(store.db.WithContext(ctx), id, errorCodeGet)
}

// LockOrder selects the order row FOR UPDATE.
func (store *OrderStore) LockOrder(ctx context.Context, id settlement.MerchantTransactionID) (settlement.PaymentOrder, error) {
	return store.loadOrder(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id, errorCodeLock)
}

func (store *OrderStore) loadOrder(query *gorm.DB, id settlement.MerchantTransactionID, code string) (settlement.PaymentOrder, error) {
	var model PaymentOrder
	err := query.Where("merchant_transaction_id = ?", id.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return settlement.PaymentOrder{}, wrapStoreError(errorSubjectOrder, code, settlement.ErrUnknownOrder)
		}
		return settlement.PaymentOrder{}, wrapStoreError(errorSubjectOrder, code, classify(err))
	}
	order, err := mapOrder(model)
	if err != nil {
		return settlement.PaymentOrder{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

func (store *OrderStore) UpdateOrderStatus(ctx context.Context, transition settlement.OrderTransition) (bool, error) {
	updates := map[string]any{
		"status":     transition.To.String(),
		"updated_at": transition.UpdatedAt,
	}
	if transition.GatewayTransactionID != "" {
		updates["gateway_transaction_id"] = transition.GatewayTransactionID
	}
	if len(transition.GatewayPayload) > 0 {
		updates["gateway_payload"] = datatypes.JSON(transition.GatewayPayload)
	}
	result := store.db.WithContext(ctx).
		Model(&PaymentOrder{}).
		Where("merchant_transaction_id = ? AND status = ?", transition.ID.String(), transition.From.String()).
		Updates(updates)
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, classify(result.Error))
	}
	return result.RowsAffected > 0, nil
}

func (store *OrderStore) ListOrdersByStatus(ctx context.Context, status settlement.OrderStatus, createdBefore time.Time, limit int) ([]settlement.PaymentOrder, error) {
	var models []PaymentOrder
	err := store.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", status.String(), createdBefore).
		Order("created_at ASC").
		Order("merchant_transaction_id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, classify(err))
	}
	orders := make([]settlement.PaymentOrder, 0, len(models))
	for _, model := range models {
		order, err := mapOrder(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlLineSums struct {
	Debits  int64
	Credits int64
}

func accountModel(spec ledger.AccountSpec, createdAt time.Time) Account {
	return Account{
		Name:      spec.Name,
		Type:      spec.Type.String(),
		Nature:    spec.Nature.String(),
		OwnerID:   spec.OwnerID.String(),
		Currency:  spec.Currency,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func mapAccount(model Account) (ledger.Account, error) {
	accountID, err := ledger.NewAccountID(model.AccountID)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	accountType, err := ledger.NewAccountType(model.Type)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	nature, err := ledger.ParseAccountNature(model.Nature)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	var ownerID ledger.UserID
	if model.OwnerID != "" {
		ownerID, err = ledger.NewUserID(model.OwnerID)
		if err != nil {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
	}
	return ledger.Account{
		ID:        accountID,
		Name:      model.Name,
		Type:      accountType,
		Nature:    nature,
		OwnerID:   ownerID,
		Currency:  model.Currency,
		Balance:   ledger.SignedAmount(model.Balance),
		Version:   model.Version,
		CreatedAt: model.CreatedAt.UTC(),
		UpdatedAt: model.UpdatedAt.UTC(),
	}, nil
}

func mapEntry(model JournalEntry) (ledger.JournalEntry, error) {
	entryID, err := ledger.NewEntryID(model.EntryID)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	transactionID, err := ledger.NewTransactionID(model.TransactionID)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	return ledger.JournalEntry{
		ID:            entryID,
		TransactionID: transactionID,
		Description:   model.Description,
		ReferenceType: model.ReferenceType,
		ReferenceID:   model.ReferenceID,
		Metadata:      metadata,
		CreatedAt:     model.CreatedAt.UTC(),
	}, nil
}

func mapLine(model JournalLine) (ledger.JournalLine, error) {
	entryID, err := ledger.NewEntryID(model.EntryID)
	if err != nil {
		return ledger.JournalLine{}, err
	}
	accountID, err := ledger.NewAccountID(model.AccountID)
	if err != nil {
		return ledger.JournalLine{}, err
	}
	lineType, err := ledger.ParseLineType(model.Type)
	if err != nil {
		return ledger.JournalLine{}, err
	}
	amount, err := ledger.NewPositiveAmount(model.Amount)
	if err != nil {
		return ledger.JournalLine{}, err
	}
	return ledger.JournalLine{
		ID:        model.LineID,
		EntryID:   entryID,
		AccountID: accountID,
		Type:      lineType,
		Amount:    amount,
		CreatedAt: model.CreatedAt.UTC(),
	}, nil
}

func mapOrder(model PaymentOrder) (settlement.PaymentOrder, error) {
	id, err := settlement.NewMerchantTransactionID(model.MerchantTransactionID)
	if err != nil {
		return settlement.PaymentOrder{}, err
	}
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return settlement.PaymentOrder{}, err
	}
	amount, err := ledger.NewPositiveAmount(model.Amount)
	if err != nil {
		return settlement.PaymentOrder{}, err
	}
	status, err := settlement.ParseOrderStatus(model.Status)
	if err != nil {
		return settlement.PaymentOrder{}, err
	}
	var payload json.RawMessage
	if len(model.GatewayPayload) > 0 {
		payload = json.RawMessage(model.GatewayPayload)
	}
	return settlement.PaymentOrder{
		ID:                   id,
		UserID:               userID,
		Amount:               amount,
		Currency:             model.Currency,
		Status:               status,
		GatewayTransactionID: model.GatewayTransactionID,
		GatewayPayload:       payload,
		CreatedAt:            model.CreatedAt.UTC(),
		UpdatedAt:            model.UpdatedAt.UTC(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func nullableJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		// extended codes; CHECK and NOT NULL share the primary code 19
		code := sqliteErr.Code()
		return code == sqliteUniqueCode || code == sqlitePrimaryKeyCode
	}
	return false
}

// classify maps lock waits and deadlocks onto ledger.ErrLockTimeout.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgLockNotAvailableCode || pgErr.Code == pgDeadlockDetectedCode) {
		return fmt.Errorf("%w: %w", ledger.ErrLockTimeout, err)
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		if code == sqliteBusyCode || code == sqliteLockedCode {
			return fmt.Errorf("%w: %w", ledger.ErrLockTimeout, err)
		}
	}
	return err
}
