package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultCurrency is used when an account spec omits its currency.
const DefaultCurrency = "INR"

// PositiveAmount is a strictly positive amount in minor currency units.
type PositiveAmount int64

// SignedAmount is a signed amount in minor currency units.
type SignedAmount int64

// AccountID identifies a ledger account.
type AccountID struct {
	value string
}

// EntryID identifies a journal entry.
type EntryID struct {
	value string
}

// UserID identifies an account owner. The zero value means platform-owned.
type UserID struct {
	value string
}

// TransactionID is the caller-supplied idempotency key of a journal entry.
type TransactionID struct {
	value string
}

// MetadataJSON stores arbitrary posting metadata.
type MetadataJSON struct {
	value string
}

// LineType is the side of a journal line.
type LineType string

const (
	LineDebit  LineType = "DEBIT"
	LineCredit LineType = "CREDIT"
)

// AccountNature decides which line type increases an account balance.
type AccountNature string

const (
	NatureAsset     AccountNature = "ASSET"
	NatureLiability AccountNature = "LIABILITY"
	NatureEquity    AccountNature = "EQUITY"
	NatureRevenue   AccountNature = "REVENUE"
	NatureExpense   AccountNature = "EXPENSE"
)

// AccountType classifies what an account is used for.
type AccountType string

const (
	AccountTypeUserWallet     AccountType = "USER_WALLET"
	AccountTypePlatformEscrow AccountType = "PLATFORM_ESCROW"
)

// NewPositiveAmount validates an amount and ensures it is strictly positive.
func NewPositiveAmount(raw int64) (PositiveAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositiveAmount(raw), nil
}

// Int64 returns the raw minor-unit value.
func (amount PositiveAmount) Int64() int64 {
	return int64(amount)
}

// ToSigned converts the amount to a signed amount.
func (amount PositiveAmount) ToSigned() SignedAmount {
	return SignedAmount(amount)
}

// Int64 returns the raw minor-unit value.
func (amount SignedAmount) Int64() int64 {
	return int64(amount)
}

// Negated returns the additive inverse.
func (amount SignedAmount) Negated() SignedAmount {
	return -amount
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id AccountID) IsZero() bool {
	return id.value == ""
}

// NewEntryID validates and normalizes a journal entry id.
func NewEntryID(raw string) (EntryID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntryID{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	return EntryID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EntryID) String() string {
	return id.value
}

// maxUserIDLength matches the owner and order user_id columns.
const maxUserIDLength = 64

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if len(trimmed) > maxUserIDLength {
		return UserID{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidUserID, maxUserIDLength)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized key.
func (id TransactionID) String() string {
	return id.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// ParseLineType validates a line type string.
func ParseLineType(raw string) (LineType, error) {
	switch LineType(strings.ToUpper(strings.TrimSpace(raw))) {
	case LineDebit:
		return LineDebit, nil
	case LineCredit:
		return LineCredit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLineType, raw)
	}
}

// String returns the line type string.
func (lineType LineType) String() string {
	return string(lineType)
}

// ParseAccountNature validates an account nature string.
func ParseAccountNature(raw string) (AccountNature, error) {
	nature := AccountNature(strings.ToUpper(strings.TrimSpace(raw)))
	switch nature {
	case NatureAsset, NatureLiability, NatureEquity, NatureRevenue, NatureExpense:
		return nature, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAccountNature, raw)
	}
}

// String returns the nature string.
func (nature AccountNature) String() string {
	return string(nature)
}

// DebitNormal reports whether debits increase balances of this nature.
func (nature AccountNature) DebitNormal() bool {
	return nature == NatureAsset || nature == NatureExpense
}

// NewAccountType validates an account type string.
func NewAccountType(raw string) (AccountType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidAccountType)
	}
	return AccountType(normalized), nil
}

// String returns the account type string.
func (accountType AccountType) String() string {
	return string(accountType)
}

// AccountSpec describes an account to be created.
type AccountSpec struct {
	Name     string
	Type     AccountType
	Nature   AccountNature
	OwnerID  UserID
	Currency string
}

// NewAccountSpec validates an account description.
func NewAccountSpec(name string, accountType AccountType, nature AccountNature, ownerID UserID, currency string) (AccountSpec, error) {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return AccountSpec{}, fmt.Errorf("%w: empty value", ErrInvalidAccountName)
	}
	validatedType, err := NewAccountType(accountType.String())
	if err != nil {
		return AccountSpec{}, err
	}
	validatedNature, err := ParseAccountNature(nature.String())
	if err != nil {
		return AccountSpec{}, err
	}
	normalizedCurrency := strings.ToUpper(strings.TrimSpace(currency))
	if normalizedCurrency == "" {
		normalizedCurrency = DefaultCurrency
	}
	if len(normalizedCurrency) != 3 {
		return AccountSpec{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return AccountSpec{
		Name:     trimmedName,
		Type:     validatedType,
		Nature:   validatedNature,
		OwnerID:  ownerID,
		Currency: normalizedCurrency,
	}, nil
}

// Account is a named ledger bucket.
type Account struct {
	ID        AccountID
	Name      string
	Type      AccountType
	Nature    AccountNature
	OwnerID   UserID
	Currency  string
	Balance   SignedAmount
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineInput is one requested leg of a posting.
type LineInput struct {
	AccountID AccountID
	Type      LineType
	Amount    PositiveAmount
}

// PostingInput is a requested double-entry transaction.
type PostingInput struct {
	TransactionID TransactionID
	Description   string
	ReferenceType string
	ReferenceID   string
	Metadata      MetadataJSON
	Lines         []LineInput
}

// EntryHeader is the journal entry row written by a posting.
type EntryHeader struct {
	TransactionID TransactionID
	Description   string
	ReferenceType string
	ReferenceID   string
	Metadata      MetadataJSON
	CreatedAt     time.Time
}

// JournalEntry is one committed double-entry transaction.
type JournalEntry struct {
	ID            EntryID
	TransactionID TransactionID
	Description   string
	ReferenceType string
	ReferenceID   string
	Metadata      MetadataJSON
	CreatedAt     time.Time
	Lines         []JournalLine
}

// JournalLine is one committed leg of an entry.
type JournalLine struct {
	ID        int64
	EntryID   EntryID
	AccountID AccountID
	Type      LineType
	Amount    PositiveAmount
	CreatedAt time.Time
}

// LineTotals aggregates the lines posted against one account.
type LineTotals struct {
	Debits  SignedAmount
	Credits SignedAmount
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAccount(ctx context.Context, spec AccountSpec, createdAt time.Time) (Account, error)
	GetOrCreateAccount(ctx context.Context, spec AccountSpec, createdAt time.Time) (Account, error)
	GetAccount(ctx context.Context, accountID AccountID) (Account, error)
	FindAccountByOwnerAndType(ctx context.Context, ownerID UserID, accountType AccountType) (Account, error)
	LockAccount(ctx context.Context, accountID AccountID) (Account, error)
	InsertJournalEntry(ctx context.Context, header EntryHeader) (EntryID, error)
	InsertJournalLines(ctx context.Context, entryID EntryID, lines []LineInput, createdAt time.Time) error
	ApplyBalanceDelta(ctx context.Context, accountID AccountID, delta SignedAmount, updatedAt time.Time) error
	GetJournalEntry(ctx context.Context, transactionID TransactionID) (JournalEntry, error)
	ListJournalEntriesByReference(ctx context.Context, referenceType string, referenceID string) ([]JournalEntry, error)
	ListAccountLines(ctx context.Context, accountID AccountID, limit int) ([]JournalLine, error)
	SumAccountLines(ctx context.Context, accountID AccountID) (LineTotals, error)
}
