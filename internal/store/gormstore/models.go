package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	indexAccountsOwnerType         = "idx_accounts_owner_type"
	indexJournalEntriesTransaction = "idx_journal_entries_transaction_id"
	constraintPaymentOrdersPrimary = "payment_orders_pkey"
)

// Account represents the accounts table.
type Account struct {
	AccountID string    `gorm:"type:varchar(36);primaryKey"`
	Name      string    `gorm:"not null"`
	Type      string    `gorm:"type:varchar(32);not null;index:idx_accounts_owner_type,unique,priority:2"`
	Nature    string    `gorm:"type:varchar(16);not null"`
	OwnerID   string    `gorm:"type:varchar(64);not null;default:'';index:idx_accounts_owner_type,unique,priority:1"`
	Currency  string    `gorm:"type:varchar(3);not null"`
	Balance   int64     `gorm:"not null;default:0"`
	Version   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// JournalEntry mirrors the journal_entries table.
type JournalEntry struct {
	EntryID       string         `gorm:"type:varchar(36);primaryKey"`
	TransactionID string         `gorm:"type:varchar(128);not null;index:idx_journal_entries_transaction_id,unique"`
	Description   string         `gorm:"not null;default:''"`
	ReferenceType string         `gorm:"type:varchar(32);not null;default:'';index:idx_journal_entries_reference,priority:1"`
	ReferenceID   string         `gorm:"type:varchar(64);not null;default:'';index:idx_journal_entries_reference,priority:2"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null"`
}

func (JournalEntry) TableName() string { return "journal_entries" }

func (entry *JournalEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// JournalLine mirrors the journal_lines table.
type JournalLine struct {
	LineID    int64     `gorm:"primaryKey;autoIncrement"`
	EntryID   string    `gorm:"type:varchar(36);not null;index"`
	AccountID string    `gorm:"type:varchar(36);not null;index:idx_journal_lines_account,priority:1"`
	Type      string    `gorm:"type:varchar(6);not null"`
	Amount    int64     `gorm:"not null;check:amount > 0"`
	CreatedAt time.Time `gorm:"not null"`
}

func (JournalLine) TableName() string { return "journal_lines" }

// PaymentOrder mirrors the payment_orders table.
type PaymentOrder struct {
	MerchantTransactionID string         `gorm:"type:varchar(35);primaryKey"`
	UserID                string         `gorm:"type:varchar(64);not null;index"`
	Amount                int64          `gorm:"not null;check:amount > 0"`
	Currency              string         `gorm:"type:varchar(3);not null"`
	Status                string         `gorm:"type:varchar(16);not null;index:idx_payment_orders_status_created,priority:1"`
	GatewayTransactionID  string         `gorm:"type:varchar(64);not null;default:''"`
	GatewayPayload        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt             time.Time      `gorm:"not null;index:idx_payment_orders_status_created,priority:2"`
	UpdatedAt             time.Time      `gorm:"not null"`
}

func (PaymentOrder) TableName() string { return "payment_orders" }

// Models lists every table the stores use, in migration order.
func Models() []any {
	return []any{&Account{}, &JournalEntry{}, &JournalLine{}, &PaymentOrder{}}
}
