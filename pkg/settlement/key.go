package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
)

const (
	ledgerKeyPrefix     = "LEDGER_"
	rechargeOrderPrefix = "WT"
	userFragmentLength  = 8
	orderNonceLength    = 6
)

// LedgerKeyOf derives the journal transaction id that settles an order.
// Every settlement path uses this key, which makes the journal's unique
// transaction id the idempotency boundary.
func LedgerKeyOf(id MerchantTransactionID) ledger.TransactionID {
	// the prefix keeps the key non-empty
	key, _ := ledger.NewTransactionID(ledgerKeyPrefix + id.String())
	return key
}

// MerchantTransactionIDFromLedgerKey inverts LedgerKeyOf.
func MerchantTransactionIDFromLedgerKey(key ledger.TransactionID) (MerchantTransactionID, error) {
	raw, found := strings.CutPrefix(key.String(), ledgerKeyPrefix)
	if !found {
		return MerchantTransactionID{}, fmt.Errorf("%w: %q", ErrInvalidLedgerKey, key.String())
	}
	id, err := NewMerchantTransactionID(raw)
	if err != nil {
		return MerchantTransactionID{}, fmt.Errorf("%w: %w", ErrInvalidLedgerKey, err)
	}
	return id, nil
}

// NewRechargeOrderID builds WT_<unix millis>_<user fragment>_<nonce>. Short
// user ids made of order-key characters are used as they are; anything else
// is replaced by the first hex digits of its SHA-256, so every user id fits
// the 35 character gateway limit.
func NewRechargeOrderID(at time.Time, userID ledger.UserID, nonce string) (MerchantTransactionID, error) {
	if userID.IsZero() {
		return MerchantTransactionID{}, fmt.Errorf("%w: empty value", ledger.ErrInvalidUserID)
	}
	raw := fmt.Sprintf("%s_%d_%s", rechargeOrderPrefix, at.UnixMilli(), userFragment(userID))
	if nonce = strings.TrimSpace(nonce); nonce != "" {
		if len(nonce) > orderNonceLength {
			nonce = nonce[:orderNonceLength]
		}
		raw += "_" + nonce
	}
	return NewMerchantTransactionID(raw)
}

func userFragment(userID ledger.UserID) string {
	raw := userID.String()
	if len(raw) <= userFragmentLength && isOrderKeyText(raw) {
		return raw
	}
	digest := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(digest[:])[:userFragmentLength]
}

func isOrderKeyText(raw string) bool {
	for _, character := range raw {
		switch {
		case character >= 'a' && character <= 'z',
			character >= 'A' && character <= 'Z',
			character >= '0' && character <= '9',
			character == '_', character == '-':
		default:
			return false
		}
	}
	return true
}

func randomOrderNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:orderNonceLength]
}
