package ledger

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Posting is a validated, balanced set of journal lines.
type Posting struct {
	input      PostingInput
	accountIDs []AccountID
	total      PositiveAmount
}

// NewPosting validates a posting request: at least two lines, every line
// positive with a known side, at least two distinct accounts, and equal
// debit and credit totals.
func NewPosting(input PostingInput) (Posting, error) {
	if input.TransactionID.String() == "" {
		return Posting{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	if len(input.Lines) < 2 {
		return Posting{}, fmt.Errorf("%w: at least two lines required", ErrInvalidLine)
	}
	var debits, credits int64
	seen := make(map[AccountID]struct{}, len(input.Lines))
	accountIDs := make([]AccountID, 0, len(input.Lines))
	for index, line := range input.Lines {
		if line.AccountID.IsZero() {
			return Posting{}, fmt.Errorf("%w: line %d has no account", ErrInvalidLine, index)
		}
		if line.Amount <= 0 {
			return Posting{}, fmt.Errorf("%w: line %d amount must be positive", ErrInvalidLine, index)
		}
		switch line.Type {
		case LineDebit:
			if line.Amount.Int64() > math.MaxInt64-debits {
				return Posting{}, fmt.Errorf("%w: debit total overflows", ErrInvalidLine)
			}
			debits += line.Amount.Int64()
		case LineCredit:
			if line.Amount.Int64() > math.MaxInt64-credits {
				return Posting{}, fmt.Errorf("%w: credit total overflows", ErrInvalidLine)
			}
			credits += line.Amount.Int64()
		default:
			return Posting{}, fmt.Errorf("%w: line %d type %q", ErrInvalidLine, index, line.Type)
		}
		if _, ok := seen[line.AccountID]; !ok {
			seen[line.AccountID] = struct{}{}
			accountIDs = append(accountIDs, line.AccountID)
		}
	}
	if debits != credits {
		return Posting{}, fmt.Errorf("%w: debits %d credits %d", ErrUnbalancedTransaction, debits, credits)
	}
	if len(accountIDs) < 2 {
		return Posting{}, fmt.Errorf("%w: at least two distinct accounts required", ErrInvalidLine)
	}
	sort.Slice(accountIDs, func(left, right int) bool {
		return accountIDs[left].String() < accountIDs[right].String()
	})
	lines := make([]LineInput, len(input.Lines))
	copy(lines, input.Lines)
	input.Lines = lines
	return Posting{input: input, accountIDs: accountIDs, total: PositiveAmount(debits)}, nil
}

// AccountIDs returns the distinct accounts in ascending id order, which is
// the order their row locks must be taken in.
func (posting Posting) AccountIDs() []AccountID {
	out := make([]AccountID, len(posting.accountIDs))
	copy(out, posting.accountIDs)
	return out
}

// Lines returns a copy of the posting lines.
func (posting Posting) Lines() []LineInput {
	out := make([]LineInput, len(posting.input.Lines))
	copy(out, posting.input.Lines)
	return out
}

// Total returns the debit (and credit) sum.
func (posting Posting) Total() PositiveAmount {
	return posting.total
}

// Header returns the journal entry row for this posting.
func (posting Posting) Header(createdAt time.Time) EntryHeader {
	return EntryHeader{
		TransactionID: posting.input.TransactionID,
		Description:   posting.input.Description,
		ReferenceType: posting.input.ReferenceType,
		ReferenceID:   posting.input.ReferenceID,
		Metadata:      posting.input.Metadata,
		CreatedAt:     createdAt,
	}
}

// SignedDelta returns the balance change a line applies to an account of the
// given nature.
func SignedDelta(nature AccountNature, lineType LineType, amount PositiveAmount) (SignedAmount, error) {
	if _, err := ParseAccountNature(nature.String()); err != nil {
		return 0, err
	}
	switch lineType {
	case LineDebit:
		if nature.DebitNormal() {
			return amount.ToSigned(), nil
		}
		return amount.ToSigned().Negated(), nil
	case LineCredit:
		if nature.DebitNormal() {
			return amount.ToSigned().Negated(), nil
		}
		return amount.ToSigned(), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLineType, lineType)
	}
}

// ProjectBalance derives the balance an account of the given nature should
// carry from its line totals.
func ProjectBalance(nature AccountNature, totals LineTotals) SignedAmount {
	if nature.DebitNormal() {
		return totals.Debits - totals.Credits
	}
	return totals.Credits - totals.Debits
}
