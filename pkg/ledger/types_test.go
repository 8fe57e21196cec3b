package ledger

import (
	"errors"
	"strings"
	"testing"
)

func TestNewUserID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " user-123 ", wantVal: "user-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidUserID},
		{name: "uuid", input: "3f2504e0-4f89-11d3-9a0c-0305e82c3301", wantVal: "3f2504e0-4f89-11d3-9a0c-0305e82c3301"},
		{name: "too long", input: strings.Repeat("u", 65), wantErr: ErrInvalidUserID},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := NewUserID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tc.wantVal {
				t.Fatalf("expected %q, got %q", tc.wantVal, result.String())
			}
		})
	}
}

func TestNewTransactionID(t *testing.T) {
	t.Parallel()
	_, err := NewTransactionID("   ")
	if !errors.Is(err, ErrInvalidTransactionID) {
		t.Fatalf("expected ErrInvalidTransactionID, got %v", err)
	}
}

func TestNewPositiveAmount(t *testing.T) {
	t.Parallel()
	_, err := NewPositiveAmount(0)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	value, err := NewPositiveAmount(100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.ToSigned().Negated() != -100 {
		t.Fatalf("expected -100, got %d", value.ToSigned().Negated())
	}
}

func TestParseLineType(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input   string
		want    LineType
		wantErr error
	}{
		{input: "debit", want: LineDebit},
		{input: " CREDIT ", want: LineCredit},
		{input: "hold", wantErr: ErrInvalidLineType},
	}
	for _, tc := range cases {
		got, err := ParseLineType(tc.input)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("%q: expected %v, got %v", tc.input, tc.wantErr, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: expected %s, got %s (%v)", tc.input, tc.want, got, err)
		}
	}
}

func TestNewAccountSpec(t *testing.T) {
	t.Parallel()
	spec, err := NewAccountSpec(" Escrow ", "platform_escrow", "asset", UserID{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Name != "Escrow" || spec.Type != AccountTypePlatformEscrow || spec.Nature != NatureAsset || spec.Currency != DefaultCurrency {
		t.Fatalf("unexpected spec: %+v", spec)
	}
	if !spec.OwnerID.IsZero() {
		t.Fatalf("expected platform owner")
	}
	if _, err := NewAccountSpec("", AccountTypeUserWallet, NatureLiability, UserID{}, ""); !errors.Is(err, ErrInvalidAccountName) {
		t.Fatalf("expected ErrInvalidAccountName, got %v", err)
	}
	if _, err := NewAccountSpec("x", AccountTypeUserWallet, "CASH", UserID{}, ""); !errors.Is(err, ErrInvalidAccountNature) {
		t.Fatalf("expected ErrInvalidAccountNature, got %v", err)
	}
	if _, err := NewAccountSpec("x", AccountTypeUserWallet, NatureLiability, UserID{}, "rupees"); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
}

func TestNewMetadataJSON(t *testing.T) {
	t.Parallel()
	meta, err := NewMetadataJSON("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.String() != "{}" {
		t.Fatalf("expected default metadata to be '{}', got %q", meta.String())
	}
	_, err = NewMetadataJSON("not-json")
	if !errors.Is(err, ErrInvalidMetadataJSON) {
		t.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}
