package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"Groceries", true},
		{"It", true},
		{"A", false},
		{"", false},
		{" padded ", false},
		{"trailing ", false},
	}
	for _, tc := range cases {
		err := ValidateName(tc.name)
		if tc.ok && err != nil {
			t.Fatalf("%q expected valid, got %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidName) {
			t.Fatalf("%q expected ErrInvalidName, got %v", tc.name, err)
		}
	}
}

func TestAccountValidate(t *testing.T) {
	valid := Account{Name: "Checking", Type: AccountBank, Balance: Money{Cents: 0, Currency: "EUR"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid account, got %v", err)
	}

	bad := valid
	bad.Type = "SAVINGS"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}

	bad = valid
	bad.Balance.Currency = "ZZZ"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
}

func TestCategoryValidate(t *testing.T) {
	valid := Category{Name: "Salary", Type: CategoryIncome}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid category, got %v", err)
	}

	bad := valid
	bad.Type = "TRANSFER"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestTransactionValidate(t *testing.T) {
	valid := Transaction{
		AccountID:   uuid.New(),
		Amount:      Money{Cents: -500, Currency: "EUR"},
		Date:        NewDate(2025, 8, 14),
		Description: "Coffee",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid transaction, got %v", err)
	}

	bad := valid
	bad.AccountID = uuid.Nil
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for missing account reference")
	}

	bad = valid
	bad.Description = ""
	if err := bad.Validate(); !errors.Is(err, ErrEmptyDescription) {
		t.Fatalf("expected ErrEmptyDescription, got %v", err)
	}

	bad = valid
	bad.Description = " padded "
	if err := bad.Validate(); !errors.Is(err, ErrEmptyDescription) {
		t.Fatalf("expected ErrEmptyDescription for surrounding whitespace, got %v", err)
	}

	bad = valid
	bad.Description = strings.Repeat("x", 201)
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for overlong description")
	}

	bad = valid
	bad.Date = Date{}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestDateParseAndISO(t *testing.T) {
	d, err := ParseDate("2025-08-14")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.ISO() != "2025-08-14" {
		t.Fatalf("expected 2025-08-14, got %s", d.ISO())
	}
	if _, err := ParseDate("14/08/2025"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestMonthBuckets(t *testing.T) {
	d := NewDate(2025, 8, 14)
	m := MonthOf(d.Time)
	if m.ISO() != "2025-08-01" {
		t.Fatalf("expected 2025-08-01, got %s", m.ISO())
	}
	if got := m.AddMonths(-2).ISO(); got != "2025-06-01" {
		t.Fatalf("expected 2025-06-01, got %s", got)
	}
	if got := m.AddMonths(5).ISO(); got != "2026-01-01" {
		t.Fatalf("expected 2026-01-01, got %s", got)
	}
	if !m.AddMonths(-1).Before(m) {
		t.Fatal("July should sort before August")
	}
	parsed, err := ParseMonth("2025-08-01")
	if err != nil || !parsed.Equal(m) {
		t.Fatalf("ParseMonth mismatch: %v (err=%v)", parsed, err)
	}
}
