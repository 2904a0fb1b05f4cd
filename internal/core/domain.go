package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AccountCash AccountType = "CASH"
	AccountBank AccountType = "BANK"

	CategoryIncome  CategoryType = "INCOME"
	CategoryExpense CategoryType = "EXPENSE"
)

type (
	AccountType  string
	CategoryType string

	// Date is a calendar day (no time-of-day component, UTC).
	Date struct {
		time.Time
	}

	Account struct {
		ID        uuid.UUID
		Name      string
		Type      AccountType
		Balance   Money // authoritative running balance, maintained per write
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Category struct {
		ID        uuid.UUID
		Name      string
		Type      CategoryType
		Color     string
		CreatedAt time.Time
	}

	// Transaction is an immutable fact; only its category may be
	// re-assigned after creation.
	Transaction struct {
		ID          uuid.UUID
		AccountID   uuid.UUID
		Amount      Money
		Date        Date
		Description string
		CategoryID  *uuid.UUID
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCurrency  = errors.New("invalid currency")
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrInvalidName      = errors.New("invalid name")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidType      = errors.New("invalid type")
	ErrInvalidDate      = errors.New("invalid date")
	ErrNotFound         = errors.New("not found")
)

func (t AccountType) Valid() bool {
	return t == AccountCash || t == AccountBank
}

func (t CategoryType) Valid() bool {
	return t == CategoryIncome || t == CategoryExpense
}

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// ISO returns the YYYY-MM-DD form used for storage and the wire.
func (d Date) ISO() string {
	return d.Format("2006-01-02")
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// validName rejects empty names, names shorter than two characters and
// surrounding whitespace.
func validName(name string) bool {
	return len(name) >= 2 && name == strings.TrimSpace(name)
}

// ValidateName applies the shared naming rule for accounts and categories.
func ValidateName(name string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	return nil
}

func (a Account) Validate() error {
	if !validName(a.Name) {
		return ErrInvalidName
	}
	if !a.Type.Valid() {
		return ErrInvalidType
	}
	return a.Balance.Validate()
}

func (c Category) Validate() error {
	if !validName(c.Name) {
		return ErrInvalidName
	}
	if !c.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

func (t Transaction) Validate() error {
	if t.AccountID == uuid.Nil {
		return errors.New("missing account reference")
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	desc := t.Description
	if desc == "" || desc != strings.TrimSpace(desc) {
		return ErrEmptyDescription
	}
	if len(desc) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return t.Amount.Validate()
}
