package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type (
	// Date is a calendar day without time component, always stored at UTC midnight.
	Date struct {
		time.Time
	}

	// Transaction is a single recorded spend. Immutable once created.
	Transaction struct {
		ID          string          `json:"id"`
		UserID      string          `json:"user_id"`
		Amount      decimal.Decimal `json:"amount"`
		Category    string          `json:"category"` // raw label from the entry source
		Description string          `json:"description"`
		Date        Date            `json:"date"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	// Budget is a monthly ceiling for one category, unique per (UserID, Category).
	Budget struct {
		ID        string          `json:"id"`
		UserID    string          `json:"user_id"`
		Category  string          `json:"category"`
		Limit     decimal.Decimal `json:"limit"`
		UpdatedAt time.Time       `json:"updated_at"`
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// Today returns the current local calendar day.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: invalid date %q", ErrValidation, s)
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// The embedded time.Time marshalers would emit RFC 3339, so both the text and
// JSON forms are overridden.

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	return d.UnmarshalText([]byte(s))
}

// Before reports whether d is an earlier day than o.
func (d Date) Before(o Date) bool {
	return d.Time.Before(o.Time)
}
