package types

import (
	"database/sql/driver"
	"fmt"
)

// PurchaseStatus is the closed set of states a purchase attempt can be in.
// Values outside the set are rejected on scan, unmarshal and parse.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
	PurchaseStatusCanceled  PurchaseStatus = "canceled"
)

var AllPurchaseStatuses = []PurchaseStatus{
	PurchaseStatusPending,
	PurchaseStatusCompleted,
	PurchaseStatusFailed,
	PurchaseStatusRefunded,
	PurchaseStatusCanceled,
}

func ParsePurchaseStatus(s string) (PurchaseStatus, error) {
	st := PurchaseStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown purchase status: %q", s)
	}
	return st, nil
}

func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseStatusPending, PurchaseStatusCompleted, PurchaseStatusFailed, PurchaseStatusRefunded, PurchaseStatusCanceled:
		return true
	}
	return false
}

// Active statuses block a new checkout for the same user/course pair.
func (s PurchaseStatus) Active() bool {
	return s == PurchaseStatusPending || s == PurchaseStatusCompleted
}

func (s PurchaseStatus) Terminal() bool {
	switch s {
	case PurchaseStatusFailed, PurchaseStatusRefunded, PurchaseStatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> to is an edge of the purchase state machine:
//
//	pending   -> completed | failed | canceled
//	completed -> refunded | canceled
//
// failed, refunded and canceled are terminal.
func (s PurchaseStatus) CanTransitionTo(to PurchaseStatus) bool {
	switch s {
	case PurchaseStatusPending:
		return to == PurchaseStatusCompleted || to == PurchaseStatusFailed || to == PurchaseStatusCanceled
	case PurchaseStatusCompleted:
		return to == PurchaseStatusRefunded || to == PurchaseStatusCanceled
	case PurchaseStatusFailed, PurchaseStatusRefunded, PurchaseStatusCanceled:
		return false
	default:
		return false
	}
}

// GrantsEnrollment reports whether entering s grants course access.
func (s PurchaseStatus) GrantsEnrollment() bool {
	return s == PurchaseStatusCompleted
}

// RevokesEnrollment reports whether leaving completed for s revokes course access.
func (s PurchaseStatus) RevokesEnrollment() bool {
	return s == PurchaseStatusRefunded || s == PurchaseStatusCanceled
}

func (s PurchaseStatus) String() string { return string(s) }

func (s PurchaseStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown purchase status: %q", string(s))
	}
	return string(s), nil
}

func (s *PurchaseStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into PurchaseStatus", src)
	}
	st, err := ParsePurchaseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func (s *PurchaseStatus) UnmarshalText(b []byte) error {
	st, err := ParsePurchaseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func (s PurchaseStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// Course is a catalog entry as seeded from configuration.
type Course struct {
	ID              string `json:"id" mapstructure:"id"`
	Title           string `json:"title" mapstructure:"title"`
	Description     string `json:"description" mapstructure:"description"`
	Thumbnail       string `json:"thumbnail" mapstructure:"thumbnail"`
	EducatorID      string `json:"educator_id" mapstructure:"educator_id"`
	EducatorName    string `json:"educator_name" mapstructure:"educator_name"`
	PriceMinor      int64  `json:"price_minor" mapstructure:"price_minor"`
	DiscountPercent int    `json:"discount_percent" mapstructure:"discount_percent"`
	Currency        string `json:"currency" mapstructure:"currency"`
}
