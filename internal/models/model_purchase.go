package models

import (
	"time"

	"github.com/fatflowers/academy/pkg/types"

	"gorm.io/datatypes"
)

// PurchaseMetadata holds the receipt annotations stamped on a purchase.
// It is the only part of a record that may change besides status.
type PurchaseMetadata struct {
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	ReceiptURL      string `json:"receipt_url,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	// EventID is the gateway event that produced the last transition.
	EventID string `json:"event_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
	// OperatorID is set when an administrator drove the transition.
	OperatorID string `json:"operator_id,omitempty"`
}

// Purchase is one purchase attempt for a user/course pair.
// Status changes go through the ledger's TransitionStatus only.
type Purchase struct {
	ID       string `gorm:"column:id;primary_key;type:uuid;index:idx_purchase_user_id_id,priority:2,sort:desc" json:"id"`
	UserID   string `gorm:"column:user_id;type:varchar(64);not null;index:idx_purchase_user_id_id,priority:1;index:idx_purchase_user_course,priority:1" json:"user_id"`
	CourseID string `gorm:"column:course_id;type:varchar(64);not null;index:idx_purchase_user_course,priority:2" json:"course_id"`
	// EducatorID is a snapshot of the course owner at checkout time.
	EducatorID  string               `gorm:"column:educator_id;type:varchar(64);not null;index" json:"educator_id"`
	AmountMinor int64                `gorm:"column:amount_minor;type:bigint;not null;check:amount_minor >= 0" json:"amount_minor"`
	Currency    string               `gorm:"column:currency;type:varchar(16);not null" json:"currency"`
	Status      types.PurchaseStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	// SessionID is nil for free courses, which never reach the gateway.
	SessionID *string `gorm:"column:session_id;type:varchar(255);uniqueIndex" json:"session_id"`
	// PaymentIntentID is learned on completion and used to route refunds.
	PaymentIntentID *string                                `gorm:"column:payment_intent_id;type:varchar(255);index" json:"payment_intent_id"`
	Metadata        datatypes.JSONType[*PurchaseMetadata] `gorm:"column:metadata;type:jsonb;default:'{}'" json:"metadata"`
	CompletedAt     *time.Time                             `gorm:"column:completed_at;default:null" json:"completed_at"`
	CreatedAt       time.Time                              `json:"created_at"`
	UpdatedAt       time.Time                              `json:"updated_at"`
}

func (Purchase) TableName() string {
	return "purchase"
}

func (p *Purchase) GetMetadata() *PurchaseMetadata {
	if p == nil || p.Metadata.Data() == nil {
		return &PurchaseMetadata{}
	}
	return p.Metadata.Data()
}

// PurchaseLog records every status transition of a purchase, written in the
// same transaction as the transition itself.
type PurchaseLog struct {
	ID         string               `gorm:"column:id;primary_key;type:uuid"`
	PurchaseID string               `gorm:"column:purchase_id;type:uuid;not null;index"`
	UserID     string               `gorm:"column:user_id;type:varchar(64);not null"`
	From       types.PurchaseStatus `gorm:"column:from_status;type:varchar(32);not null"`
	To         types.PurchaseStatus `gorm:"column:to_status;type:varchar(32);not null"`
	// Extra carries the annotation that accompanied the transition.
	Extra     datatypes.JSONType[*PurchaseMetadata] `gorm:"column:extra;type:jsonb;default:'{}'"`
	CreatedAt time.Time                             `json:"created_at"`
}

func (PurchaseLog) TableName() string {
	return "purchase_log"
}
