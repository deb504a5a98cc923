package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// VerificationStatus tracks the general identity check for a user.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// KYCStatus tracks the document-based verification track.
type KYCStatus string

const (
	KYCNotSubmitted KYCStatus = "not_submitted"
	KYCSubmitted    KYCStatus = "submitted"
	KYCApproved     KYCStatus = "approved"
	KYCRejected     KYCStatus = "rejected"
)

// AccountStatus is the account standing of a user.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// User represents an earning account within the platform.
type User struct {
	ID                      string
	Email                   string
	Balance                 decimal.Decimal
	VerificationStatus      VerificationStatus
	KYCStatus               KYCStatus
	KYCFeePaid              bool
	AccountStatus           AccountStatus
	ConsecutiveTargetMisses int
	SuspensionReason        string
	SuspendedAt             *time.Time
	SuspensionCount         int
	EvaluatedThrough        time.Time
	ReferralCode            string
	ReferredBy              string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Video is a catalog entry that can pay out once per user.
type Video struct {
	ID              string
	Title           string
	SourceURL       string
	DurationSeconds float64
	EarningAmount   decimal.Decimal
	CreatedAt       time.Time
}

// WatchSession is the progress cursor for one (user, video) pair.
type WatchSession struct {
	UserID               string
	VideoID              string
	VideoDurationSeconds float64
	WatchedSeconds       float64
	LastValidPosition    float64
	LastReportAt         *time.Time
	IsCompleted          bool
	IsEarningCredited    bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// EarningType classifies ledger credits.
type EarningType string

const (
	EarningVideo       EarningType = "video"
	EarningReferral    EarningType = "referral"
	EarningSignupBonus EarningType = "signup_bonus"
	EarningHourlyBonus EarningType = "hourly_bonus"
	EarningTask        EarningType = "task"
)

// Valid reports whether the type is one of the known earning sources.
func (t EarningType) Valid() bool {
	switch t {
	case EarningVideo, EarningReferral, EarningSignupBonus, EarningHourlyBonus, EarningTask:
		return true
	}
	return false
}

// EarningsEntry is an append-only credit record.
type EarningsEntry struct {
	ID        string
	UserID    string
	Type      EarningType
	Amount    decimal.Decimal
	SourceRef string
	CreatedAt time.Time
}

// DailyEngagementRecord aggregates watch time for one user and calendar day.
type DailyEngagementRecord struct {
	UserID         string
	Day            time.Time
	WatchedSeconds float64
	TargetMinutes  int
	MetTarget      *bool
	FinalizedAt    *time.Time
}

// WatchedMinutes returns the whole minutes watched on the day.
func (r DailyEngagementRecord) WatchedMinutes() int {
	return int(r.WatchedSeconds / 60)
}

// PayoutStatus is the lifecycle state of a withdrawal request.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
	PayoutDeclined   PayoutStatus = "declined"
)

// Terminal reports whether no further transitions are allowed.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutCompleted || s == PayoutFailed || s == PayoutDeclined
}

// PayoutRequest is a user withdrawal request.
type PayoutRequest struct {
	ID          string
	UserID      string
	Amount      decimal.Decimal
	Status      PayoutStatus
	RequestedAt time.Time
	ProcessedAt *time.Time
	Reason      string
	BatchID     string
}

// ReactivationStatus is the lifecycle state of a reactivation payment.
type ReactivationStatus string

const (
	ReactivationCreated  ReactivationStatus = "created"
	ReactivationVerified ReactivationStatus = "verified"
	ReactivationFailed   ReactivationStatus = "failed"
)

// ReactivationOrder tracks a gateway payment that lifts a suspension.
type ReactivationOrder struct {
	ID         string
	UserID     string
	OrderID    string
	Amount     decimal.Decimal
	Status     ReactivationStatus
	Episode    int
	PaymentURL string
	CreatedAt  time.Time
	VerifiedAt *time.Time
}

// Task is a one-off activity that rewards the user once.
type Task struct {
	ID           string
	Title        string
	RewardAmount decimal.Decimal
	Active       bool
}

// BalanceDrift describes a user whose cached balance disagrees with the ledger.
type BalanceDrift struct {
	UserID           string
	CachedBalance    decimal.Decimal
	LedgerSum        decimal.Decimal
	CompletedPayouts decimal.Decimal
}

// Expected returns the balance implied by the ledger.
func (d BalanceDrift) Expected() decimal.Decimal {
	return d.LedgerSum.Sub(d.CompletedPayouts)
}

// Delta returns cached minus expected.
func (d BalanceDrift) Delta() decimal.Decimal {
	return d.CachedBalance.Sub(d.Expected())
}
