// Package affiliate manages affiliate profiles, referral commissions, tier
// progression and the recurring payout calendar.
package affiliate

import (
	"time"

	"github.com/shopspring/decimal"
)

type NetworkSize string

const (
	NetworkUpTo100  NetworkSize = "1-100"
	NetworkUpTo1K   NetworkSize = "101-1,000"
	NetworkUpTo10K  NetworkSize = "1,001-10,000"
	NetworkUpTo100K NetworkSize = "10,001-100,000"
	NetworkOver100K NetworkSize = "100,001+"
)

func (n NetworkSize) Valid() bool {
	switch n {
	case NetworkUpTo100, NetworkUpTo1K, NetworkUpTo10K, NetworkUpTo100K, NetworkOver100K:
		return true
	}
	return false
}

type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusSuspended Status = "suspended"
	StatusRejected  Status = "rejected"
)

type RealEstateExperience string

const (
	ExperienceYes      RealEstateExperience = "yes"
	ExperienceNo       RealEstateExperience = "no"
	ExperienceIndirect RealEstateExperience = "indirect"
)

type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentPayPal       PaymentMethod = "paypal"
	PaymentWise         PaymentMethod = "wise"
	PaymentCrypto       PaymentMethod = "crypto"
)

type PayoutSchedule string

const (
	ScheduleWeekly    PayoutSchedule = "weekly"
	ScheduleBiweekly  PayoutSchedule = "biweekly"
	ScheduleMonthly   PayoutSchedule = "monthly"
	ScheduleQuarterly PayoutSchedule = "quarterly"
)

type Tier string

const (
	TierStandard Tier = "standard"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

type PayoutStatus string

const (
	PayoutScheduled  PayoutStatus = "scheduled"
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutFailed     PayoutStatus = "failed"
	PayoutCancelled  PayoutStatus = "cancelled"
)

const (
	// CookieName carries the referring affiliate id on the storefront.
	CookieName = "aff_id"
	CookieAge  = 365 * 24 * time.Hour
)

var (
	MinCommissionRate = decimal.RequireFromString("0.01")
	MaxCommissionRate = decimal.RequireFromString("0.50")
	// MinPayoutRequest is the smallest manual payout an affiliate may ask for.
	MinPayoutRequest     = decimal.RequireFromString("10.00")
	DefaultMinimumPayout = decimal.RequireFromString("50.00")

	// minimumPayoutCents overrides the profile minimum per currency.
	minimumPayoutCents = map[string]int64{
		"USD": 5000,
		"EUR": 4500,
		"GBP": 4000,
	}
)

type BankAccount struct {
	BankName             string      `json:"bank_name"`
	AccountHolderName    string      `json:"account_holder_name"`
	RoutingNumber        string      `json:"routing_number"`
	AccountNumber        string      `json:"account_number"`
	AccountType          AccountType `json:"account_type"`
	LastFour             string      `json:"last_four"`
	IsVerified           bool        `json:"is_verified"`
	VerificationAttempts int         `json:"verification_attempts"`
}

type TaxInfo struct {
	TaxID           string     `json:"tax_id"`
	TaxIDType       string     `json:"tax_id_type"`
	TaxFormReceived *time.Time `json:"tax_form_received,omitempty"`
	TaxFormType     string     `json:"tax_form_type"`
	TaxFormURL      string     `json:"tax_form_url,omitempty"`
	IsUSPerson      bool       `json:"is_us_person"`
}

type NotificationPreferences struct {
	EmailCommissionEarned bool `json:"email_commission_earned"`
	EmailPayoutSent       bool `json:"email_payout_sent"`
	EmailMonthlyStatement bool `json:"email_monthly_statement"`
	EmailPromotions       bool `json:"email_promotions"`
	EmailNewsletter       bool `json:"email_newsletter"`
	PushCommissionEarned  bool `json:"push_commission_earned"`
	PushPayoutSent        bool `json:"push_payout_sent"`
	SMSImportantUpdates   bool `json:"sms_important_updates"`
}

func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		EmailCommissionEarned: true,
		EmailPayoutSent:       true,
		EmailMonthlyStatement: true,
		EmailPromotions:       true,
		EmailNewsletter:       true,
		PushCommissionEarned:  true,
		PushPayoutSent:        true,
	}
}

type Profile struct {
	ID                   string
	UserID               string
	Email                string
	NetworkSize          NetworkSize
	SocialHandle         string
	Website              string
	CommissionRate       decimal.Decimal
	CustomRate           bool
	Tier                 Tier
	Status               Status
	IsActive             bool
	RealEstateExperience RealEstateExperience
	CustomPromoCode      string
	Currency             string
	PayoutSchedule       PayoutSchedule
	PaymentMethod        PaymentMethod
	// ScheduleAnchor is when the current schedule started; due dates are
	// counted from it so month-end clamping never drifts.
	ScheduleAnchor   time.Time
	LastPayoutDate   *time.Time
	NextPayoutDate   time.Time
	MinimumPayout    decimal.Decimal
	BankAccount      *BankAccount
	TaxInfo          *TaxInfo
	Notifications    NotificationPreferences
	TotalReferrals   int
	ActiveReferrals  int
	TotalCommissions decimal.Decimal
	PendingPayout    decimal.Decimal
	AdminNotes       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LifetimeEarnings is settled plus pending commission.
func (p Profile) LifetimeEarnings() decimal.Decimal {
	return p.TotalCommissions.Add(p.PendingPayout)
}

// ConversionRate is converted referrals over all referrals.
func (p Profile) ConversionRate() decimal.Decimal {
	if p.TotalReferrals == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(p.ActiveReferrals)).
		Div(decimal.NewFromInt(int64(p.TotalReferrals))).
		Round(4)
}

// PayoutThreshold is the minimum balance before an automatic payout.
func (p Profile) PayoutThreshold() decimal.Decimal {
	if cents, ok := minimumPayoutCents[p.Currency]; ok {
		return decimal.New(cents, -2)
	}
	return p.MinimumPayout
}

func (p Profile) eligibleForPayout() bool {
	return p.Status == StatusApproved && p.IsActive
}

type Payout struct {
	ID            string
	AffiliateID   string
	Amount        decimal.Decimal
	Currency      string
	Status        PayoutStatus
	IsRecurring   bool
	ScheduleID    string
	PaymentMethod PaymentMethod
	ReferenceID   string
	InitiatedAt   time.Time
	CompletedAt   *time.Time
	Notes         string
}

type Referral struct {
	ID               string
	AffiliateID      string
	ReferredUserID   string
	ReferredEmail    string
	ReferralCode     string
	Source           string
	Campaign         string
	IPAddress        string
	UserAgent        string
	Converted        bool
	ConversionDate   *time.Time
	ConversionValue  decimal.Decimal
	CommissionEarned decimal.Decimal
	Metadata         map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type DashboardStats struct {
	TotalCommissions decimal.Decimal `json:"total_commissions"`
	PendingPayout    decimal.Decimal `json:"pending_payout"`
	LifetimeEarnings decimal.Decimal `json:"lifetime_earnings"`
	TotalReferrals   int             `json:"total_referrals"`
	ActiveReferrals  int             `json:"active_referrals"`
	ConversionRate   decimal.Decimal `json:"conversion_rate"`
	NextPayoutDate   time.Time       `json:"next_payout_date"`
	PayoutThreshold  decimal.Decimal `json:"payout_threshold"`
	Tier             Tier            `json:"tier"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
}
