package affiliate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/discount"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/metrics"
	"leadignite/api/internal/money"
	"leadignite/api/internal/util"
	"leadignite/api/internal/validate"
)

// Notifier delivers affiliate lifecycle emails.
type Notifier interface {
	SendAffiliateWelcome(ctx context.Context, to, handle string) error
	SendPayoutProcessed(ctx context.Context, to string, amount decimal.Decimal, currency string) error
	SendTierUpgraded(ctx context.Context, to string, tier string, rate decimal.Decimal) error
}

// PromoIssuer creates the discount code behind an affiliate's promo code.
type PromoIssuer interface {
	Create(ctx context.Context, req discount.CreateRequest) (discount.Discount, error)
	Get(ctx context.Context, code string) (discount.Discount, error)
}

// Auditor receives admin overrides of affiliate profiles.
type Auditor interface {
	AffiliateUpdated(ctx context.Context, actorID, affiliateID string, changes map[string]any) error
}

type Options struct {
	DefaultCurrency string
	// PromoPercent is the discount granted by an approved affiliate's
	// custom promo code.
	PromoPercent decimal.Decimal
}

type Service struct {
	repo     Repository
	notifier Notifier
	promos   PromoIssuer
	auditor  Auditor
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	// mu serializes balance mutations.
	mu sync.Mutex
}

func NewService(repo Repository, notifier Notifier, promos PromoIssuer, opts Options, logger *zap.Logger) *Service {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	if opts.PromoPercent.IsZero() {
		opts.PromoPercent = decimal.NewFromInt(10)
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		promos:   promos,
		opts:     opts,
		logger:   logging.OrNop(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithAuditor(a Auditor) *Service {
	s.auditor = a
	return s
}

type RegisterRequest struct {
	UserID               string               `json:"user_id" validate:"required"`
	Email                string               `json:"email" validate:"required,email"`
	NetworkSize          NetworkSize          `json:"network_size" validate:"required"`
	SocialHandle         string               `json:"social_handle" validate:"required,min=2,max=50"`
	Website              string               `json:"website" validate:"omitempty,url"`
	RealEstateExperience RealEstateExperience `json:"real_estate_experience" validate:"required,oneof=yes no indirect"`
	CustomPromoCode      string               `json:"custom_promo_code" validate:"omitempty,min=4,max=20,promocode"`
	PayoutSchedule       PayoutSchedule       `json:"payout_schedule" validate:"omitempty,oneof=weekly biweekly monthly quarterly"`
	PaymentMethod        PaymentMethod        `json:"payment_method" validate:"omitempty,oneof=bank_transfer paypal wise crypto"`
	Currency             string               `json:"currency" validate:"omitempty,currency"`
}

// Register creates a pending standard-tier profile.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Profile, error) {
	req.CustomPromoCode = strings.ToUpper(strings.TrimSpace(req.CustomPromoCode))
	if err := validate.Struct(req); err != nil {
		return Profile{}, err
	}
	if !req.NetworkSize.Valid() {
		return Profile{}, apperr.Invalid("Invalid network size", nil)
	}
	schedule := req.PayoutSchedule
	if schedule == "" {
		schedule = ScheduleMonthly
	}
	method := req.PaymentMethod
	if method == "" {
		method = PaymentBankTransfer
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}

	now := s.now()
	p := Profile{
		ID:                   util.NewID("aff"),
		UserID:               req.UserID,
		Email:                strings.ToLower(strings.TrimSpace(req.Email)),
		NetworkSize:          req.NetworkSize,
		SocialHandle:         req.SocialHandle,
		Website:              req.Website,
		CommissionRate:       CommissionRate(TierStandard),
		Tier:                 TierStandard,
		Status:               StatusPending,
		IsActive:             true,
		RealEstateExperience: req.RealEstateExperience,
		CustomPromoCode:      req.CustomPromoCode,
		Currency:             currency,
		PayoutSchedule:       schedule,
		PaymentMethod:        method,
		ScheduleAnchor:       now,
		NextPayoutDate:       NextPayoutDate(schedule, now),
		MinimumPayout:        DefaultMinimumPayout,
		Notifications:        DefaultNotificationPreferences(),
		TotalCommissions:     decimal.Zero,
		PendingPayout:        decimal.Zero,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.InsertProfile(ctx, p); err != nil {
		if errors.Is(err, ErrExists) {
			return Profile{}, apperr.Conflict("AFFILIATE_EXISTS", "User is already an affiliate or promo code is taken")
		}
		return Profile{}, fmt.Errorf("insert affiliate: %w", err)
	}
	s.logger.Info("affiliate registered", zap.String("affiliate_id", p.ID), zap.String("user_id", p.UserID))
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (Profile, error) {
	p, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Profile{}, apperr.NotFound("Affiliate")
		}
		return Profile{}, fmt.Errorf("get affiliate: %w", err)
	}
	return p, nil
}

func (s *Service) GetByUser(ctx context.Context, userID string) (Profile, error) {
	p, err := s.repo.GetProfileByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Profile{}, apperr.NotFound("Affiliate")
		}
		return Profile{}, fmt.Errorf("get affiliate by user: %w", err)
	}
	return p, nil
}

// Approve issues the promo code discount, activates the affiliate and sends
// the welcome email. A promo code already owned by someone else blocks the
// approval; one already issued to this affiliate is reused.
func (s *Service) Approve(ctx context.Context, id string) (Profile, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if p.Status == StatusRejected {
		return Profile{}, apperr.Conflict("AFFILIATE_REJECTED", "Rejected affiliates cannot change status")
	}
	if p.CustomPromoCode != "" && s.promos != nil {
		if err := s.issuePromo(ctx, p); err != nil {
			return Profile{}, err
		}
	}
	p, err = s.setStatus(ctx, id, StatusApproved)
	if err != nil {
		return Profile{}, err
	}
	if s.notifier != nil {
		if err := s.notifier.SendAffiliateWelcome(ctx, p.Email, p.SocialHandle); err != nil {
			s.logger.Warn("affiliate welcome email failed", zap.String("affiliate_id", p.ID), zap.Error(err))
		}
	}
	return p, nil
}

func (s *Service) issuePromo(ctx context.Context, p Profile) error {
	_, err := s.promos.Create(ctx, discount.CreateRequest{
		Code:        p.CustomPromoCode,
		Description: "Affiliate promo code for " + p.SocialHandle,
		Type:        discount.TypePercentage,
		Value:       s.opts.PromoPercent,
		AffiliateID: p.ID,
	})
	if err == nil {
		return nil
	}
	if apperr.StatusOf(err) != http.StatusConflict {
		return fmt.Errorf("issue promo code: %w", err)
	}
	existing, getErr := s.promos.Get(ctx, p.CustomPromoCode)
	if getErr != nil {
		return fmt.Errorf("look up promo code: %w", getErr)
	}
	if existing.AffiliateID != p.ID {
		return apperr.Conflict("PROMO_CODE_TAKEN", fmt.Sprintf("Promo code %s belongs to another discount", existing.Code))
	}
	return nil
}

func (s *Service) Suspend(ctx context.Context, id string) (Profile, error) {
	return s.setStatus(ctx, id, StatusSuspended)
}

func (s *Service) Reject(ctx context.Context, id string) (Profile, error) {
	return s.setStatus(ctx, id, StatusRejected)
}

func (s *Service) setStatus(ctx context.Context, id string, status Status) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if p.Status == StatusRejected && status != StatusRejected {
		return Profile{}, apperr.Conflict("AFFILIATE_REJECTED", "Rejected affiliates cannot change status")
	}
	p.Status = status
	p.UpdatedAt = s.now()
	if err := s.repo.UpdateProfile(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("update affiliate status: %w", err)
	}
	s.logger.Info("affiliate status changed", zap.String("affiliate_id", id), zap.String("status", string(status)))
	return p, nil
}

type UpdateRequest struct {
	NetworkSize     *NetworkSize             `json:"network_size"`
	SocialHandle    *string                  `json:"social_handle" validate:"omitempty,min=2,max=50"`
	Website         *string                  `json:"website" validate:"omitempty,url"`
	CustomPromoCode *string                  `json:"custom_promo_code" validate:"omitempty,min=4,max=20,promocode"`
	PayoutSchedule  *PayoutSchedule          `json:"payout_schedule" validate:"omitempty,oneof=weekly biweekly monthly quarterly"`
	PaymentMethod   *PaymentMethod           `json:"payment_method" validate:"omitempty,oneof=bank_transfer paypal wise crypto"`
	Notifications   *NotificationPreferences `json:"notification_prefs"`
}

// UpdateProfile applies the affiliate-editable fields. Changing the payout
// schedule restarts the schedule from now.
func (s *Service) UpdateProfile(ctx context.Context, id string, req UpdateRequest) (Profile, error) {
	if req.CustomPromoCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*req.CustomPromoCode))
		req.CustomPromoCode = &code
	}
	if err := validate.Struct(req); err != nil {
		return Profile{}, err
	}
	if req.NetworkSize != nil && !req.NetworkSize.Valid() {
		return Profile{}, apperr.Invalid("Invalid network size", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	now := s.now()
	if req.NetworkSize != nil {
		p.NetworkSize = *req.NetworkSize
	}
	if req.SocialHandle != nil {
		p.SocialHandle = *req.SocialHandle
	}
	if req.Website != nil {
		p.Website = *req.Website
	}
	if req.CustomPromoCode != nil {
		p.CustomPromoCode = *req.CustomPromoCode
	}
	if req.PaymentMethod != nil {
		p.PaymentMethod = *req.PaymentMethod
	}
	if req.Notifications != nil {
		p.Notifications = *req.Notifications
	}
	if req.PayoutSchedule != nil && *req.PayoutSchedule != p.PayoutSchedule {
		p.PayoutSchedule = *req.PayoutSchedule
		p.ScheduleAnchor = now
		p.NextPayoutDate = NextPayoutDate(p.PayoutSchedule, now)
	}
	p.UpdatedAt = now
	if err := s.repo.UpdateProfile(ctx, p); err != nil {
		if errors.Is(err, ErrExists) {
			return Profile{}, apperr.Conflict("PROMO_CODE_TAKEN", "Promo code is already in use")
		}
		return Profile{}, fmt.Errorf("update affiliate: %w", err)
	}
	return p, nil
}

type AdminUpdateRequest struct {
	Status               *Status          `json:"status" validate:"omitempty,oneof=pending approved suspended rejected"`
	Tier                 *Tier            `json:"tier" validate:"omitempty,oneof=standard silver gold platinum"`
	CustomCommissionRate *decimal.Decimal `json:"custom_commission_rate"`
	Notes                *string          `json:"notes" validate:"omitempty,max=1000"`

	ActorID string `json:"-"`
}

// AdminUpdate lets staff override status, tier and commission rate. An
// explicit tier may move down; a custom rate pins the rate across tier
// changes.
func (s *Service) AdminUpdate(ctx context.Context, id string, req AdminUpdateRequest) (Profile, error) {
	if err := validate.Struct(req); err != nil {
		return Profile{}, err
	}
	if r := req.CustomCommissionRate; r != nil && (r.LessThan(MinCommissionRate) || r.GreaterThan(MaxCommissionRate)) {
		return Profile{}, apperr.Invalid("Custom commission rate must be between 0.01 and 0.50", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	changes := map[string]any{}
	if req.Status != nil {
		changes["status"] = map[string]any{"from": string(p.Status), "to": string(*req.Status)}
		p.Status = *req.Status
	}
	if req.Tier != nil {
		changes["tier"] = map[string]any{"from": string(p.Tier), "to": string(*req.Tier)}
		p.Tier = *req.Tier
		if !p.CustomRate {
			p.CommissionRate = CommissionRate(p.Tier)
		}
	}
	if req.CustomCommissionRate != nil {
		changes["commission_rate"] = map[string]any{"from": p.CommissionRate.String(), "to": req.CustomCommissionRate.String()}
		p.CommissionRate = *req.CustomCommissionRate
		p.CustomRate = true
	}
	if req.Notes != nil {
		changes["notes_updated"] = true
		p.AdminNotes = *req.Notes
	}
	p.UpdatedAt = s.now()
	if err := s.repo.UpdateProfile(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("admin update affiliate: %w", err)
	}
	if s.auditor != nil && len(changes) > 0 {
		if err := s.auditor.AffiliateUpdated(ctx, req.ActorID, p.ID, changes); err != nil {
			s.logger.Warn("audit affiliate update failed", zap.String("affiliate_id", p.ID), zap.Error(err))
		}
	}
	return p, nil
}

type BankAccountRequest struct {
	BankName          string      `json:"bank_name" validate:"required,min=2,max=100"`
	AccountHolderName string      `json:"account_holder_name" validate:"required,min=2,max=100"`
	RoutingNumber     string      `json:"routing_number" validate:"required,routing"`
	AccountNumber     string      `json:"account_number" validate:"required,min=4,max=17"`
	AccountType       AccountType `json:"account_type" validate:"required,oneof=checking savings"`
}

// SetBankAccount stores payout bank details, keeping only a masked account
// number.
func (s *Service) SetBankAccount(ctx context.Context, id string, req BankAccountRequest) (Profile, error) {
	if err := validate.Struct(req); err != nil {
		return Profile{}, err
	}
	last4 := req.AccountNumber[len(req.AccountNumber)-4:]

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	p.BankAccount = &BankAccount{
		BankName:          req.BankName,
		AccountHolderName: req.AccountHolderName,
		RoutingNumber:     req.RoutingNumber,
		AccountNumber:     strings.Repeat("*", len(req.AccountNumber)-4) + last4,
		AccountType:       req.AccountType,
		LastFour:          last4,
	}
	p.UpdatedAt = s.now()
	if err := s.repo.UpdateProfile(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("set bank account: %w", err)
	}
	return p, nil
}

type TaxInfoRequest struct {
	TaxID       string `json:"tax_id" validate:"required,min=9,max=11"`
	TaxIDType   string `json:"tax_id_type" validate:"required,oneof=SSN EIN"`
	TaxFormType string `json:"tax_form_type" validate:"required"`
	TaxFormURL  string `json:"tax_form_url" validate:"omitempty,url"`
	IsUSPerson  bool   `json:"is_us_person"`
}

func (s *Service) SetTaxInfo(ctx context.Context, id string, req TaxInfoRequest) (Profile, error) {
	req.TaxIDType = strings.ToUpper(req.TaxIDType)
	if err := validate.Struct(req); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	received := s.now()
	p.TaxInfo = &TaxInfo{
		TaxID:           req.TaxID,
		TaxIDType:       req.TaxIDType,
		TaxFormReceived: &received,
		TaxFormType:     req.TaxFormType,
		TaxFormURL:      req.TaxFormURL,
		IsUSPerson:      req.IsUSPerson,
	}
	p.UpdatedAt = received
	if err := s.repo.UpdateProfile(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("set tax info: %w", err)
	}
	return p, nil
}

type ReferralRequest struct {
	ReferralCode   string         `json:"referral_code" validate:"required,min=4,max=20"`
	ReferredUserID string         `json:"referred_user_id" validate:"required"`
	ReferredEmail  string         `json:"referred_email" validate:"required,email"`
	Source         string         `json:"source"`
	Campaign       string         `json:"campaign"`
	IPAddress      string         `json:"ip_address" validate:"omitempty,ip"`
	UserAgent      string         `json:"user_agent"`
	Metadata       map[string]any `json:"metadata"`
}

// RecordReferral attributes a new user to the affiliate owning the promo code.
func (s *Service) RecordReferral(ctx context.Context, req ReferralRequest) (Referral, error) {
	req.ReferralCode = strings.ToUpper(strings.TrimSpace(req.ReferralCode))
	if err := validate.Struct(req); err != nil {
		return Referral{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.repo.GetProfileByPromoCode(ctx, req.ReferralCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Referral{}, apperr.NotFound("Referral code")
		}
		return Referral{}, fmt.Errorf("lookup referral code: %w", err)
	}
	if !p.eligibleForPayout() {
		return Referral{}, apperr.Invalid("Affiliate is not accepting referrals", nil)
	}
	if _, err := s.repo.FindReferral(ctx, p.ID, req.ReferredUserID); err == nil {
		return Referral{}, apperr.Conflict("REFERRAL_EXISTS", "User was already referred by this affiliate")
	} else if !errors.Is(err, ErrNotFound) {
		return Referral{}, fmt.Errorf("find referral: %w", err)
	}

	source := req.Source
	if source == "" {
		source = "direct"
	}
	now := s.now()
	ref := Referral{
		ID:               util.NewID("ref"),
		AffiliateID:      p.ID,
		ReferredUserID:   req.ReferredUserID,
		ReferredEmail:    strings.ToLower(req.ReferredEmail),
		ReferralCode:     req.ReferralCode,
		Source:           source,
		Campaign:         req.Campaign,
		IPAddress:        req.IPAddress,
		UserAgent:        req.UserAgent,
		ConversionValue:  decimal.Zero,
		CommissionEarned: decimal.Zero,
		Metadata:         req.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.SaveReferral(ctx, ref); err != nil {
		return Referral{}, fmt.Errorf("save referral: %w", err)
	}
	p.TotalReferrals++
	p.UpdatedAt = now
	if err := s.repo.UpdateProfile(ctx, p); err != nil {
		return Referral{}, fmt.Errorf("update referral count: %w", err)
	}
	return ref, nil
}

// ConvertReferral books the commission for a converted referral at the
// affiliate's current rate.
func (s *Service) ConvertReferral(ctx context.Context, referralID string, value decimal.Decimal) (Referral, error) {
	if !value.IsPositive() {
		return Referral{}, apperr.Invalid("Conversion value must be positive", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ref, err := s.repo.GetReferral(ctx, referralID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Referral{}, apperr.NotFound("Referral")
		}
		return Referral{}, fmt.Errorf("get referral: %w", err)
	}
	if ref.Converted {
		return Referral{}, apperr.Conflict("ALREADY_CONVERTED", "Referral was already converted")
	}
	p, err := s.Get(ctx, ref.AffiliateID)
	if err != nil {
		return Referral{}, err
	}

	now := s.now()
	commission := money.Round(value.Mul(p.CommissionRate))
	ref.Converted = true
	ref.ConversionDate = &now
	ref.ConversionValue = money.Round(value)
	ref.CommissionEarned = commission
	ref.UpdatedAt = now
	if err := s.repo.SaveReferral(ctx, ref); err != nil {
		return Referral{}, fmt.Errorf("save referral: %w", err)
	}

	p.ActiveReferrals++
	p.PendingPayout = p.PendingPayout.Add(commission)
	p.UpdatedAt = now
	if err := s.repo.UpdateProfile(ctx, p); err != nil {
		return Referral{}, fmt.Errorf("update affiliate balance: %w", err)
	}
	s.logger.Info("referral converted",
		zap.String("affiliate_id", p.ID),
		zap.String("referral_id", ref.ID),
		zap.String("commission", commission.String()),
	)
	return ref, nil
}

func (s *Service) ListReferrals(ctx context.Context, affiliateID string) ([]Referral, error) {
	items, err := s.repo.ListReferrals(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	return items, nil
}

// RefreshTier upgrades the affiliate when its performance qualifies for a
// higher tier. Tiers never move down automatically.
func (s *Service) RefreshTier(ctx context.Context, id string) (Profile, bool, error) {
	s.mu.Lock()
	p, err := s.Get(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return Profile{}, false, err
	}
	earned := EvaluateTier(p)
	if earned.rank() <= p.Tier.rank() {
		s.mu.Unlock()
		return p, false, nil
	}
	p.Tier = earned
	if !p.CustomRate {
		p.CommissionRate = CommissionRate(earned)
	}
	p.UpdatedAt = s.now()
	if err := s.repo.UpdateProfile(ctx, p); err != nil {
		s.mu.Unlock()
		return Profile{}, false, fmt.Errorf("upgrade tier: %w", err)
	}
	s.mu.Unlock()

	s.logger.Info("affiliate tier upgraded", zap.String("affiliate_id", p.ID), zap.String("tier", string(p.Tier)))
	if s.notifier != nil {
		if err := s.notifier.SendTierUpgraded(ctx, p.Email, string(p.Tier), p.CommissionRate); err != nil {
			s.logger.Warn("tier upgrade email failed", zap.String("affiliate_id", p.ID), zap.Error(err))
		}
	}
	return p, true, nil
}

type PayoutRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"omitempty,currency"`
	PaymentMethod PaymentMethod   `json:"payment_method" validate:"required,oneof=bank_transfer paypal wise crypto"`
	Notes         string          `json:"notes" validate:"max=500"`
}

// RequestPayout moves part of the pending balance into a manual payout.
func (s *Service) RequestPayout(ctx context.Context, id string, req PayoutRequest) (Payout, error) {
	if err := validate.Struct(req); err != nil {
		return Payout{}, err
	}
	amount := money.Round(req.Amount)
	if amount.LessThan(MinPayoutRequest) {
		return Payout{}, apperr.Invalid("Payout amount must be at least 10.00", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.Get(ctx, id)
	if err != nil {
		return Payout{}, err
	}
	if !p.eligibleForPayout() {
		return Payout{}, apperr.Forbidden("Affiliate is not eligible for payouts")
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = p.Currency
	}
	if minimum := minimumFor(currency, p); amount.LessThan(minimum) {
		return Payout{}, apperr.Invalid(fmt.Sprintf("Minimum payout for %s is %s", currency, money.Format(minimum)), nil)
	}
	if amount.GreaterThan(p.PendingPayout) {
		return Payout{}, apperr.Invalid("Payout exceeds pending balance", nil)
	}

	now := s.now()
	payout := Payout{
		ID:            util.NewID("pay"),
		AffiliateID:   p.ID,
		Amount:        amount,
		Currency:      currency,
		Status:        PayoutPending,
		PaymentMethod: req.PaymentMethod,
		InitiatedAt:   now,
		Notes:         req.Notes,
	}
	if err := s.settle(ctx, &p, payout, now); err != nil {
		return Payout{}, err
	}
	metrics.AffiliatePayouts.WithLabelValues(string(PayoutPending)).Inc()
	return payout, nil
}

func minimumFor(currency string, p Profile) decimal.Decimal {
	if cents, ok := minimumPayoutCents[currency]; ok {
		return money.FromCents(cents)
	}
	return p.MinimumPayout
}

// settle persists payout and moves its amount from pending to settled
// commissions. Caller holds s.mu.
func (s *Service) settle(ctx context.Context, p *Profile, payout Payout, now time.Time) error {
	if err := s.repo.SavePayout(ctx, payout); err != nil {
		return fmt.Errorf("save payout: %w", err)
	}
	p.PendingPayout = p.PendingPayout.Sub(payout.Amount)
	p.TotalCommissions = p.TotalCommissions.Add(payout.Amount)
	p.LastPayoutDate = &now
	p.UpdatedAt = now
	if err := s.repo.UpdateProfile(ctx, *p); err != nil {
		return fmt.Errorf("update affiliate balance: %w", err)
	}
	return nil
}

// ProcessScheduledPayouts creates a recurring payout for every approved
// affiliate whose next payout date has arrived and whose pending balance
// meets its threshold, then advances the schedule past now. Affiliates below
// threshold keep their balance and roll to the next period.
func (s *Service) ProcessScheduledPayouts(ctx context.Context, now time.Time) ([]Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.repo.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list affiliates: %w", err)
	}
	created := make([]Payout, 0)
	for _, p := range profiles {
		if !p.eligibleForPayout() || p.NextPayoutDate.After(now) {
			continue
		}
		next := NextPayoutAfter(p.PayoutSchedule, p.ScheduleAnchor, now)
		if p.PendingPayout.LessThan(p.PayoutThreshold()) {
			p.NextPayoutDate = next
			p.UpdatedAt = now
			if err := s.repo.UpdateProfile(ctx, p); err != nil {
				return created, fmt.Errorf("roll payout date: %w", err)
			}
			s.logger.Debug("payout below threshold",
				zap.String("affiliate_id", p.ID),
				zap.String("pending", p.PendingPayout.String()),
			)
			continue
		}

		payout := Payout{
			ID:            util.NewID("pay"),
			AffiliateID:   p.ID,
			Amount:        p.PendingPayout,
			Currency:      p.Currency,
			Status:        PayoutScheduled,
			IsRecurring:   true,
			ScheduleID:    string(p.PayoutSchedule) + ":" + p.ID,
			PaymentMethod: p.PaymentMethod,
			InitiatedAt:   now,
		}
		p.NextPayoutDate = next
		if err := s.settle(ctx, &p, payout, now); err != nil {
			return created, err
		}
		metrics.AffiliatePayouts.WithLabelValues(string(PayoutScheduled)).Inc()
		s.logger.Info("scheduled payout created",
			zap.String("affiliate_id", p.ID),
			zap.String("payout_id", payout.ID),
			zap.String("amount", payout.Amount.String()),
			zap.Time("next_payout_date", next),
		)
		created = append(created, payout)
	}
	return created, nil
}

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutScheduled:  {PayoutProcessing, PayoutPaid, PayoutFailed, PayoutCancelled},
	PayoutPending:    {PayoutProcessing, PayoutPaid, PayoutFailed, PayoutCancelled},
	PayoutProcessing: {PayoutPaid, PayoutFailed},
}

func canTransition(from, to PayoutStatus) bool {
	for _, allowed := range payoutTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *Service) StartProcessing(ctx context.Context, payoutID string) (Payout, error) {
	return s.transition(ctx, payoutID, PayoutProcessing, "", "")
}

// MarkPayoutPaid completes a payout and emails the affiliate.
func (s *Service) MarkPayoutPaid(ctx context.Context, payoutID, referenceID string) (Payout, error) {
	payout, err := s.transition(ctx, payoutID, PayoutPaid, referenceID, "")
	if err != nil {
		return Payout{}, err
	}
	if s.notifier != nil {
		if p, err := s.Get(ctx, payout.AffiliateID); err == nil && p.Notifications.EmailPayoutSent {
			if err := s.notifier.SendPayoutProcessed(ctx, p.Email, payout.Amount, payout.Currency); err != nil {
				s.logger.Warn("payout email failed", zap.String("payout_id", payout.ID), zap.Error(err))
			}
		}
	}
	return payout, nil
}

// MarkPayoutFailed returns the payout amount to the pending balance.
func (s *Service) MarkPayoutFailed(ctx context.Context, payoutID, reason string) (Payout, error) {
	return s.transition(ctx, payoutID, PayoutFailed, "", reason)
}

// CancelPayout withdraws a payout that has not started processing.
func (s *Service) CancelPayout(ctx context.Context, payoutID, reason string) (Payout, error) {
	return s.transition(ctx, payoutID, PayoutCancelled, "", reason)
}

func (s *Service) transition(ctx context.Context, payoutID string, to PayoutStatus, referenceID, note string) (Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payout, err := s.repo.GetPayout(ctx, payoutID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Payout{}, apperr.NotFound("Payout")
		}
		return Payout{}, fmt.Errorf("get payout: %w", err)
	}
	if !canTransition(payout.Status, to) {
		return Payout{}, apperr.Conflict("INVALID_PAYOUT_TRANSITION",
			fmt.Sprintf("Payout cannot move from %s to %s", payout.Status, to))
	}

	now := s.now()
	payout.Status = to
	if referenceID != "" {
		payout.ReferenceID = referenceID
	}
	if note != "" {
		payout.Notes = strings.TrimSpace(payout.Notes + "\n" + note)
	}
	if to == PayoutPaid || to == PayoutFailed || to == PayoutCancelled {
		payout.CompletedAt = &now
	}
	if err := s.repo.SavePayout(ctx, payout); err != nil {
		return Payout{}, fmt.Errorf("save payout: %w", err)
	}

	if to == PayoutFailed || to == PayoutCancelled {
		p, err := s.Get(ctx, payout.AffiliateID)
		if err != nil {
			return Payout{}, err
		}
		p.TotalCommissions = p.TotalCommissions.Sub(payout.Amount)
		p.PendingPayout = p.PendingPayout.Add(payout.Amount)
		p.UpdatedAt = now
		if err := s.repo.UpdateProfile(ctx, p); err != nil {
			return Payout{}, fmt.Errorf("restore affiliate balance: %w", err)
		}
	}
	metrics.AffiliatePayouts.WithLabelValues(string(to)).Inc()
	return payout, nil
}

func (s *Service) ListPayouts(ctx context.Context, affiliateID string) ([]Payout, error) {
	items, err := s.repo.ListPayouts(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	return items, nil
}

func (s *Service) DashboardStats(ctx context.Context, id string) (DashboardStats, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return DashboardStats{}, err
	}
	return DashboardStats{
		TotalCommissions: p.TotalCommissions,
		PendingPayout:    p.PendingPayout,
		LifetimeEarnings: p.LifetimeEarnings(),
		TotalReferrals:   p.TotalReferrals,
		ActiveReferrals:  p.ActiveReferrals,
		ConversionRate:   p.ConversionRate(),
		NextPayoutDate:   p.NextPayoutDate,
		PayoutThreshold:  p.PayoutThreshold(),
		Tier:             p.Tier,
		CommissionRate:   p.CommissionRate,
	}, nil
}
