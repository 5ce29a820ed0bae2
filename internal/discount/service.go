package discount

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/metrics"
	"leadignite/api/internal/money"
	"leadignite/api/internal/util"
	"leadignite/api/internal/validate"
)

// Reason identifies which rule decided a validation.
type Reason string

const (
	ReasonValid         Reason = "valid"
	ReasonUnknownCode   Reason = "unknown_code"
	ReasonInvalidAmount Reason = "invalid_amount"
	ReasonInactive      Reason = "inactive"
	ReasonUsageLimit    Reason = "usage_limit_reached"
	ReasonUserLimit     Reason = "user_limit_reached"
	ReasonNotStarted    Reason = "not_started"
	ReasonExpired       Reason = "expired"
	ReasonMinPurchase   Reason = "min_purchase"
	ReasonProduct       Reason = "product_not_eligible"
	ReasonCategory      Reason = "category_not_eligible"
	ReasonAffiliate     Reason = "affiliate_mismatch"
)

const (
	msgInvalidCode   = "Invalid discount code"
	msgInvalidAmount = "Invalid amount format"
	msgInactive      = "This code is no longer active"
	msgUsageLimit    = "This code has reached its usage limit"
	msgUserLimit     = "You have already used this code the maximum number of times"
	msgNotStarted    = "This code is not yet valid"
	msgExpired       = "This code has expired"
	msgProduct       = "This code is not valid for the selected product"
	msgCategory      = "This code is not valid for the selected category"
	msgAffiliate     = "This code is not valid for your account"
	msgValid         = "Valid discount code"
	msgApplied       = "Discount applied successfully"
)

type Service struct {
	repo   Repository
	ledger UsageLedger
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, ledger UsageLedger, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests and batch jobs.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateRequest struct {
	Code               string           `json:"code" validate:"required,min=4,max=50,promocode"`
	Description        string           `json:"description" validate:"max=500"`
	Type               Type             `json:"discount_type" validate:"required,oneof=percentage fixed_amount"`
	Scope              Scope            `json:"scope" validate:"omitempty,oneof=global product category affiliate"`
	Value              decimal.Decimal  `json:"discount_value" validate:"gt=0"`
	MinPurchase        *decimal.Decimal `json:"min_purchase_amount" validate:"omitempty,gt=0"`
	MaxUses            *int             `json:"max_uses" validate:"omitempty,gt=0"`
	MaxUsesPerUser     *int             `json:"max_uses_per_user" validate:"omitempty,gt=0"`
	StartDate          *time.Time       `json:"start_date"`
	EndDate            *time.Time       `json:"end_date"`
	IsActive           *bool            `json:"is_active"`
	AllowedProducts    []string         `json:"allowed_products"`
	ExcludedProducts   []string         `json:"excluded_products"`
	AllowedCategories  []string         `json:"allowed_categories"`
	ExcludedCategories []string         `json:"excluded_categories"`
	AffiliateID        string           `json:"affiliate_id"`
	Metadata           map[string]any   `json:"metadata"`
}

// Create validates and stores a new discount code.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Discount, error) {
	req.Code = NormalizeCode(req.Code)
	req.Type = Type(normalizeEnum(string(req.Type)))
	req.Scope = Scope(normalizeEnum(string(req.Scope)))
	if err := validate.Struct(req); err != nil {
		return Discount{}, err
	}
	if req.Type == TypePercentage && req.Value.GreaterThan(decimal.NewFromInt(100)) {
		return Discount{}, apperr.Invalid("Percentage discount cannot exceed 100", nil)
	}

	now := s.now()
	start := now
	if req.StartDate != nil {
		start = req.StartDate.UTC()
	}
	var end *time.Time
	if req.EndDate != nil {
		e := req.EndDate.UTC()
		if !e.After(start) {
			return Discount{}, apperr.Invalid("End date must be after start date", nil)
		}
		end = &e
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	d := Discount{
		ID:                 util.NewID("dsc"),
		Code:               req.Code,
		Description:        req.Description,
		Type:               req.Type,
		Scope:              inferScope(req),
		Value:              req.Value,
		MinPurchase:        req.MinPurchase,
		MaxUses:            req.MaxUses,
		MaxUsesPerUser:     req.MaxUsesPerUser,
		StartDate:          start,
		EndDate:            end,
		IsActive:           active,
		AllowedProducts:    req.AllowedProducts,
		ExcludedProducts:   req.ExcludedProducts,
		AllowedCategories:  req.AllowedCategories,
		ExcludedCategories: req.ExcludedCategories,
		AffiliateID:        req.AffiliateID,
		Metadata:           req.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Insert(ctx, d); err != nil {
		if errors.Is(err, ErrCodeExists) {
			return Discount{}, apperr.Conflict("CODE_EXISTS", "Discount code already exists")
		}
		return Discount{}, fmt.Errorf("insert discount: %w", err)
	}
	s.logger.Info("discount created", zap.String("code", d.Code), zap.String("type", string(d.Type)))
	return d, nil
}

func inferScope(req CreateRequest) Scope {
	switch {
	case req.Scope != "":
		return req.Scope
	case req.AffiliateID != "":
		return ScopeAffiliate
	case len(req.AllowedProducts) > 0:
		return ScopeProduct
	case len(req.AllowedCategories) > 0:
		return ScopeCategory
	default:
		return ScopeGlobal
	}
}

// Get returns the code with its ledger-backed usage count.
func (s *Service) Get(ctx context.Context, code string) (Discount, error) {
	d, err := s.repo.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Discount{}, apperr.NotFound("Discount")
		}
		return Discount{}, fmt.Errorf("get discount: %w", err)
	}
	if d.UsedCount, err = s.ledger.Count(ctx, d.Code); err != nil {
		return Discount{}, err
	}
	return d, nil
}

// List returns all codes, optionally only those in the given status.
func (s *Service) List(ctx context.Context, status Status) ([]Discount, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list discounts: %w", err)
	}
	now := s.now()
	items := make([]Discount, 0, len(all))
	for _, d := range all {
		if d.UsedCount, err = s.ledger.Count(ctx, d.Code); err != nil {
			return nil, err
		}
		if status != "" && d.Status(now) != status {
			continue
		}
		items = append(items, d)
	}
	return items, nil
}

func (s *Service) Deactivate(ctx context.Context, code string) (Discount, error) {
	d, err := s.Get(ctx, code)
	if err != nil {
		return Discount{}, err
	}
	d.IsActive = false
	d.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, d); err != nil {
		return Discount{}, fmt.Errorf("deactivate discount: %w", err)
	}
	return d, nil
}

type ValidateRequest struct {
	Code        string `json:"code"`
	UserID      string `json:"user_id"`
	Amount      string `json:"amount"`
	ProductID   string `json:"product_id"`
	CategoryID  string `json:"category_id"`
	AffiliateID string `json:"affiliate_id"`
}

type Result struct {
	Valid    bool
	Reason   Reason
	Message  string
	Discount *Discount
}

func reject(reason Reason, message string, d *Discount) Result {
	return Result{Reason: reason, Message: message, Discount: d}
}

// Validate runs the checkout rules against a code. The first failing rule
// decides the result; the returned error is reserved for storage failures.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (Result, error) {
	result, _, err := s.validate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	metrics.DiscountValidations.WithLabelValues(string(result.Reason)).Inc()
	return result, nil
}

func (s *Service) validate(ctx context.Context, req ValidateRequest) (Result, *decimal.Decimal, error) {
	d, err := s.repo.GetByCode(ctx, NormalizeCode(req.Code))
	if errors.Is(err, ErrNotFound) {
		return reject(ReasonUnknownCode, msgInvalidCode, nil), nil, nil
	}
	if err != nil {
		return Result{}, nil, fmt.Errorf("get discount: %w", err)
	}
	if d.UsedCount, err = s.ledger.Count(ctx, d.Code); err != nil {
		return Result{}, nil, err
	}

	var amount *decimal.Decimal
	if req.Amount != "" {
		parsed, err := money.Parse(req.Amount)
		if err != nil {
			return reject(ReasonInvalidAmount, msgInvalidAmount, &d), nil, nil
		}
		amount = &parsed
	}

	if !d.IsActive {
		return reject(ReasonInactive, msgInactive, &d), amount, nil
	}
	if d.limitReached() {
		return reject(ReasonUsageLimit, msgUsageLimit, &d), amount, nil
	}
	if req.UserID != "" && d.MaxUsesPerUser != nil {
		used, err := s.ledger.UserCount(ctx, d.Code, req.UserID)
		if err != nil {
			return Result{}, nil, err
		}
		if used >= *d.MaxUsesPerUser {
			return reject(ReasonUserLimit, msgUserLimit, &d), amount, nil
		}
	}

	now := s.now()
	if now.Before(d.StartDate) {
		return reject(ReasonNotStarted, msgNotStarted, &d), amount, nil
	}
	if d.EndDate != nil && now.After(*d.EndDate) {
		return reject(ReasonExpired, msgExpired, &d), amount, nil
	}

	if amount != nil && d.MinPurchase != nil && amount.LessThan(*d.MinPurchase) {
		msg := fmt.Sprintf("Minimum purchase amount of %s required", money.Format(*d.MinPurchase))
		return reject(ReasonMinPurchase, msg, &d), amount, nil
	}

	if len(d.AllowedProducts) > 0 && req.ProductID != "" && !contains(d.AllowedProducts, req.ProductID) {
		return reject(ReasonProduct, msgProduct, &d), amount, nil
	}
	if req.ProductID != "" && contains(d.ExcludedProducts, req.ProductID) {
		return reject(ReasonProduct, msgProduct, &d), amount, nil
	}

	if len(d.AllowedCategories) > 0 && (req.CategoryID == "" || !contains(d.AllowedCategories, req.CategoryID)) {
		return reject(ReasonCategory, msgCategory, &d), amount, nil
	}
	if req.CategoryID != "" && contains(d.ExcludedCategories, req.CategoryID) {
		return reject(ReasonCategory, msgCategory, &d), amount, nil
	}

	if d.AffiliateID != "" && req.AffiliateID != d.AffiliateID {
		return reject(ReasonAffiliate, msgAffiliate, &d), amount, nil
	}

	return Result{Valid: true, Reason: ReasonValid, Message: msgValid, Discount: &d}, amount, nil
}

type ApplyRequest struct {
	ValidateRequest
	// OrderID makes the redemption idempotent. Empty means a fresh redemption.
	OrderID string `json:"order_id"`
}

type ApplyResult struct {
	Result
	OrderID         string
	OriginalAmount  decimal.Decimal
	DiscountAmount  decimal.Decimal
	FinalAmount     decimal.Decimal
	AlreadyRecorded bool
}

// Apply validates the code, computes the reduced amount and records the
// redemption. Replaying an order that was already recorded returns the
// stored outcome without counting it again.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	res, err := s.apply(ctx, req)
	if err != nil {
		return ApplyResult{}, err
	}
	switch {
	case res.AlreadyRecorded:
		metrics.DiscountApplications.WithLabelValues("duplicate").Inc()
	case res.Valid:
		metrics.DiscountApplications.WithLabelValues("applied").Inc()
	default:
		metrics.DiscountApplications.WithLabelValues("rejected").Inc()
	}
	return res, nil
}

func (s *Service) apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	code := NormalizeCode(req.Code)
	if req.OrderID != "" {
		if prior, ok, err := s.ledger.Usage(ctx, code, req.OrderID); err != nil {
			return ApplyResult{}, err
		} else if ok {
			return s.replay(ctx, prior)
		}
	}

	if req.Amount == "" {
		_, err := s.repo.GetByCode(ctx, code)
		switch {
		case errors.Is(err, ErrNotFound):
			return ApplyResult{Result: reject(ReasonUnknownCode, msgInvalidCode, nil)}, nil
		case err != nil:
			return ApplyResult{}, fmt.Errorf("get discount: %w", err)
		}
		return ApplyResult{Result: reject(ReasonInvalidAmount, msgInvalidAmount, nil)}, nil
	}

	result, amount, err := s.validate(ctx, req.ValidateRequest)
	if err != nil {
		return ApplyResult{}, err
	}
	if !result.Valid {
		out := ApplyResult{Result: result, OrderID: req.OrderID}
		if amount != nil {
			out.OriginalAmount = *amount
			out.FinalAmount = *amount
		}
		return out, nil
	}

	d := *result.Discount
	reduction := money.Round(d.Amount(*amount))
	final := money.Round(money.ClampZero(amount.Sub(reduction)))

	orderID := req.OrderID
	if orderID == "" {
		orderID = util.NewID("ord")
	}
	usage := Usage{
		Code:           d.Code,
		UserID:         req.UserID,
		OrderID:        orderID,
		Amount:         *amount,
		DiscountAmount: reduction,
		FinalAmount:    final,
		At:             s.now(),
	}
	status, err := s.ledger.Record(ctx, usage, limitsOf(d))
	if err != nil {
		return ApplyResult{}, err
	}
	switch status {
	case AlreadyRecorded:
		prior, ok, err := s.ledger.Usage(ctx, d.Code, orderID)
		if err != nil {
			return ApplyResult{}, err
		}
		if !ok {
			return ApplyResult{}, apperr.New(http.StatusConflict, "USAGE_CONFLICT", "Discount usage changed concurrently", nil)
		}
		return s.replay(ctx, prior)
	case UsageLimitReached:
		return ApplyResult{
			Result:         reject(ReasonUsageLimit, msgUsageLimit, &d),
			OrderID:        orderID,
			OriginalAmount: *amount,
			FinalAmount:    *amount,
		}, nil
	case UserLimitReached:
		return ApplyResult{
			Result:         reject(ReasonUserLimit, msgUserLimit, &d),
			OrderID:        orderID,
			OriginalAmount: *amount,
			FinalAmount:    *amount,
		}, nil
	}

	d.UsedCount++
	s.logger.Info("discount applied",
		zap.String("code", d.Code),
		zap.String("order_id", orderID),
		zap.String("discount_amount", reduction.String()),
	)
	return ApplyResult{
		Result:         Result{Valid: true, Reason: ReasonValid, Message: msgApplied, Discount: &d},
		OrderID:        orderID,
		OriginalAmount: *amount,
		DiscountAmount: reduction,
		FinalAmount:    final,
	}, nil
}

// Release undoes the redemption recorded for an order so the order can be
// re-priced. Releasing an order that holds no redemption is a no-op.
func (s *Service) Release(ctx context.Context, code, orderID string) error {
	code = NormalizeCode(code)
	if code == "" || orderID == "" {
		return nil
	}
	released, err := s.ledger.Release(ctx, code, orderID)
	if err != nil {
		return err
	}
	if released {
		metrics.DiscountApplications.WithLabelValues("released").Inc()
		s.logger.Info("discount released", zap.String("code", code), zap.String("order_id", orderID))
	}
	return nil
}

func (s *Service) replay(ctx context.Context, prior Usage) (ApplyResult, error) {
	d, err := s.Get(ctx, prior.Code)
	if err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{
		Result:          Result{Valid: true, Reason: ReasonValid, Message: msgApplied, Discount: &d},
		OrderID:         prior.OrderID,
		OriginalAmount:  prior.Amount,
		DiscountAmount:  prior.DiscountAmount,
		FinalAmount:     prior.FinalAmount,
		AlreadyRecorded: true,
	}, nil
}

func normalizeEnum(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
