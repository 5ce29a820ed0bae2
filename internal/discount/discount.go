// Package discount implements discount codes: their definition, the ordered
// validation rules applied at checkout and idempotent usage recording.
package discount

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypePercentage  Type = "percentage"
	TypeFixedAmount Type = "fixed_amount"
)

type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeProduct   Scope = "product"
	ScopeCategory  Scope = "category"
	ScopeAffiliate Scope = "affiliate"
)

type Status string

const (
	StatusActive            Status = "active"
	StatusInactive          Status = "inactive"
	StatusExpired           Status = "expired"
	StatusUsageLimitReached Status = "usage_limit_reached"
)

func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(raw))); t {
	case TypePercentage, TypeFixedAmount:
		return t, nil
	}
	return "", fmt.Errorf("unknown discount type %q", raw)
}

func ParseScope(raw string) (Scope, error) {
	switch s := Scope(strings.ToLower(strings.TrimSpace(raw))); s {
	case ScopeGlobal, ScopeProduct, ScopeCategory, ScopeAffiliate:
		return s, nil
	}
	return "", fmt.Errorf("unknown discount scope %q", raw)
}

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusActive, StatusInactive, StatusExpired, StatusUsageLimitReached:
		return s, nil
	}
	return "", fmt.Errorf("unknown discount status %q", raw)
}

type Discount struct {
	ID                 string
	Code               string
	Description        string
	Type               Type
	Scope              Scope
	Value              decimal.Decimal
	MinPurchase        *decimal.Decimal
	MaxUses            *int
	MaxUsesPerUser     *int
	UsedCount          int
	StartDate          time.Time
	EndDate            *time.Time
	IsActive           bool
	AllowedProducts    []string
	ExcludedProducts   []string
	AllowedCategories  []string
	ExcludedCategories []string
	AffiliateID        string
	Metadata           map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Status resolves the lifecycle state at now. Deactivation wins over the
// usage limit, which wins over expiry; a code whose window has not opened
// yet reports inactive.
func (d Discount) Status(now time.Time) Status {
	if !d.IsActive {
		return StatusInactive
	}
	if d.limitReached() {
		return StatusUsageLimitReached
	}
	if d.EndDate != nil && now.After(*d.EndDate) {
		return StatusExpired
	}
	if now.Before(d.StartDate) {
		return StatusInactive
	}
	return StatusActive
}

func (d Discount) limitReached() bool {
	return d.MaxUses != nil && d.UsedCount >= *d.MaxUses
}

// Amount returns the reduction this discount grants on amount.
func (d Discount) Amount(amount decimal.Decimal) decimal.Decimal {
	if d.Type == TypePercentage {
		return amount.Mul(d.Value).Div(decimal.NewFromInt(100))
	}
	return decimal.Min(d.Value, amount)
}

func (d Discount) clone() Discount {
	out := d
	out.AllowedProducts = append([]string(nil), d.AllowedProducts...)
	out.ExcludedProducts = append([]string(nil), d.ExcludedProducts...)
	out.AllowedCategories = append([]string(nil), d.AllowedCategories...)
	out.ExcludedCategories = append([]string(nil), d.ExcludedCategories...)
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// NormalizeCode upper-cases and trims a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
