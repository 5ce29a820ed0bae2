// Package catalog holds the product catalog and keeps the search index in
// step with it.
package catalog

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnknownVariant = errors.New("unknown product variant")

type IncentiveType string

const (
	IncentiveOnSale       IncentiveType = "onSale"
	IncentiveLimitedTime  IncentiveType = "limitedTime"
	IncentiveClearance    IncentiveType = "clearance"
	IncentiveBundle       IncentiveType = "bundle"
	IncentiveNewArrival   IncentiveType = "newArrival"
	IncentiveFreeShipping IncentiveType = "freeShipping"
	IncentiveBulkDiscount IncentiveType = "bulkDiscount"
	IncentiveSeasonal     IncentiveType = "seasonal"
	IncentiveFlashSale    IncentiveType = "flashSale"
)

type Review struct {
	ID               string    `json:"id"`
	Author           string    `json:"author" validate:"required,max=100"`
	Rating           float64   `json:"rating" validate:"gte=0,lte=5"`
	Title            string    `json:"title,omitempty" validate:"max=200"`
	Content          string    `json:"content" validate:"required,max=5000"`
	Image            string    `json:"image,omitempty" validate:"omitempty,url"`
	VerifiedPurchase bool      `json:"verifiedPurchase"`
	HelpfulVotes     int       `json:"helpfulVotes" validate:"gte=0"`
	Date             time.Time `json:"date"`
}

type SalesIncentive struct {
	Type            IncentiveType    `json:"type" validate:"required,oneof=onSale limitedTime clearance bundle newArrival freeShipping bulkDiscount seasonal flashSale"`
	Description     string           `json:"description,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discountPercent,omitempty" validate:"omitempty,gte=0,lte=100"`
	ExpiresAt       *time.Time       `json:"expiresAt,omitempty"`
	PromoCode       string           `json:"promoCode,omitempty"`
	MinPurchase     *decimal.Decimal `json:"minPurchase,omitempty" validate:"omitempty,gte=0"`
}

// Active reports whether the incentive has not expired at now.
func (s SalesIncentive) Active(now time.Time) bool {
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

type VariantType struct {
	Name  string          `json:"name" validate:"required"`
	Value string          `json:"value" validate:"required"`
	Price decimal.Decimal `json:"price" validate:"gte=0"`
	SKU   string          `json:"sku,omitempty"`
	Image string          `json:"image,omitempty"`
}

type ColorVariant struct {
	Name      string `json:"name" validate:"required"`
	Value     string `json:"value" validate:"required"`
	ClassName string `json:"class"`
	Image     string `json:"image,omitempty"`
	InStock   bool   `json:"inStock"`
}

type SizeVariant struct {
	Name       string            `json:"name" validate:"required"`
	Value      string            `json:"value" validate:"required"`
	InStock    bool              `json:"inStock"`
	SKU        string            `json:"sku,omitempty"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

type FAQ struct {
	Question    string     `json:"question" validate:"required"`
	Answer      string     `json:"answer" validate:"required"`
	Category    string     `json:"category,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

type Product struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	Price          decimal.Decimal     `json:"price"`
	SKU            string              `json:"sku"`
	Slug           string              `json:"slug"`
	Images         []string            `json:"images"`
	Reviews        []Review            `json:"reviews"`
	SalesIncentive *SalesIncentive     `json:"salesIncentive,omitempty"`
	Categories     []string            `json:"categories"`
	Tags           []string            `json:"tags"`
	Types          []VariantType       `json:"types"`
	Colors         []ColorVariant      `json:"colors"`
	Sizes          []SizeVariant       `json:"sizes"`
	FAQs           []FAQ               `json:"faqs"`
	Weight         *ShippingWeight     `json:"weight,omitempty"`
	Dimensions     *ShippingDimensions `json:"dimensions,omitempty"`
	IsActive       bool                `json:"isActive"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// Slug derives a URL slug from a product name.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// AverageRating is the mean review rating, or 0 without reviews.
func (p Product) AverageRating() float64 {
	if len(p.Reviews) == 0 {
		return 0
	}
	var sum float64
	for _, r := range p.Reviews {
		sum += r.Rating
	}
	return sum / float64(len(p.Reviews))
}

// PriceFor returns the base price plus the surcharge of the variant whose
// value (or name) matches variant. An empty variant is the base price.
func (p Product) PriceFor(variant string) (decimal.Decimal, error) {
	if variant == "" {
		return p.Price, nil
	}
	for _, v := range p.Types {
		if v.Value == variant || v.Name == variant {
			return p.Price.Add(v.Price), nil
		}
	}
	return decimal.Zero, ErrUnknownVariant
}

// SalePrice applies an active percentage incentive to price.
func (p Product) SalePrice(price decimal.Decimal, now time.Time) decimal.Decimal {
	inc := p.SalesIncentive
	if inc == nil || inc.DiscountPercent == nil || !inc.Active(now) {
		return price
	}
	off := price.Mul(*inc.DiscountPercent).Div(decimal.NewFromInt(100))
	return price.Sub(off).Round(2)
}

func (p Product) hasCategory(c string) bool {
	for _, v := range p.Categories {
		if strings.EqualFold(v, c) {
			return true
		}
	}
	return false
}

func (p Product) hasTag(tag string) bool {
	for _, v := range p.Tags {
		if strings.EqualFold(v, tag) {
			return true
		}
	}
	return false
}

func (p Product) clone() Product {
	cp := p
	cp.Images = append([]string(nil), p.Images...)
	cp.Reviews = append([]Review(nil), p.Reviews...)
	cp.Categories = append([]string(nil), p.Categories...)
	cp.Tags = append([]string(nil), p.Tags...)
	cp.Types = append([]VariantType(nil), p.Types...)
	cp.Colors = append([]ColorVariant(nil), p.Colors...)
	cp.Sizes = append([]SizeVariant(nil), p.Sizes...)
	cp.FAQs = append([]FAQ(nil), p.FAQs...)
	if p.SalesIncentive != nil {
		inc := *p.SalesIncentive
		cp.SalesIncentive = &inc
	}
	if p.Metadata != nil {
		cp.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}
