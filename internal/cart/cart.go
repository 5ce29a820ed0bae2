// Package cart models a shopping cart and prices it at checkout.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/catalog"
	"leadignite/api/internal/discount"
	"leadignite/api/internal/money"
	"leadignite/api/internal/util"
)

// DiscountApplier redeems a discount code for an order and can undo that
// redemption when the order is re-priced.
type DiscountApplier interface {
	Apply(ctx context.Context, req discount.ApplyRequest) (discount.ApplyResult, error)
	Release(ctx context.Context, code, orderID string) error
}

type Item struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"productId"`
	Name             string          `json:"name"`
	Variant          string          `json:"variant,omitempty"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	Quantity         int             `json:"quantity"`
	Category         string          `json:"category,omitempty"`
	Image            string          `json:"image,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	RequiresShipping bool            `json:"requiresShipping"`
	AddedAt          time.Time       `json:"addedAt"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemKey identifies a cart line: one per product and variant.
func ItemKey(productID, variant string) string {
	if variant == "" {
		variant = "base"
	}
	return productID + ":" + variant
}

type Cart struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId,omitempty"`
	Items          []Item          `json:"items"`
	Currency       string          `json:"currency"`
	DiscountCode   string          `json:"discountCode,omitempty"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	OrderID        string          `json:"orderId,omitempty"`

	// DiscountStale is set when the contents changed after the code was
	// redeemed. The amount is zero until Reprice runs.
	DiscountStale bool      `json:"discountStale,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func New(userID, currency string, now time.Time) *Cart {
	if currency == "" {
		currency = "USD"
	}
	return &Cart{
		ID:        util.NewID("cart"),
		UserID:    userID,
		Items:     []Item{},
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddItem adds quantity of product (optionally a variant), merging with an
// existing line for the same key. The unit price includes the variant
// surcharge and any active sales incentive.
func (c *Cart) AddItem(p catalog.Product, variant string, quantity int, notes string, now time.Time) error {
	if quantity < 1 {
		return apperr.Invalid("Quantity must be at least 1", nil)
	}
	if !p.IsActive {
		return apperr.Invalid(fmt.Sprintf("Product %s is not available", p.Name), nil)
	}
	price, err := p.PriceFor(variant)
	if err != nil {
		return apperr.Invalid(fmt.Sprintf("Unknown variant %q for %s", variant, p.Name), nil)
	}
	key := ItemKey(p.ID, variant)
	c.resetDiscount()
	c.UpdatedAt = now
	for i := range c.Items {
		if c.Items[i].ID == key {
			c.Items[i].Quantity += quantity
			return nil
		}
	}
	item := Item{
		ID:               key,
		ProductID:        p.ID,
		Name:             p.Name,
		Variant:          variant,
		UnitPrice:        p.SalePrice(price, now),
		Quantity:         quantity,
		Notes:            notes,
		RequiresShipping: p.Weight != nil || p.Dimensions != nil,
		AddedAt:          now,
	}
	if len(p.Categories) > 0 {
		item.Category = p.Categories[0]
	}
	if len(p.Images) > 0 {
		item.Image = p.Images[0]
	}
	c.Items = append(c.Items, item)
	return nil
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
func (c *Cart) UpdateQuantity(itemID string, quantity int, now time.Time) error {
	if quantity <= 0 {
		return c.RemoveItem(itemID, now)
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items[i].Quantity = quantity
			c.resetDiscount()
			c.UpdatedAt = now
			return nil
		}
	}
	return apperr.NotFound("Cart item")
}

func (c *Cart) RemoveItem(itemID string, now time.Time) error {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.resetDiscount()
			c.UpdatedAt = now
			return nil
		}
	}
	return apperr.NotFound("Cart item")
}

func (c *Cart) Clear(now time.Time) {
	c.Items = []Item{}
	c.resetDiscount()
	c.UpdatedAt = now
}

// resetDiscount zeroes an applied discount; its amount was computed for the
// previous contents. The code and order stay so Reprice can release the old
// redemption and redeem again under the same order.
func (c *Cart) resetDiscount() {
	c.DiscountAmount = decimal.Zero
	c.DiscountStale = c.DiscountCode != ""
}

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return money.Round(total)
}

func (c *Cart) TotalQuantity() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

func (c *Cart) RequiresShipping() bool {
	for _, item := range c.Items {
		if item.RequiresShipping {
			return true
		}
	}
	return false
}

// ApplyDiscount redeems code against the cart subtotal for orderID; an empty
// orderID reuses the cart's order. A redemption the cart already holds is
// released first, so a cart never holds more than one. A rejected code is
// reported through the result, not the error. Single-product carts pass the
// product and its category so scoped discounts can match.
func (c *Cart) ApplyDiscount(ctx context.Context, applier DiscountApplier, code, userID, orderID string) (discount.ApplyResult, error) {
	if len(c.Items) == 0 {
		return discount.ApplyResult{}, apperr.Invalid("Cart is empty", nil)
	}
	if orderID == "" {
		orderID = c.OrderID
	}
	if err := c.release(ctx, applier); err != nil {
		return discount.ApplyResult{}, err
	}
	req := discount.ApplyRequest{
		ValidateRequest: discount.ValidateRequest{
			Code:   code,
			UserID: userID,
			Amount: c.Subtotal().StringFixed(2),
		},
		OrderID: orderID,
	}
	if product, category, ok := c.singleProduct(); ok {
		req.ProductID = product
		req.CategoryID = category
	}
	res, err := applier.Apply(ctx, req)
	if err != nil {
		return discount.ApplyResult{}, err
	}
	if res.OrderID != "" {
		c.OrderID = res.OrderID
	}
	if res.Valid {
		c.DiscountCode = discount.NormalizeCode(code)
		c.DiscountAmount = res.DiscountAmount
	}
	return res, nil
}

// Reprice redeems the cart's code again after its contents changed. An
// emptied cart gives its redemption back and drops the code. Carts without
// a stale discount are left alone.
func (c *Cart) Reprice(ctx context.Context, applier DiscountApplier, userID string) (discount.ApplyResult, error) {
	if !c.DiscountStale {
		return discount.ApplyResult{}, nil
	}
	if len(c.Items) == 0 {
		return discount.ApplyResult{}, c.release(ctx, applier)
	}
	return c.ApplyDiscount(ctx, applier, c.DiscountCode, userID, c.OrderID)
}

func (c *Cart) release(ctx context.Context, applier DiscountApplier) error {
	if c.DiscountCode == "" || c.OrderID == "" {
		return nil
	}
	if err := applier.Release(ctx, c.DiscountCode, c.OrderID); err != nil {
		return fmt.Errorf("release discount %s: %w", c.DiscountCode, err)
	}
	c.DiscountCode = ""
	c.DiscountAmount = decimal.Zero
	c.DiscountStale = false
	return nil
}

func (c *Cart) singleProduct() (string, string, bool) {
	id := c.Items[0].ProductID
	for _, item := range c.Items[1:] {
		if item.ProductID != id {
			return "", "", false
		}
	}
	return id, c.Items[0].Category, true
}

type Summary struct {
	Subtotal         decimal.Decimal  `json:"subtotal"`
	Shipping         decimal.Decimal  `json:"shipping"`
	Tax              decimal.Decimal  `json:"tax"`
	Discount         decimal.Decimal  `json:"discount"`
	Total            decimal.Decimal  `json:"total"`
	ItemCount        int              `json:"itemCount"`
	TotalQuantity    int              `json:"totalQuantity"`
	RequiresShipping bool             `json:"requiresShipping"`
	Currency         string           `json:"currency"`
	DiscountCode     string           `json:"discountCode,omitempty"`
	TaxRate          *decimal.Decimal `json:"taxRate,omitempty"`
}

// Summary prices the cart. taxRate is a percentage applied to the
// discounted subtotal; nil means no tax. The total never goes below zero.
func (c *Cart) Summary(shipping decimal.Decimal, taxRate *decimal.Decimal) Summary {
	subtotal := c.Subtotal()
	tax := decimal.Zero
	if taxRate != nil {
		tax = money.Round(money.ClampZero(money.Percent(subtotal.Sub(c.DiscountAmount), *taxRate)))
	}
	total := money.ClampZero(subtotal.Add(shipping).Add(tax).Sub(c.DiscountAmount))
	return Summary{
		Subtotal:         subtotal,
		Shipping:         money.Round(shipping),
		Tax:              tax,
		Discount:         c.DiscountAmount,
		Total:            money.Round(total),
		ItemCount:        len(c.Items),
		TotalQuantity:    c.TotalQuantity(),
		RequiresShipping: c.RequiresShipping(),
		Currency:         c.Currency,
		DiscountCode:     c.DiscountCode,
		TaxRate:          taxRate,
	}
}
