package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidProduct = errors.New("invalid product")

// Item is one line of the cart. ID is the product identifier and is unique
// within a cart.
type Item struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
	StoreSlug string `json:"storeSlug"`
}

// Product is what a UI surface hands to AddToCart.
type Product struct {
	ID        string
	Name      string
	Price     string
	Currency  string
	Image     string
	StoreSlug string
}

// Cart is an immutable snapshot. Total and ItemCount are always derived from Items.
type Cart struct {
	Items     []Item          `json:"items"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"itemCount"`
}

func newCart(items []Item) Cart {
	if items == nil {
		items = []Item{}
	}
	return Cart{
		Items:     items,
		Total:     Subtotal(items),
		ItemCount: Count(items),
	}
}

func (c Cart) clone() Cart {
	items := make([]Item, len(c.Items))
	copy(items, c.Items)
	c.Items = items
	return c
}

// Find returns the item with the given id.
func (c Cart) Find(id string) (Item, bool) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// DisplayTotal renders the cart total in the currency of its first item.
func (c Cart) DisplayTotal() string {
	return FormatTotal(c.Items)
}

// LineTotal is price × quantity. An unparsable price counts as zero.
func (it Item) LineTotal() decimal.Decimal {
	price, err := decimal.NewFromString(strings.TrimSpace(it.Price))
	if err != nil {
		return decimal.Zero
	}
	return price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Subtotal sums price × quantity over items.
func Subtotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// Count sums quantities over items.
func Count(items []Item) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

// FormatTotal renders Subtotal(items) with two decimals followed by the
// currency of the first item, e.g. "3.00 SOL". Mixed currencies are not
// converted.
func FormatTotal(items []Item) string {
	total := Subtotal(items).StringFixed(2)
	if len(items) == 0 || items[0].Currency == "" {
		return total
	}
	return total + " " + items[0].Currency
}

func validateProduct(p Product) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidProduct)
	}
	if strings.TrimSpace(p.StoreSlug) == "" {
		return fmt.Errorf("%w: store slug is required", ErrInvalidProduct)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(p.Price))
	if err != nil {
		return fmt.Errorf("%w: price %q is not a decimal", ErrInvalidProduct, p.Price)
	}
	if price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	}
	return nil
}
