package api

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further status change is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type CheckoutRequest struct {
	ProductID      string `json:"productId"`
	Quantity       int    `json:"quantity"`
	CustomerWallet string `json:"customerWallet"`
	CustomerEmail  string `json:"customerEmail"`
	Currency       string `json:"currency"`
}

type ProductSnapshot struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Image    string          `json:"image,omitempty"`
}

type StoreSnapshot struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

// CheckoutSession authorizes exactly one pending payment. It is never
// modified after the backend returns it.
type CheckoutSession struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	PaymentURL  string          `json:"paymentUrl"`
	QRCode      string          `json:"qrCode"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Reference   string          `json:"reference"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	Product     ProductSnapshot `json:"product"`
	Store       StoreSnapshot   `json:"store"`
}

type StatusItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// PaymentStatus is the backend's authoritative view of an order.
type PaymentStatus struct {
	OrderID              string          `json:"orderId"`
	Status               Status          `json:"status"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	PaymentURL           string          `json:"paymentUrl"`
	ExpiresAt            time.Time       `json:"expiresAt"`
	TransactionSignature string          `json:"transactionSignature,omitempty"`
	Items                []StatusItem    `json:"items"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

type VerifyRequest struct {
	OrderID   string `json:"orderId"`
	Signature string `json:"signature,omitempty"`
}

type VerifyResult struct {
	Verified             bool   `json:"verified"`
	Status               Status `json:"status"`
	TransactionSignature string `json:"transactionSignature,omitempty"`
	Message              string `json:"message,omitempty"`
}

type WalletAuthRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	Message       string `json:"message"`
}

type User struct {
	ID            string `json:"id"`
	WalletAddress string `json:"walletAddress"`
	Email         string `json:"email,omitempty"`
}

type WalletAuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
