package checkout

import (
	"errors"
	"fmt"

	"storefront/internal/api"
	"storefront/internal/wallet"
)

var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrSessionExpired     = errors.New("payment session expired")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrInvalidTransition  = errors.New("action not allowed in current checkout state")
	ErrClosed             = errors.New("checkout closed")
)

// ValidationError blocks the form from being submitted. It is shown inline.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UserMessage renders err as text for the buyer.
func UserMessage(err error) string {
	var se *api.StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWalletNotConnected):
		return "Connect your wallet to continue."
	case errors.Is(err, ErrEmptyCart):
		return "Your cart for this store is empty."
	case errors.Is(err, ErrInvalidEmail):
		return "Enter a valid email address."
	case errors.Is(err, ErrSessionExpired):
		return "Payment session expired. Start a new checkout to try again."
	case errors.Is(err, ErrPaymentFailed):
		return "Payment failed. Please try again."
	case errors.Is(err, api.ErrUnauthorized):
		return "Your session has expired. Reconnect your wallet and try again."
	case errors.Is(err, api.ErrTimeout):
		return "The request timed out. Check your connection and try again."
	case errors.Is(err, api.ErrNetwork):
		return "Could not reach the store. Check your connection and try again."
	case wallet.IsWalletError(err):
		return wallet.Message(err)
	case errors.As(err, &se) && se.Message != "":
		return "Checkout failed: " + se.Message
	default:
		return "Failed to create checkout. Please try again."
	}
}
