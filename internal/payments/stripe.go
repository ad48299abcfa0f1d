package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// PayoutClient wraps stripe-go for the cash-out redemption flow: a manual-
// capture PaymentIntent holds the cash value while the points debit commits,
// then the hold is captured (or cancelled if the debit fails).
type PayoutClient struct {
	// MinorUnitsPerPoint converts a points amount to the smallest currency
	// unit (poisha for BDT).
	MinorUnitsPerPoint int64
	Currency           string
}

// NewPayoutClient configures the stripe client with the given API key.
func NewPayoutClient(apiKey string, minorUnitsPerPoint int64, currency string) *PayoutClient {
	stripe.Key = apiKey
	if currency == "" {
		currency = "bdt"
	}
	return &PayoutClient{MinorUnitsPerPoint: minorUnitsPerPoint, Currency: currency}
}

// Hold reserves the cash value of a points redemption and returns the
// PaymentIntent ID.
func (c *PayoutClient) Hold(ctx context.Context, points int) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(points) * c.MinorUnitsPerPoint),
		Currency: stripe.String(c.Currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held payout.
func (c *PayoutClient) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases a hold whose points debit did not commit.
func (c *PayoutClient) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
