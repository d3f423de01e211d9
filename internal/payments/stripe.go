package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Gateway is the outbound payment collaborator: an opaque service that holds
// and later captures funds. The engine never sees gateway types.
type Gateway interface {
	Hold(ctx context.Context, amount int64, currency string, metadata map[string]string) (string, error)
	Capture(ctx context.Context, intentRef string) error
	Cancel(ctx context.Context, intentRef string) error
}

// StripeClient is a thin wrapper around stripe-go for PaymentIntent
// hold/capture/cancel flows with capture_method=manual.
type StripeClient struct{}

// NewStripeClient sets the package-level stripe key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a manual-capture PaymentIntent and returns its ID.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency string, metadata map[string]string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, intentRef string) error {
	_, err := paymentintent.Capture(intentRef, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, intentRef string) error {
	_, err := paymentintent.Cancel(intentRef, nil)
	return err
}
