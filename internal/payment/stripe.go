package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/trailhead-tours/apiserver/config"
	"github.com/trailhead-tours/apiserver/types"
)

// CheckoutInput carries everything needed to open a checkout session for
// one tour.
type CheckoutInput struct {
	Tour          types.Tour
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// Session is the provider-agnostic descriptor returned to the client.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutProvider creates hosted payment sessions.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, input CheckoutInput) (Session, error)
}

// StripeProvider implements CheckoutProvider on the Stripe checkout API.
type StripeProvider struct{}

// NewStripeProvider configures the Stripe SDK. The secret key is
// process-wide state in the SDK; set once at startup.
func NewStripeProvider(cfg config.StripeConfig) (*StripeProvider, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key is required")
	}
	stripe.Key = cfg.SecretKey
	return &StripeProvider{}, nil
}

// CreateSession opens a one-item card checkout session priced in USD
// cents.
func (p *StripeProvider) CreateSession(ctx context.Context, input CheckoutInput) (Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(input.SuccessURL),
		CancelURL:         stripe.String(input.CancelURL),
		CustomerEmail:     stripe.String(input.CustomerEmail),
		ClientReferenceID: stripe.String(fmt.Sprintf("%d", input.Tour.ID)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String("usd"),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(fmt.Sprintf("%s Tour", input.Tour.Name)),
						Description: stripe.String(input.Tour.Summary),
					},
					UnitAmount: stripe.Int64(int64(input.Tour.Price * 100)),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx

	created, err := session.New(params)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: created.ID, URL: created.URL}, nil
}
