package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider builds a provider. backends may be nil to use the
// default Stripe endpoints.
func NewStripeProvider(secretKey, webhookSecret string, backends *stripe.Backends) (*StripeProvider, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	return &StripeProvider{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
	}, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	cust, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cust.ID, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")
	sub, err := p.api.Subscriptions.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return Subscription{}, ErrSubscriptionNotFound
		}
		return Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	return subscriptionFromStripe(sub), nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, customerID, priceID string) (Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")
	sub, err := p.api.Subscriptions.New(params)
	if err != nil {
		return Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	return subscriptionFromStripe(sub), nil
}

// ChangeSubscriptionPrice moves the single item of sub to priceID. The
// returned client secret is the one from the subscription's latest invoice.
func (p *StripeProvider) ChangeSubscriptionPrice(ctx context.Context, sub Subscription, priceID string) (Subscription, error) {
	if sub.ItemID == "" {
		return Subscription{}, fmt.Errorf("subscription %s has no items", sub.ID)
	}
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(sub.ItemID), Price: stripe.String(priceID)},
		},
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")
	updated, err := p.api.Subscriptions.Update(sub.ID, params)
	if err != nil {
		return Subscription{}, fmt.Errorf("update subscription: %w", err)
	}
	out := subscriptionFromStripe(updated)
	if out.ClientSecret == "" {
		out.ClientSecret = sub.ClientSecret
	}
	return out, nil
}

func (p *StripeProvider) ProductName(ctx context.Context, productID string) (string, error) {
	params := &stripe.ProductParams{}
	params.Context = ctx
	prod, err := p.api.Products.Get(productID, params)
	if err != nil {
		return "", fmt.Errorf("get product: %w", err)
	}
	return prod.Name, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	if p.webhookSecret == "" || strings.TrimSpace(signature) == "" {
		return Event{}, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := Event{ID: event.ID, Type: string(event.Type), Payload: payload}
	switch out.Type {
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		if event.Data == nil {
			return Event{}, fmt.Errorf("event %s has no data", event.ID)
		}
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return Event{}, fmt.Errorf("decode subscription: %w", err)
		}
		s := subscriptionFromStripe(&sub)
		out.Subscription = &s
	}
	return out, nil
}

func subscriptionFromStripe(sub *stripe.Subscription) Subscription {
	out := Subscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceID = item.Price.ID
			if item.Price.Product != nil {
				out.ProductID = item.Price.Product.ID
			}
		}
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		out.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}
	return out
}
