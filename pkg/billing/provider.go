// Package billing wraps the payment provider behind the small surface the
// subscription flow needs.
package billing

import (
	"context"
	"errors"
)

var (
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Subscription statuses the app acts on.
const (
	StatusActive   = "active"
	StatusCanceled = "canceled"
)

// Webhook event types that move a user's tier.
const (
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Subscription is the provider-neutral view of a subscription.
type Subscription struct {
	ID           string
	CustomerID   string
	Status       string
	ItemID       string
	PriceID      string
	ProductID    string
	ClientSecret string
}

// Event is a verified webhook delivery. Subscription is set for
// subscription events only.
type Event struct {
	ID           string
	Type         string
	Payload      []byte
	Subscription *Subscription
}

// Provider is implemented by StripeProvider and by fakes in tests.
type Provider interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	CreateSubscription(ctx context.Context, customerID, priceID string) (Subscription, error)
	ChangeSubscriptionPrice(ctx context.Context, sub Subscription, priceID string) (Subscription, error)
	ProductName(ctx context.Context, productID string) (string, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}
