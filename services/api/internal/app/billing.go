package app

import (
	"context"
	"errors"
	"fmt"

	"marefa/internal/util"
	"marefa/pkg/billing"
	"marefa/pkg/domain"
	"marefa/pkg/store"
)

// SubscriptionResult is returned to the client to confirm payment.
type SubscriptionResult struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientSecret   string `json:"clientSecret,omitempty"`
}

// BillingSettings is the public payment configuration for clients.
type BillingSettings struct {
	PublishableKey string         `json:"publishableKey"`
	Plans          []billing.Plan `json:"plans"`
}

// BillingConfig exposes the publishable key and purchasable plans.
func (a *App) BillingConfig() BillingSettings {
	return BillingSettings{PublishableKey: a.publishKey, Plans: a.plans.List()}
}

// GetOrCreateSubscription moves an active subscription to the requested plan
// or starts a new one for the user.
func (a *App) GetOrCreateSubscription(ctx context.Context, user domain.User, planName string) (SubscriptionResult, error) {
	if a.billing == nil {
		return SubscriptionResult{}, ErrBillingUnavailable
	}
	plan, ok := a.plans.Lookup(planName)
	if !ok {
		return SubscriptionResult{}, ErrInvalidPlan
	}
	log := util.LoggerFromContext(ctx)

	if user.StripeSubscriptionID != nil && *user.StripeSubscriptionID != "" {
		current, err := a.billing.GetSubscription(ctx, *user.StripeSubscriptionID)
		switch {
		case errors.Is(err, billing.ErrSubscriptionNotFound):
			log.Warn("stored subscription missing at provider", "user_id", user.ID, "subscription_id", *user.StripeSubscriptionID)
		case err != nil:
			return SubscriptionResult{}, fmt.Errorf("fetch subscription: %w", err)
		case current.Status == billing.StatusActive:
			updated, err := a.billing.ChangeSubscriptionPrice(ctx, current, plan.PriceID)
			if err != nil {
				return SubscriptionResult{}, fmt.Errorf("change plan: %w", err)
			}
			return SubscriptionResult{SubscriptionID: updated.ID, ClientSecret: updated.ClientSecret}, nil
		}
	}

	customerID := ""
	if user.StripeCustomerID != nil {
		customerID = *user.StripeCustomerID
	}
	if customerID == "" {
		id, err := a.billing.CreateCustomer(ctx, user.Email, user.Username)
		if err != nil {
			return SubscriptionResult{}, fmt.Errorf("create customer: %w", err)
		}
		if err := a.store.SetStripeCustomerID(user.ID, id); err != nil {
			return SubscriptionResult{}, fmt.Errorf("save customer id: %w", err)
		}
		customerID = id
	}

	sub, err := a.billing.CreateSubscription(ctx, customerID, plan.PriceID)
	if err != nil {
		return SubscriptionResult{}, fmt.Errorf("create subscription: %w", err)
	}
	var tier *domain.SubscriptionTier
	if a.optimistic {
		t := plan.Tier
		tier = &t
	}
	if err := a.store.SetStripeSubscription(user.ID, sub.ID, tier); err != nil {
		return SubscriptionResult{}, fmt.Errorf("save subscription: %w", err)
	}
	log.Info("subscription created", "user_id", user.ID, "subscription_id", sub.ID, "plan", plan.Name)
	return SubscriptionResult{SubscriptionID: sub.ID, ClientSecret: sub.ClientSecret}, nil
}

// HandleWebhook verifies and applies a provider event. Each event id is
// applied at most once and redeliveries are acknowledged without effect. The
// id is recorded together with the tier write, so a delivery that fails at
// any step is applied when retried.
func (a *App) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if a.billing == nil {
		return ErrBillingUnavailable
	}
	event, err := a.billing.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	log := util.LoggerFromContext(ctx).With("event_id", event.ID, "event_type", event.Type)

	var (
		user   domain.User
		tier   domain.SubscriptionTier
		update bool
	)
	if sub := event.Subscription; sub != nil {
		var ok bool
		user, ok, err = a.store.GetUserByStripeCustomerID(sub.CustomerID)
		if err != nil {
			return fmt.Errorf("lookup customer: %w", err)
		}
		switch {
		case !ok:
			log.Warn("webhook for unknown customer", "customer_id", sub.CustomerID)
		case sub.Status == billing.StatusActive:
			tier, err = a.tierForSubscription(ctx, *sub)
			if err != nil {
				return err
			}
			update = true
		case sub.Status == billing.StatusCanceled:
			tier, update = domain.TierFree, true
		default:
			log.Info("subscription status left unchanged", "status", sub.Status)
		}
	} else {
		log.Info("unhandled webhook event")
	}

	apply := store.BillingEvent{ID: event.ID, Type: event.Type, Payload: event.Payload}
	if update {
		apply.UserID, apply.Tier = user.ID, &tier
	}
	fresh, err := a.store.ApplyBillingEvent(apply)
	if err != nil {
		return fmt.Errorf("apply event: %w", err)
	}
	if !fresh {
		log.Info("duplicate webhook event ignored")
		return nil
	}
	if update {
		log.Info("subscription tier updated", "user_id", user.ID, "tier", tier)
	}
	return nil
}

// tierForSubscription prefers the configured price map and falls back to
// the product name.
func (a *App) tierForSubscription(ctx context.Context, sub billing.Subscription) (domain.SubscriptionTier, error) {
	if tier, ok := a.plans.TierForPrice(sub.PriceID); ok {
		return tier, nil
	}
	if sub.ProductID == "" {
		return domain.TierBasic, nil
	}
	name, err := a.billing.ProductName(ctx, sub.ProductID)
	if err != nil {
		return "", fmt.Errorf("fetch product: %w", err)
	}
	return billing.TierForProductName(name), nil
}
