// Package stripe provides the subscription-provider linkage adapter
package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/platefull/v1/internal/ports/outbound"
	stripeapi "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
	"go.uber.org/zap"
)

// Client resolves checkout sessions to customer/subscription linkage
type Client struct {
	api    *client.API
	logger *zap.Logger
}

// NewClient creates a new Stripe billing client. The API handle is owned by
// this client rather than the package-global key so it can be injected and
// swapped in tests.
func NewClient(secretKey string, logger *zap.Logger) *Client {
	api := &client.API{}
	api.Init(secretKey, nil)

	return &Client{
		api:    api,
		logger: logger.Named("stripe"),
	}
}

// ResolveCheckoutSession looks up a checkout session and reports the linked
// customer, subscription, and whether the subscription is currently active
func (c *Client) ResolveCheckoutSession(ctx context.Context, sessionID string) (*outbound.CheckoutResolution, error) {
	params := &stripeapi.CheckoutSessionParams{
		Params: stripeapi.Params{Context: ctx},
	}
	params.AddExpand("subscription")

	sess, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}

	resolution := &outbound.CheckoutResolution{}
	if sess.Customer != nil {
		resolution.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		resolution.SubscriptionID = sess.Subscription.ID
		status := normalizeStatus(string(sess.Subscription.Status))
		resolution.SubscriptionActive = status == "active" || status == "trialing"
	}

	c.logger.Debug("Checkout session resolved",
		zap.String("session_id", sessionID),
		zap.Bool("subscription_active", resolution.SubscriptionActive),
	)

	return resolution, nil
}

// normalizeStatus collapses provider statuses into the buckets the premium
// logic cares about
func normalizeStatus(s string) string {
	switch strings.TrimSpace(s) {
	case "":
		return "none"
	case "active":
		return "active"
	case "trialing":
		return "trialing"
	case "past_due", "unpaid":
		return "past_due"
	case "canceled", "incomplete_expired":
		return "canceled"
	default:
		return strings.TrimSpace(s)
	}
}
