package handlers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/xraph/outbox/job"
	"github.com/xraph/outbox/upstream"
)

var (
	_ Commerce      = (*CommerceClient)(nil)
	_ LabelProvider = (*LabelClient)(nil)
)

// CommerceClient is the HTTP adapter for Commerce.
type CommerceClient struct {
	c *upstream.Client
}

// NewCommerceClient returns a Commerce backed by c.
func NewCommerceClient(c *upstream.Client) *CommerceClient {
	return &CommerceClient{c: c}
}

type fulfillmentRequest struct {
	LocationID      string         `json:"locationId,omitempty"`
	LineItems       []job.LineItem `json:"lineItems"`
	TrackingNumber  string         `json:"trackingNumber,omitempty"`
	TrackingCompany string         `json:"trackingCompany,omitempty"`
	NotifyCustomer  bool           `json:"notifyCustomer"`
}

// CreateFulfillment posts to /orders/{orderId}/fulfillments.
func (cc *CommerceClient) CreateFulfillment(ctx context.Context, p job.CreateFulfillment) (job.FulfillmentResult, error) {
	var res job.FulfillmentResult
	path := fmt.Sprintf("/orders/%s/fulfillments", url.PathEscape(p.OrderID))
	err := cc.c.Post(ctx, path, fulfillmentRequest{
		LocationID:      p.LocationID,
		LineItems:       p.LineItems,
		TrackingNumber:  p.TrackingNumber,
		TrackingCompany: p.TrackingCompany,
		NotifyCustomer:  p.NotifyCustomer,
	}, &res)
	if err != nil {
		return job.FulfillmentResult{}, fmt.Errorf("create fulfillment for order %s: %w", p.OrderID, err)
	}
	return res, nil
}

// AdjustInventory posts to /inventory/adjustments.
func (cc *CommerceClient) AdjustInventory(ctx context.Context, p job.InventoryAdjust) (job.InventoryResult, error) {
	var body struct {
		Available *int `json:"available"`
	}
	if err := cc.c.Post(ctx, "/inventory/adjustments", p, &body); err != nil {
		return job.InventoryResult{}, fmt.Errorf("adjust inventory %s at %s: %w", p.InventoryItemID, p.LocationID, err)
	}
	return job.InventoryResult{Adjusted: true, Available: body.Available}, nil
}

// LabelClient is the HTTP adapter for LabelProvider.
type LabelClient struct {
	c *upstream.Client
}

// NewLabelClient returns a LabelProvider backed by c.
func NewLabelClient(c *upstream.Client) *LabelClient {
	return &LabelClient{c: c}
}

// CreateLabel posts to /labels.
func (lc *LabelClient) CreateLabel(ctx context.Context, p job.CreateLabel) (job.LabelResult, error) {
	var res job.LabelResult
	if err := lc.c.Post(ctx, "/labels", p, &res); err != nil {
		return job.LabelResult{}, fmt.Errorf("create label for order %s: %w", p.OrderID, err)
	}
	return res, nil
}

// VoidLabel posts to /labels/{labelId}/void.
func (lc *LabelClient) VoidLabel(ctx context.Context, p job.VoidLabel) (job.VoidResult, error) {
	var res job.VoidResult
	path := fmt.Sprintf("/labels/%s/void", url.PathEscape(p.LabelID))
	if err := lc.c.Post(ctx, path, struct{}{}, &res); err != nil {
		return job.VoidResult{}, fmt.Errorf("void label %s: %w", p.LabelID, err)
	}
	return res, nil
}
