package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Type identifies a job kind. It selects the handler and payload schema.
type Type string

const (
	TypeCreateFulfillment Type = "create_fulfillment"
	TypeCreateLabel       Type = "create_label"
	TypeVoidLabel         Type = "void_label"
	TypeInventoryAdjust   Type = "inventory_adjust"
	TypeEventLog          Type = "event_log"
)

// Types lists every known job type.
var Types = []Type{
	TypeCreateFulfillment,
	TypeCreateLabel,
	TypeVoidLabel,
	TypeInventoryAdjust,
	TypeEventLog,
}

// Valid reports whether t is a known job type.
func (t Type) Valid() bool {
	return slices.Contains(Types, t)
}

// ErrInvalidPayload is returned when a payload does not match the schema
// of its job type. Jobs failing with it are never retried.
var ErrInvalidPayload = errors.New("outbox: invalid job payload")

// Payload is implemented by the per-type payload structs.
type Payload interface {
	Type() Type
	Validate() error
}

// DecodePayload decodes raw into the payload struct for t and validates it.
func DecodePayload(t Type, raw []byte) (Payload, error) {
	var p Payload
	switch t {
	case TypeCreateFulfillment:
		p = &CreateFulfillment{}
	case TypeCreateLabel:
		p = &CreateLabel{}
	case TypeVoidLabel:
		p = &VoidLabel{}
	case TypeInventoryAdjust:
		p = &InventoryAdjust{}
	case TypeEventLog:
		p = &EventLog{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, t)
	}
	if err := decodeStrict(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, t, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodePayload validates p and marshals it.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, p.Type(), err)
	}
	return raw, nil
}

func decodeStrict(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func invalid(t Type, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, t, fmt.Sprintf(format, args...))
}

// LineItem is one fulfilled order line.
type LineItem struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// CreateFulfillment marks order lines as shipped on the commerce platform.
type CreateFulfillment struct {
	OrderID         string     `json:"orderId"`
	LocationID      string     `json:"locationId,omitempty"`
	LineItems       []LineItem `json:"lineItems"`
	TrackingNumber  string     `json:"trackingNumber,omitempty"`
	TrackingCompany string     `json:"trackingCompany,omitempty"`
	NotifyCustomer  bool       `json:"notifyCustomer,omitempty"`
}

func (CreateFulfillment) Type() Type { return TypeCreateFulfillment }

func (p CreateFulfillment) Validate() error {
	if p.OrderID == "" {
		return invalid(p.Type(), "orderId is required")
	}
	if len(p.LineItems) == 0 {
		return invalid(p.Type(), "at least one line item is required")
	}
	for i, li := range p.LineItems {
		if li.ID == "" {
			return invalid(p.Type(), "lineItems[%d].id is required", i)
		}
		if li.Quantity <= 0 {
			return invalid(p.Type(), "lineItems[%d].quantity must be positive", i)
		}
	}
	return nil
}

// Address is a shipping destination.
type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// CreateLabel buys a shipping label for an order.
type CreateLabel struct {
	OrderID     string   `json:"orderId"`
	Carrier     string   `json:"carrier,omitempty"`
	Service     string   `json:"service,omitempty"`
	WeightGrams int      `json:"weightGrams,omitempty"`
	ShipTo      *Address `json:"shipTo,omitempty"`
}

func (CreateLabel) Type() Type { return TypeCreateLabel }

func (p CreateLabel) Validate() error {
	if p.OrderID == "" {
		return invalid(p.Type(), "orderId is required")
	}
	if p.WeightGrams < 0 {
		return invalid(p.Type(), "weightGrams must not be negative")
	}
	return nil
}

// VoidLabel cancels a purchased label.
type VoidLabel struct {
	LabelID string `json:"labelId"`
	OrderID string `json:"orderId,omitempty"`
}

func (VoidLabel) Type() Type { return TypeVoidLabel }

func (p VoidLabel) Validate() error {
	if p.LabelID == "" {
		return invalid(p.Type(), "labelId is required")
	}
	return nil
}

// InventoryAdjust changes the available quantity of an item at a location.
type InventoryAdjust struct {
	InventoryItemID string `json:"inventoryItemId"`
	LocationID      string `json:"locationId"`
	Delta           int    `json:"delta"`
	Reason          string `json:"reason,omitempty"`
}

func (InventoryAdjust) Type() Type { return TypeInventoryAdjust }

func (p InventoryAdjust) Validate() error {
	if p.InventoryItemID == "" {
		return invalid(p.Type(), "inventoryItemId is required")
	}
	if p.LocationID == "" {
		return invalid(p.Type(), "locationId is required")
	}
	if p.Delta == 0 {
		return invalid(p.Type(), "delta must not be zero")
	}
	return nil
}

// EventLog records an operator-visible audit event.
type EventLog struct {
	Event   string         `json:"event"`
	OrderID string         `json:"orderId,omitempty"`
	Actor   string         `json:"actor,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func (EventLog) Type() Type { return TypeEventLog }

func (p EventLog) Validate() error {
	if p.Event == "" {
		return invalid(p.Type(), "event is required")
	}
	return nil
}
