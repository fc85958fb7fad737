package job

// FulfillmentResult is returned by create_fulfillment handlers.
type FulfillmentResult struct {
	FulfillmentID string `json:"fulfillmentId"`
	Status        string `json:"status,omitempty"`
}

// LabelResult is returned by create_label handlers.
type LabelResult struct {
	LabelID        string `json:"labelId"`
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier,omitempty"`
	LabelURL       string `json:"labelUrl,omitempty"`
	CostCents      int64  `json:"costCents,omitempty"`
}

// VoidResult is returned by void_label handlers.
type VoidResult struct {
	Success bool `json:"success"`
}

// InventoryResult is returned by inventory_adjust handlers.
type InventoryResult struct {
	Adjusted  bool `json:"adjusted"`
	Available *int `json:"available,omitempty"`
}

// EventLogResult is returned by event_log handlers.
type EventLogResult struct {
	Logged bool `json:"logged"`
}
