// Package handlers binds every job type to the code that performs it.
//
// Commerce and LabelProvider are the outbound collaborators; their HTTP
// adapters live in this package and speak JSON through upstream.Client.
// event_log jobs are written to a structured log locally.
package handlers

import (
	"context"
	"log/slog"

	"github.com/xraph/outbox/engine"
	"github.com/xraph/outbox/job"
)

// Commerce is the commerce platform: order fulfillment and inventory.
type Commerce interface {
	CreateFulfillment(ctx context.Context, p job.CreateFulfillment) (job.FulfillmentResult, error)
	AdjustInventory(ctx context.Context, p job.InventoryAdjust) (job.InventoryResult, error)
}

// LabelProvider buys and voids shipping labels.
type LabelProvider interface {
	CreateLabel(ctx context.Context, p job.CreateLabel) (job.LabelResult, error)
	VoidLabel(ctx context.Context, p job.VoidLabel) (job.VoidResult, error)
}

// Deps holds the collaborators handlers call. A nil collaborator leaves
// its job types without a handler.
type Deps struct {
	Commerce Commerce
	Labels   LabelProvider
	Events   *EventLogger
	Logger   *slog.Logger
}

// Register installs a handler for every job type whose collaborator is
// present and returns the types it registered.
func Register(q *engine.Queue, deps Deps) []job.Type {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var registered []job.Type
	if c := deps.Commerce; c != nil {
		engine.Register(q, job.NewDefinition(c.CreateFulfillment))
		engine.Register(q, job.NewDefinition(c.AdjustInventory))
		registered = append(registered, job.TypeCreateFulfillment, job.TypeInventoryAdjust)
	} else {
		logger.Warn("no commerce client configured; fulfillment and inventory jobs will fail",
			slog.String("types", "create_fulfillment,inventory_adjust"))
	}

	if l := deps.Labels; l != nil {
		engine.Register(q, job.NewDefinition(l.CreateLabel))
		engine.Register(q, job.NewDefinition(l.VoidLabel))
		registered = append(registered, job.TypeCreateLabel, job.TypeVoidLabel)
	} else {
		logger.Warn("no label provider configured; label jobs will fail",
			slog.String("types", "create_label,void_label"))
	}

	events := deps.Events
	if events == nil {
		events = NewEventLogger(logger)
	}
	engine.Register(q, job.NewDefinition(events.Log))
	registered = append(registered, job.TypeEventLog)

	return registered
}
