package selectors

import (
	"context"

	logic "github.com/patrickwarner/adselection/internal/logic"
	"github.com/patrickwarner/adselection/internal/models"
)

// Selector defines a pluggable interface for advertisement selection.
type Selector interface {
	// SelectAdvertisement picks content for a customer in a marketplace.
	SelectAdvertisement(ctx context.Context, customerID, marketplaceID string) (models.SelectionResult, error)
	// SelectForRequest is SelectAdvertisement for a fully resolved request.
	// trace may be nil.
	SelectForRequest(ctx context.Context, rc *models.RequestContext, trace *logic.SelectionTrace) (models.SelectionResult, error)
}
