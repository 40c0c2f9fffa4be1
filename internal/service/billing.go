package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ghostwriter/ghostwriter-api/internal/catalog"
	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/port"
)

var billingTracer = otel.Tracer("service/billing")

// BillingService creates checkout sessions for credit packs.
// Fulfillment happens on the webhook, never here.
type BillingService struct {
	checkout port.CheckoutProvider
	catalog  *catalog.Catalog
	logger   *zap.Logger
}

// NewBillingService creates a new billing service.
func NewBillingService(checkout port.CheckoutProvider, cat *catalog.Catalog, logger *zap.Logger) *BillingService {
	return &BillingService{checkout: checkout, catalog: cat, logger: logger}
}

// CreateCheckout starts a hosted checkout session for one pack. Price
// and credits come from the catalog, not the request.
func (s *BillingService) CreateCheckout(ctx context.Context, accountEmail, packID string) (*domain.CheckoutSession, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.CreateCheckout")
	defer span.End()
	span.SetAttributes(attribute.String("pack.id", packID))

	pack, err := s.catalog.Pack(packID)
	if err != nil {
		return nil, err
	}

	session, err := s.checkout.CreateCheckoutSession(ctx, accountEmail, packID, pack.Name, pack.PriceCents, pack.Credits)
	if err != nil {
		return nil, err
	}

	s.logger.Info("checkout session created",
		zap.String("pack_id", packID),
		zap.String("session_id", session.SessionID),
	)
	return session, nil
}
