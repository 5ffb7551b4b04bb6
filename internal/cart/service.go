// Package cart owns cart and line lifecycles. Every mutation runs in one transaction that
// locks the cart row first, and binds the reservation coordinator to that transaction so
// lines and reservations commit together.
package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartreserve-backend/internal/reservation"
	"github.com/angelmondragon/cartreserve-backend/internal/totals"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
)

const tracerName = "cartreserve/cart"

// View is a cart with its lines and computed totals.
type View struct {
	Cart     models.Cart
	Totals   totals.Totals
	Currency string
}

// SkippedItem is a guest line that could not be merged and stays on the guest cart.
type SkippedItem struct {
	ProductID uuid.UUID
	Quantity  int
	Reason    pkgerrors.Code
}

// MergeResult reports the user cart after a merge and what happened to each guest line.
type MergeResult struct {
	View           View
	GuestCartID    uuid.UUID
	Merged         []uuid.UUID
	Skipped        []SkippedItem
	GuestConverted bool
}

// Service is the only entry point for cart reads and writes. ownerID "" means anonymous.
type Service interface {
	CreateCart(ctx context.Context, ownerID string) (*View, error)
	GetCart(ctx context.Context, cartID uuid.UUID, ownerID string) (*View, error)
	GetOwnerCart(ctx context.Context, ownerID string) (*View, error)
	AddItem(ctx context.Context, cartID uuid.UUID, ownerID string, productID uuid.UUID, qty int) (*View, error)
	SetItemQuantity(ctx context.Context, cartID uuid.UUID, ownerID string, productID uuid.UUID, qty int) (*View, error)
	RemoveItem(ctx context.Context, cartID uuid.UUID, ownerID string, productID uuid.UUID) (*View, error)
	ClearCart(ctx context.Context, cartID uuid.UUID, ownerID string) (*View, error)
	MergeGuestIntoUser(ctx context.Context, guestCartID uuid.UUID, ownerID string) (*MergeResult, error)
	CheckoutView(ctx context.Context, cartID uuid.UUID, ownerID string) (*View, error)
	CommitCheckout(ctx context.Context, cartID uuid.UUID, ownerID string) (*View, error)
}

type ServiceParams struct {
	Repo            CartRepository
	Tx              txRunner
	Coordinator     *reservation.Coordinator
	Catalog         Catalog
	Calculator      *totals.Calculator
	Outbox          outbox.Emitter
	Logger          *logger.Logger
	Currency        string
	MaxLineQuantity int
}

type service struct {
	repo        CartRepository
	tx          txRunner
	coordinator *reservation.Coordinator
	catalog     Catalog
	calculator  *totals.Calculator
	outbox      outbox.Emitter
	logg        *logger.Logger
	currency    string
	maxQty      int
	tracer      trace.Tracer
}

// NewService builds a cart service backed by the provided stack.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("cart repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Coordinator == nil:
		return nil, fmt.Errorf("reservation coordinator required")
	case params.Catalog == nil:
		return nil, fmt.Errorf("catalog required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	calculator := params.Calculator
	if calculator == nil {
		calculator = totals.NewCalculator(totals.DefaultRules())
	}
	currency := params.Currency
	if currency == "" {
		currency = "VND"
	}
	return &service{
		repo:        params.Repo,
		tx:          params.Tx,
		coordinator: params.Coordinator,
		catalog:     params.Catalog,
		calculator:  calculator,
		outbox:      params.Outbox,
		logg:        params.Logger,
		currency:    currency,
		maxQty:      params.MaxLineQuantity,
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// CreateCart returns a new guest cart for anonymous callers. An authenticated owner gets
// their existing active cart, or a new one.
func (s *service) CreateCart(ctx context.Context, ownerID string) (*View, error) {
	ctx, span := s.startSpan(ctx, "cart.create", uuid.Nil)
	defer span.End()

	var created *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cart, err := s.resolveOwnerCart(ctx, s.repo.WithTx(tx), ownerID)
		created = cart
		return err
	})
	if err != nil && pkgerrors.IsCode(err, pkgerrors.CodeConflict) && ownerID != "" {
		// Lost the race with a concurrent create for the same owner.
		created, err = s.repo.FindActiveByOwner(ctx, ownerID)
	}
	if err != nil {
		return nil, endSpan(span, err)
	}
	return s.view(ctx, s.repo, created.ID)
}

// GetOwnerCart resolves or creates the caller's active cart.
func (s *service) GetOwnerCart(ctx context.Context, ownerID string) (*View, error) {
	if ownerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return s.CreateCart(ctx, ownerID)
}

func (s *service) resolveOwnerCart(ctx context.Context, repo CartRepository, ownerID string) (*models.Cart, error) {
	if ownerID != "" {
		existing, err := repo.FindActiveByOwner(ctx, ownerID)
		if err == nil {
			return existing, nil
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
	}
	cart := &models.Cart{Status: enums.CartStatusActive}
	if ownerID != "" {
		owner := ownerID
		cart.OwnerID = &owner
	}
	if err := repo.Create(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// GetCart returns an active cart visible to ownerID, or NotFound.
func (s *service) GetCart(ctx context.Context, cartID uuid.UUID, ownerID string) (*View, error) {
	view, err := s.view(ctx, s.repo, cartID)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(&view.Cart, ownerID); err != nil {
		return nil, err
	}
	return view, nil
}

// mutation is the transaction-bound state handed to a cart write.
type mutation struct {
	tx    *gorm.DB
	repo  CartRepository
	coord *reservation.Coordinator
	cart  *models.Cart
}

// mutate locks the cart, checks it is active and visible, then runs fn in the same transaction.
func (s *service) mutate(ctx context.Context, cartID uuid.UUID, ownerID string, fn func(m mutation) error) (*View, error) {
	var view *View
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := repo.LockByID(ctx, cartID)
		if err != nil {
			return err
		}
		if err := checkAccess(cart, ownerID); err != nil {
			return err
		}
		if err := fn(mutation{tx: tx, repo: repo, coord: s.coordinator.WithTx(tx), cart: cart}); err != nil {
			return err
		}
		view, err = s.view(ctx, repo, cartID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *service) view(ctx context.Context, repo CartRepository, cartID uuid.UUID) (*View, error) {
	cart, err := repo.FindByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	lines := make([]totals.Line, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, totals.Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity})
	}
	sums, err := s.calculator.Calculate(lines)
	if err != nil {
		return nil, err
	}
	return &View{Cart: *cart, Totals: sums, Currency: s.currency}, nil
}

// checkAccess hides carts that are retired or belong to someone else behind NotFound.
func checkAccess(cart *models.Cart, ownerID string) error {
	if cart.Status.Terminal() {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if cart.OwnerID != nil && *cart.OwnerID != ownerID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	return nil
}

func (s *service) startSpan(ctx context.Context, name string, cartID uuid.UUID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("cart.id", cartID.String())))
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(pkgerrors.CodeOf(err)))
	}
	return err
}
