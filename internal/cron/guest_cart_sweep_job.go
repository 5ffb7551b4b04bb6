package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartreserve-backend/internal/cart"
	"github.com/angelmondragon/cartreserve-backend/internal/reservation"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/metrics"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox/payloads"
)

const (
	guestCartSweepJobName   = "guest-cart-sweep"
	defaultGuestRetention   = 7 * 24 * time.Hour
	defaultSweepBatchSize   = 200
	defaultSweepCartsPerSec = 50
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type dedupEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// GuestCartSweepJobParams configure the abandoned guest cart sweeper.
type GuestCartSweepJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Carts       cart.CartRepository
	Coordinator *reservation.Coordinator
	Outbox      dedupEmitter
	Metrics     *metrics.CronJobMetrics
	Retention   time.Duration
	BatchSize   int

	// CartsPerSecond paces cart transactions so a large backlog does not starve API traffic.
	CartsPerSecond float64
}

// NewGuestCartSweepJob builds the job that releases reservations held by stale guest carts.
func NewGuestCartSweepJob(params GuestCartSweepJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case params.Coordinator == nil:
		return nil, fmt.Errorf("reservation coordinator required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox service required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultGuestRetention
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	perSec := params.CartsPerSecond
	if perSec <= 0 {
		perSec = defaultSweepCartsPerSec
	}
	return &guestCartSweepJob{
		logg:      params.Logger,
		db:        params.DB,
		carts:     params.Carts,
		coord:     params.Coordinator,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		retention: retention,
		batch:     batch,
		limiter:   rate.NewLimiter(rate.Limit(perSec), 1),
		now:       time.Now,
	}, nil
}

type guestCartSweepJob struct {
	logg      *logger.Logger
	db        txRunner
	carts     cart.CartRepository
	coord     *reservation.Coordinator
	outbox    dedupEmitter
	metrics   *metrics.CronJobMetrics
	retention time.Duration
	batch     int
	limiter   *rate.Limiter
	now       func() time.Time
}

func (j *guestCartSweepJob) Name() string { return guestCartSweepJobName }

// sweepOutcome summarises one cart.
type sweepOutcome struct {
	releasedLines int
	releasedUnits int
	failedLines   int
	abandoned     bool
}

func (j *guestCartSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	stale, err := j.carts.ListStaleGuestCarts(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale guest carts: %w", err)
	}

	var errs error
	var abandoned, failedLines, releasedUnits int
	for _, candidate := range stale {
		if err := j.limiter.Wait(ctx); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		outcome, err := j.sweepCart(ctx, candidate.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sweep cart %s: %w", candidate.ID, err))
			continue
		}
		if outcome.abandoned {
			abandoned++
		}
		failedLines += outcome.failedLines
		releasedUnits += outcome.releasedUnits
	}

	j.metrics.AddProcessed(j.Name(), "abandoned", abandoned)
	j.metrics.AddProcessed(j.Name(), "line_failed", failedLines)
	j.metrics.AddProcessed(j.Name(), "units_released", releasedUnits)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"candidates":     len(stale),
		"abandoned":      abandoned,
		"failed_lines":   failedLines,
		"units_released": releasedUnits,
	})
	j.logg.Info(logCtx, "guest cart sweep complete")
	return errs
}

// sweepCart releases every line of one cart inside a single transaction. Each line runs in
// a savepoint so one failed release rolls back only that line. The cart is abandoned either
// way; lines that failed stay on it with their audit rows for reconciliation.
func (j *guestCartSweepJob) sweepCart(ctx context.Context, cartID uuid.UUID) (sweepOutcome, error) {
	var outcome sweepOutcome
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		outcome = sweepOutcome{}
		repo := j.carts.WithTx(tx)
		locked, err := repo.LockByID(ctx, cartID)
		if err != nil {
			return err
		}
		if locked.Status != enums.CartStatusActive || !locked.IsGuest() {
			return nil
		}
		items, err := repo.ListItems(ctx, cartID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := j.releaseLine(ctx, tx, item); err != nil {
				outcome.failedLines++
				lineCtx := j.logg.WithCartID(ctx, cartID.String())
				lineCtx = j.logg.WithProductID(lineCtx, item.ProductID.String())
				j.logg.Error(lineCtx, "sweep line release failed", err)
				continue
			}
			outcome.releasedLines++
			outcome.releasedUnits += item.Quantity
		}
		if err := repo.UpdateStatus(ctx, cartID, enums.CartStatusAbandoned, nil); err != nil {
			return err
		}
		outcome.abandoned = true
		return j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCartAbandoned,
			AggregateType: enums.AggregateCart,
			AggregateID:   cartID,
			Actor:         &outbox.ActorRef{Source: guestCartSweepJobName},
			Data: payloads.CartAbandonedEvent{
				CartID:        cartID,
				ReleasedLines: outcome.releasedLines,
				ReleasedUnits: outcome.releasedUnits,
				FailedLines:   outcome.failedLines,
				CreatedAt:     locked.CreatedAt,
			},
		})
	})
	return outcome, err
}

func (j *guestCartSweepJob) releaseLine(ctx context.Context, tx *gorm.DB, item models.CartItem) error {
	return tx.Transaction(func(lineTx *gorm.DB) error {
		if item.Quantity > 0 {
			_, err := j.coord.WithTx(lineTx).ReleaseFor(ctx, item.CartID, item.ProductID, item.Quantity, enums.AdjustmentSweepRelease)
			if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return err
			}
		}
		return j.carts.WithTx(lineTx).DeleteItem(ctx, item.ID)
	})
}
