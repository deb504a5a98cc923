package reactivation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/engagement"
	"github.com/watchearn/backend/internal/gateway"
	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/metrics"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/repositories"
)

var (
	// ErrNotSuspended indicates a reactivation attempt for an active account.
	ErrNotSuspended = errors.New("account is not suspended")
	// ErrGatewayUnavailable indicates the payment gateway could not serve the call.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrOrderNotFound indicates an unknown reactivation order.
	ErrOrderNotFound = errors.New("reactivation order not found")
	// ErrNotOrderOwner indicates the order belongs to another user.
	ErrNotOrderOwner = errors.New("reactivation order belongs to another user")
)

const defaultGatewayTimeout = 10 * time.Second

// Initiation is a created reactivation order the user must pay.
type Initiation struct {
	OrderID    string
	PaymentURL string
	Amount     decimal.Decimal
	Currency   string
}

// Verification is the applied state of a reactivation order.
type Verification struct {
	OrderID     string
	Status      models.ReactivationStatus
	Success     bool
	Reactivated bool
}

// Flow lifts suspensions once the reactivation fee is paid.
type Flow struct {
	Store          repositories.Store
	Gateway        gateway.Gateway
	Evaluator      *engagement.Evaluator
	Metrics        *metrics.Metrics
	Fee            decimal.Decimal
	Currency       string
	GatewayTimeout time.Duration
	NowFunc        func() time.Time
}

// NewFlow constructs the reactivation flow.
func NewFlow(store repositories.Store, gw gateway.Gateway, evaluator *engagement.Evaluator, m *metrics.Metrics, fee decimal.Decimal, currency string) *Flow {
	return &Flow{
		Store:          store,
		Gateway:        gw,
		Evaluator:      evaluator,
		Metrics:        m,
		Fee:            fee,
		Currency:       currency,
		GatewayTimeout: defaultGatewayTimeout,
	}
}

func (f *Flow) now() time.Time {
	if f.NowFunc != nil {
		return f.NowFunc().UTC()
	}
	return time.Now().UTC()
}

func (f *Flow) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := f.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Initiate creates a gateway order for a suspended user. The gateway is called
// outside any transaction and is not retried.
func (f *Flow) Initiate(ctx context.Context, userID string) (Initiation, error) {
	now := f.now()
	user, err := f.Evaluator.Evaluate(ctx, userID, now)
	if err != nil {
		return Initiation{}, err
	}
	if user.AccountStatus != models.AccountSuspended {
		return Initiation{}, ErrNotSuspended
	}
	episode := user.SuspensionCount

	logger := logging.FromContext(ctx).With(slog.String("user_id", userID), slog.Int("episode", episode))
	reference := fmt.Sprintf("reactivation-%s-%d-%s", userID, episode, uuid.NewString()[:8])

	gwCtx, cancel := f.gatewayContext(ctx)
	order, err := f.Gateway.CreateOrder(gwCtx, f.Fee, f.Currency, reference)
	cancel()
	if err != nil {
		f.Metrics.Reactivation("gateway_error")
		logger.Warn("reactivation order creation failed", slog.Any("error", err))
		return Initiation{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	record := models.ReactivationOrder{
		ID:         uuid.NewString(),
		UserID:     userID,
		OrderID:    order.ID,
		Amount:     f.Fee,
		Status:     models.ReactivationCreated,
		Episode:    episode,
		PaymentURL: order.PaymentURL,
		CreatedAt:  now,
	}
	err = f.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		locked, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if locked.AccountStatus != models.AccountSuspended || locked.SuspensionCount != episode {
			return ErrNotSuspended
		}
		if err := tx.InsertReactivationOrder(ctx, record); err != nil {
			return fmt.Errorf("insert reactivation order: %w", err)
		}
		return nil
	})
	if err != nil {
		return Initiation{}, err
	}

	f.Metrics.Reactivation("initiated")
	logger.Info("reactivation order created", slog.String("order_id", order.ID))
	return Initiation{OrderID: order.ID, PaymentURL: order.PaymentURL, Amount: f.Fee, Currency: f.Currency}, nil
}

// VerifyForUser checks ownership before verifying.
func (f *Flow) VerifyForUser(ctx context.Context, userID, orderID string) (Verification, error) {
	order, err := f.loadOrder(ctx, orderID)
	if err != nil {
		return Verification{}, err
	}
	if order.UserID != userID {
		return Verification{}, ErrNotOrderOwner
	}
	return f.Verify(ctx, orderID)
}

// Verify polls the gateway and applies the result. An already verified order
// succeeds without a gateway call. A gateway failure leaves the order as is.
func (f *Flow) Verify(ctx context.Context, orderID string) (Verification, error) {
	order, err := f.loadOrder(ctx, orderID)
	if err != nil {
		return Verification{}, err
	}
	switch order.Status {
	case models.ReactivationVerified:
		return Verification{OrderID: orderID, Status: order.Status, Success: true}, nil
	case models.ReactivationFailed:
		return Verification{OrderID: orderID, Status: order.Status}, nil
	}

	gwCtx, cancel := f.gatewayContext(ctx)
	state, err := f.Gateway.OrderStatus(gwCtx, orderID)
	cancel()
	if err != nil {
		f.Metrics.Reactivation("gateway_error")
		logging.FromContext(ctx).Warn("reactivation status query failed",
			slog.String("order_id", orderID),
			slog.Any("error", err),
		)
		return Verification{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return f.ApplyVerification(ctx, orderID, state.Status)
}

// HandleCallback processes a signed gateway callback. The payload status is
// not trusted; the order is re-queried.
func (f *Flow) HandleCallback(ctx context.Context, event gateway.WebhookEvent) (Verification, error) {
	logging.FromContext(ctx).Info("reactivation callback received",
		slog.String("order_id", event.OrderID),
		slog.String("reported_status", event.Status),
	)
	return f.Verify(ctx, event.OrderID)
}

// ApplyVerification is the single transition function for gateway results. It
// locks the order and then the user. Replays are no-ops.
func (f *Flow) ApplyVerification(ctx context.Context, orderID string, status gateway.Status) (Verification, error) {
	now := f.now()
	var (
		result Verification
		failed bool
	)
	err := f.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		failed = false
		order, err := tx.GetReactivationOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		result = Verification{OrderID: orderID, Status: order.Status}
		if order.Status != models.ReactivationCreated {
			result.Success = order.Status == models.ReactivationVerified
			return nil
		}

		switch status {
		case gateway.StatusPending:
			return nil
		case gateway.StatusFailed:
			order.Status = models.ReactivationFailed
			if err := tx.UpdateReactivationOrder(ctx, order); err != nil {
				return fmt.Errorf("update reactivation order: %w", err)
			}
			result.Status = order.Status
			failed = true
			return nil
		case gateway.StatusPaid:
		default:
			return fmt.Errorf("unknown gateway status %q", status)
		}

		user, err := tx.LockUser(ctx, order.UserID)
		if err != nil {
			return err
		}
		user, err = f.Evaluator.EvaluateTx(ctx, tx, user, now)
		if err != nil {
			return err
		}

		verifiedAt := now
		order.Status = models.ReactivationVerified
		order.VerifiedAt = &verifiedAt
		if err := tx.UpdateReactivationOrder(ctx, order); err != nil {
			return fmt.Errorf("update reactivation order: %w", err)
		}
		result.Status = order.Status
		result.Success = true

		if user.SuspensionCount != order.Episode {
			return nil
		}
		if !engagement.Reactivate(&user, f.Evaluator.Today(now), now) {
			return nil
		}
		if err := tx.UpdateStanding(ctx, user); err != nil {
			return fmt.Errorf("reactivate user: %w", err)
		}
		result.Reactivated = true
		return nil
	})
	if err != nil {
		return Verification{}, err
	}

	logger := logging.FromContext(ctx).With(slog.String("order_id", orderID))
	switch {
	case result.Reactivated:
		f.Metrics.Reactivation("reactivated")
		logger.Info("account reactivated")
	case failed:
		f.Metrics.Reactivation("failed")
		logger.Info("reactivation payment failed")
	}
	return result, nil
}

func (f *Flow) loadOrder(ctx context.Context, orderID string) (models.ReactivationOrder, error) {
	var order models.ReactivationOrder
	err := f.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		order, err = tx.GetReactivationOrder(ctx, orderID)
		return err
	})
	if errors.Is(err, repositories.ErrNotFound) {
		return models.ReactivationOrder{}, ErrOrderNotFound
	}
	return order, err
}
