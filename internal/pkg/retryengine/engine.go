// Package retryengine re-drives every retryable domain from one scheduled
// sweep: the webhook intake queue, the notification outbox, cash-out
// confirmations, unconfirmed exchange orders and auto-cash-out. Each phase
// runs inside its own failure boundary so one broken subsystem never stops
// the others from making progress.
package retryengine

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/app/repository"
	"github.com/custodix/walletcore/internal/pkg/locks"
	"github.com/custodix/walletcore/internal/pkg/txsafety"
	"github.com/custodix/walletcore/internal/pkg/webhookqueue"
)

const (
	defaultBatchSize  = 100
	defaultMaxPending = 1000

	backoffBase = 60 * time.Second
	backoffCap  = 3600 * time.Second
)

// NotificationSender delivers one outbox entry to its channel.
type NotificationSender interface {
	Notify(ctx context.Context, severity, subject, body string) error
}

// CashoutConfirmer asks the payment provider whether a cash-out settled.
// confirmed=false with a nil error means still pending on the provider side.
type CashoutConfirmer interface {
	ConfirmCashout(ctx context.Context, req *models.CashoutRequest) (confirmed bool, err error)
}

// ExchangeConfirmer asks the exchange venue whether an order filled.
type ExchangeConfirmer interface {
	ConfirmExchange(ctx context.Context, order *models.ExchangeOrder) (confirmed bool, err error)
}

// PhaseResult aggregates one sweep phase.
type PhaseResult struct {
	Processed   int    `json:"processed"`
	Successful  int    `json:"successful"`
	Failed      int    `json:"failed"`
	Rescheduled int    `json:"rescheduled"`
	Error       string `json:"error,omitempty"`
}

// SweepReport aggregates one full sweep across all phases.
type SweepReport struct {
	Phases    map[string]*PhaseResult `json:"phases"`
	StartedAt time.Time               `json:"started_at"`
	Elapsed   string                  `json:"elapsed"`
}

// Engine runs the sweep. Confirmer fields may be nil, in which case the
// corresponding phase only reports without touching any rows.
type Engine struct {
	store     repository.Store
	queue     *webhookqueue.Queue
	locks     *locks.Manager
	txs       *txsafety.Service
	sender    NotificationSender
	cashouts  CashoutConfirmer
	exchanges ExchangeConfirmer

	batchSize  int
	maxPending int
}

func NewEngine(store repository.Store, queue *webhookqueue.Queue, lockMgr *locks.Manager, txs *txsafety.Service) *Engine {
	return &Engine{
		store:      store,
		queue:      queue,
		locks:      lockMgr,
		txs:        txs,
		batchSize:  defaultBatchSize,
		maxPending: defaultMaxPending,
	}
}

// WithNotificationSender wires the outbox delivery channel.
func (e *Engine) WithNotificationSender(s NotificationSender) *Engine {
	e.sender = s
	return e
}

// WithConfirmers wires the provider-side confirmation integrations.
func (e *Engine) WithConfirmers(c CashoutConfirmer, x ExchangeConfirmer) *Engine {
	e.cashouts = c
	e.exchanges = x
	return e
}

// RunSweep executes every phase once. Safe to invoke concurrently with
// itself: each row is guarded by a non-blocking lock or an idempotency token.
func (e *Engine) RunSweep(ctx context.Context) *SweepReport {
	report := &SweepReport{
		Phases:    make(map[string]*PhaseResult),
		StartedAt: time.Now(),
	}

	e.runPhase(report, "webhook_queue", func(r *PhaseResult) error { return e.sweepWebhookQueue(ctx, r) })
	e.runPhase(report, "notifications", func(r *PhaseResult) error { return e.sweepNotifications(ctx, r) })
	e.runPhase(report, "cashouts", func(r *PhaseResult) error { return e.sweepCashouts(ctx, r) })
	e.runPhase(report, "exchange_orders", func(r *PhaseResult) error { return e.sweepExchangeOrders(ctx, r) })
	e.runPhase(report, "auto_cashout", func(r *PhaseResult) error { return e.sweepAutoCashout(ctx, r) })

	report.Elapsed = time.Since(report.StartedAt).String()
	log.Infof("[RetryEngine] Sweep finished in %s", report.Elapsed)
	return report
}

// runPhase isolates one phase: a panic or error is recorded on the phase
// result and the sweep moves on.
func (e *Engine) runPhase(report *SweepReport, name string, fn func(*PhaseResult) error) {
	result := &PhaseResult{}
	report.Phases[name] = result

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Sprintf("phase panic: %v", r)
			log.Errorf("[RetryEngine] Phase %s panicked: %v", name, r)
		}
	}()
	if err := fn(result); err != nil {
		result.Error = err.Error()
		log.Errorf("[RetryEngine] Phase %s failed: %v", name, err)
	}
}

// sweepWebhookQueue runs backlog management; due retry events are picked up
// by the processor's own poll loop, so this phase only recovers and reports.
func (e *Engine) sweepWebhookQueue(ctx context.Context, result *PhaseResult) error {
	if err := e.queue.ManageBacklog(ctx, e.maxPending); err != nil {
		return err
	}
	stats, err := e.queue.Stats(ctx)
	if err != nil {
		return err
	}
	result.Processed = int(stats.Pending + stats.Retry)
	result.Rescheduled = int(stats.Retry)
	return nil
}

func (e *Engine) sweepNotifications(ctx context.Context, result *PhaseResult) error {
	if e.sender == nil {
		return nil
	}
	due, err := e.store.Notifications().DuePending(ctx, time.Now(), e.batchSize)
	if err != nil {
		return err
	}
	for i := range due {
		n := &due[i]
		result.Processed++
		if err := e.sender.Notify(ctx, n.Severity, n.Subject, n.Body); err != nil {
			e.rescheduleNotification(ctx, result, n, err)
			continue
		}
		if err := e.store.Notifications().MarkSent(ctx, n.ID); err != nil {
			log.Errorf("[RetryEngine] Failed to mark notification %d sent: %v", n.ID, err)
			result.Failed++
			continue
		}
		result.Successful++
	}
	return nil
}

func (e *Engine) rescheduleNotification(ctx context.Context, result *PhaseResult, n *models.NotificationOutbox, cause error) {
	terminal := n.Attempts+1 >= n.MaxAttempts
	next := time.Now().Add(backoffDelay(n.Attempts))
	if err := e.store.Notifications().MarkAttemptFailed(ctx, n.ID, cause.Error(), next, terminal); err != nil {
		log.Errorf("[RetryEngine] Failed to reschedule notification %d: %v", n.ID, err)
	}
	if terminal {
		result.Failed++
		return
	}
	result.Rescheduled++
}

func (e *Engine) sweepCashouts(ctx context.Context, result *PhaseResult) error {
	if e.cashouts == nil {
		return nil
	}
	due, err := e.store.Cashouts().DueConfirming(ctx, time.Now(), e.batchSize)
	if err != nil {
		return err
	}
	for i := range due {
		req := &due[i]
		err := e.locks.LockedCashout(ctx, req.RequestID, locks.DefaultTimeout, true, func() error {
			result.Processed++
			confirmed, err := e.cashouts.ConfirmCashout(ctx, req)
			if err != nil {
				e.rescheduleCashout(ctx, result, req, err)
				return nil
			}
			if !confirmed {
				e.rescheduleCashout(ctx, result, req, fmt.Errorf("still pending at provider"))
				return nil
			}
			if err := e.store.Cashouts().MarkConfirmed(ctx, req.ID); err != nil {
				result.Failed++
				return fmt.Errorf("failed to persist confirmation of %s: %w", req.RequestID, err)
			}
			result.Successful++
			return nil
		})
		// A held lock returns nil without running the callback, so only
		// persistence failures surface here.
		if err != nil {
			log.Errorf("[RetryEngine] Cashout sweep: %v", err)
		}
	}
	return nil
}

func (e *Engine) rescheduleCashout(ctx context.Context, result *PhaseResult, req *models.CashoutRequest, cause error) {
	terminal := req.Attempts+1 >= req.MaxAttempts
	next := time.Now().Add(backoffDelay(req.Attempts))
	if err := e.store.Cashouts().MarkAttemptFailed(ctx, req.ID, cause.Error(), next, terminal); err != nil {
		log.Errorf("[RetryEngine] Failed to reschedule cashout %s: %v", req.RequestID, err)
	}
	if terminal {
		result.Failed++
		return
	}
	result.Rescheduled++
}

func (e *Engine) sweepExchangeOrders(ctx context.Context, result *PhaseResult) error {
	if e.exchanges == nil {
		return nil
	}
	due, err := e.store.ExchangeOrders().DueUnconfirmed(ctx, time.Now(), e.batchSize)
	if err != nil {
		return err
	}
	for i := range due {
		order := &due[i]
		result.Processed++
		confirmed, err := e.exchanges.ConfirmExchange(ctx, order)
		if err == nil && confirmed {
			if err := e.store.ExchangeOrders().MarkConfirmed(ctx, order.ID); err != nil {
				result.Failed++
				continue
			}
			result.Successful++
			continue
		}
		cause := err
		if cause == nil {
			cause = fmt.Errorf("still unconfirmed at venue")
		}
		terminal := order.Attempts+1 >= order.MaxAttempts
		next := time.Now().Add(backoffDelay(order.Attempts))
		if err := e.store.ExchangeOrders().MarkAttemptFailed(ctx, order.ID, cause.Error(), next, terminal); err != nil {
			log.Errorf("[RetryEngine] Failed to reschedule order %s: %v", order.OrderID, err)
		}
		if terminal {
			result.Failed++
		} else {
			result.Rescheduled++
		}
	}
	return nil
}

// sweepAutoCashout moves every eligible wallet's available funds above the
// configured threshold into locked balance and opens a confirming cash-out
// request. The balance move drops the wallet below its threshold, so a
// repeated sweep naturally skips it.
func (e *Engine) sweepAutoCashout(ctx context.Context, result *PhaseResult) error {
	wallets, err := e.store.Wallets().ListAutoCashout(ctx)
	if err != nil {
		return err
	}
	for i := range wallets {
		w := &wallets[i]
		release, ok := e.locks.TryAcquire(fmt.Sprintf("autocashout:%d:%s", w.UserID, w.Currency))
		if !ok {
			continue
		}
		func() {
			defer release()
			result.Processed++
			if e.initiateAutoCashout(ctx, w) {
				result.Successful++
			} else {
				result.Failed++
			}
		}()
	}
	return nil
}

func (e *Engine) initiateAutoCashout(ctx context.Context, w *models.Wallet) bool {
	amount := w.AvailableBalance
	if !amount.IsPositive() {
		return false
	}
	requestID := fmt.Sprintf("autocashout-%s", uuid.New().String())

	moved, err := e.txs.ExecuteBalanceOperations(ctx,
		[]txsafety.BalanceOperation{
			{
				WalletType:  models.WalletTypeUser,
				UserID:      w.UserID,
				Currency:    w.Currency,
				BalanceType: models.BalanceTypeAvailable,
				Amount:      amount,
				Op:          txsafety.OpDebit,
			},
			{
				WalletType:  models.WalletTypeUser,
				UserID:      w.UserID,
				Currency:    w.Currency,
				BalanceType: models.BalanceTypeLocked,
				Amount:      amount,
				Op:          txsafety.OpCredit,
			},
		},
		txsafety.OperationContext{
			TransactionID: requestID,
			OperationType: "auto_cashout",
			InitiatedBy:   "retry_engine",
		})
	if err != nil || !moved.Succeeded() {
		log.Errorf("[RetryEngine] Auto-cashout balance move failed for user %d %s: %v", w.UserID, w.Currency, err)
		return false
	}

	req := &models.CashoutRequest{
		RequestID:     requestID,
		UserID:        w.UserID,
		Currency:      w.Currency,
		Amount:        amount,
		Status:        models.CashoutStatusConfirming,
		NextAttemptAt: time.Now(),
		MaxAttempts:   10,
	}
	if err := e.store.Cashouts().Create(ctx, req); err != nil {
		log.Errorf("[RetryEngine] Failed to create auto-cashout request for user %d: %v", w.UserID, err)
		return false
	}
	log.Infof("[RetryEngine] Auto-cashout %s opened for user %d: %s %s", requestID, w.UserID, amount.String(), w.Currency)
	return true
}

// backoffDelay doubles per attempt from 60s, capped at one hour. Same
// schedule the intake queue uses for webhook retries.
func backoffDelay(attempts int) time.Duration {
	delay := backoffBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	return delay
}
