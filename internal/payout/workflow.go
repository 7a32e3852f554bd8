// Package payout splits incoming payments between the participants
// currently present and refunds whatever cannot be split.
package payout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"krist-payout/internal/krist"
	"krist-payout/internal/observability"
	"krist-payout/internal/roster"
)

// Outcomes of handling one incoming payment.
const (
	OutcomeSplit     = "split"
	OutcomeNoOne     = "refund_no_recipients"
	OutcomeTooSmall  = "refund_too_small"
	OutcomeRosterErr = "refund_roster_error"
	OutcomeIgnored   = "ignored"
)

// Payment kinds used for metrics.
const (
	kindShare     = "share"
	kindRemainder = "remainder"
	kindRefund    = "refund"
)

// DefaultMaxConcurrency bounds in-flight share payments.
const DefaultMaxConcurrency = 16

// Account reports the address the session is authenticated as.
type Account interface {
	Address() (krist.AddressStatus, bool)
}

// Config configures the workflow.
type Config struct {
	// ServiceName is the name.kst payments must be addressed to.
	ServiceName string
	// Exclude lists addresses or names that never receive a share.
	Exclude []string
	// MaxConcurrency bounds in-flight share payments.
	MaxConcurrency int
}

// Option configures Workflow.
type Option func(*Workflow)

// WithLogger sets the workflow logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics sets the metrics the workflow records to.
func WithMetrics(m *observability.Metrics) Option {
	return func(w *Workflow) {
		w.metrics = m
	}
}

// Workflow handles transactions sent to the service name.
type Workflow struct {
	config  Config
	account Account
	client  krist.Transactor
	roster  roster.Source
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWorkflow creates a workflow that pays out from client to the
// participants of src.
func NewWorkflow(cfg Config, account Account, client krist.Transactor, src roster.Source, opts ...Option) *Workflow {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}

	w := &Workflow{
		config:  cfg,
		account: account,
		client:  client,
		roster:  src,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Result describes what Handle did with one transaction.
type Result struct {
	Outcome    string
	Share      int64
	Remainder  int64
	Recipients []roster.Participant
	// Failed holds the recipients whose share payment failed.
	Failed []roster.Participant
}

// Accepts reports whether tx is a payment to the service: sent to the
// session's own address with the service name in its metadata.
func (w *Workflow) Accepts(tx *krist.Transaction) bool {
	self, ok := w.account.Address()
	if !ok || tx.To != self.Address {
		return false
	}
	return tx.Metadata.Name == w.config.ServiceName
}

// Subscriber delivers incoming transactions.
type Subscriber interface {
	OnTransaction(fn krist.TransactionHandler) error
}

// Register subscribes the workflow to incoming transactions.
func (w *Workflow) Register(s Subscriber) error {
	return s.OnTransaction(w.Handle)
}

// Handle splits tx between the eligible participants. It is a
// krist.TransactionHandler.
func (w *Workflow) Handle(ctx context.Context, tx *krist.Transaction) error {
	_, err := w.Process(ctx, tx)
	return err
}

// Process is Handle with a report of what happened. Transactions the
// service does not accept are ignored.
func (w *Workflow) Process(ctx context.Context, tx *krist.Transaction) (Result, error) {
	if !w.Accepts(tx) {
		return Result{Outcome: OutcomeIgnored}, nil
	}

	logger := w.logger.With("tx", tx.ID, "from", tx.From, "value", tx.Value)

	started := time.Now()
	recipients, err := roster.Eligible(ctx, w.roster, w.config.Exclude)
	w.metrics.RecordRosterQuery(time.Since(started).Seconds(), len(recipients))
	if err != nil {
		logger.Error("cannot list recipients, refunding", "error", err)
		refundErr := w.refund(ctx, tx, krist.CommonMeta{
			Error: "The payout service could not find its recipients; your payment has been refunded.",
		}, 0)
		w.metrics.RecordPayout(OutcomeRosterErr)
		return Result{Outcome: OutcomeRosterErr}, errors.Join(err, refundErr)
	}

	n := int64(len(recipients))
	if n == 0 {
		logger.Info("no eligible recipients, refunding")
		w.metrics.RecordPayout(OutcomeNoOne)
		return Result{Outcome: OutcomeNoOne}, w.refund(ctx, tx, krist.CommonMeta{
			Error: "There is nobody to share this payment with right now; your payment has been refunded.",
		}, 0)
	}

	share := tx.Value / n
	remainder := tx.Value - share*n

	if share == 0 {
		logger.Info("value too small to split, refunding", "recipients", n)
		w.metrics.RecordPayout(OutcomeTooSmall)
		return Result{Outcome: OutcomeTooSmall, Recipients: recipients}, w.refund(ctx, tx, krist.CommonMeta{
			Error: fmt.Sprintf("%d KST is too small to split between %d recipients; your payment has been refunded.", tx.Value, n),
		}, 0)
	}

	result := Result{
		Outcome:    OutcomeSplit,
		Share:      share,
		Remainder:  remainder,
		Recipients: recipients,
	}

	var errs []error
	if remainder > 0 {
		err := w.refund(ctx, tx, krist.CommonMeta{
			Message: fmt.Sprintf("Returning %d KST that could not be split evenly between %d recipients.", remainder, n),
		}, remainder)
		if err != nil {
			errs = append(errs, err)
		}
	}

	result.Failed, err = w.payShares(ctx, tx, recipients, share)
	if err != nil {
		errs = append(errs, err)
	}

	w.metrics.RecordPayout(OutcomeSplit)
	logger.Info("payment split",
		"recipients", n, "share", share, "remainder", remainder, "failed", len(result.Failed))

	return result, errors.Join(errs...)
}

// payShares sends share to every recipient concurrently and waits for
// all of them. It returns the recipients whose payment failed.
func (w *Workflow) payShares(ctx context.Context, tx *krist.Transaction, recipients []roster.Participant, share int64) ([]roster.Participant, error) {
	meta := krist.CommonMeta{
		Message: fmt.Sprintf("Your share of a payment from %s to %s", tx.From, w.config.ServiceName),
	}

	var (
		mu     sync.Mutex
		failed []roster.Participant
		errs   []error
	)

	var g errgroup.Group
	g.SetLimit(w.config.MaxConcurrency)

	for _, p := range recipients {
		g.Go(func() error {
			_, err := w.client.MakeTransaction(ctx, p.Address, share, meta)
			w.metrics.RecordPayment(kindShare, share, err)
			if err != nil {
				w.logger.Error("share payment failed", "tx", tx.ID, "to", p.Address, "amount", share, "error", err)
				mu.Lock()
				failed = append(failed, p)
				errs = append(errs, fmt.Errorf("pay %s: %w", p.Address, err))
				mu.Unlock()
			}
			// Failures are collected, not returned, so siblings still run
			return nil
		})
	}
	g.Wait()

	return failed, errors.Join(errs...)
}

// refund returns amount of tx to its sender; zero refunds everything.
func (w *Workflow) refund(ctx context.Context, tx *krist.Transaction, meta krist.CommonMeta, amount int64) error {
	kind := kindRefund
	if amount > 0 && amount < tx.Value {
		kind = kindRemainder
	}
	if amount <= 0 {
		amount = tx.Value
	}

	_, err := tx.Refund(ctx, meta, amount)
	w.metrics.RecordPayment(kind, amount, err)
	if err != nil {
		w.logger.Error("refund failed", "tx", tx.ID, "to", tx.ReturnAddress(), "amount", amount, "error", err)
		return fmt.Errorf("refund %d to %s: %w", amount, tx.ReturnAddress(), err)
	}
	return nil
}
