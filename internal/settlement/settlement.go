// Package settlement runs the background sweeps that move money: promoting
// pending earnings, opening scheduled and forced payouts, and driving open
// payouts through the bank gateway.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/craftora/payline/internal/balance/domain"
	"github.com/craftora/payline/internal/clock"
	"github.com/craftora/payline/internal/config"
	gatewaydomain "github.com/craftora/payline/internal/gateway/domain"
	ledgerdomain "github.com/craftora/payline/internal/ledger/domain"
	obsmetrics "github.com/craftora/payline/internal/observability/metrics"
	payoutdomain "github.com/craftora/payline/internal/payout/domain"
	"github.com/craftora/payline/internal/trigger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidParams = errors.New("invalid_settler_params")

const leaderLockKey = "payline:settlement:leader"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	AppConfig   config.Config
	GenID       *snowflake.Node
	Clock       clock.Clock
	BalanceRepo balancedomain.Repository
	LedgerRepo  ledgerdomain.Repository
	PayoutSvc   payoutdomain.Service
	Gateway     gatewaydomain.Gateway
	Config      Config  `optional:"true"`
	Locker      *Locker `optional:"true"`
}

type Settler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	appCfg      config.Config
	genID       *snowflake.Node
	clock       clock.Clock
	balanceRepo balancedomain.Repository
	ledgerRepo  ledgerdomain.Repository
	payoutSvc   payoutdomain.Service
	gateway     gatewaydomain.Gateway
	locker      *Locker
}

func New(p Params) (*Settler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil ||
		p.BalanceRepo == nil || p.LedgerRepo == nil || p.PayoutSvc == nil || p.Gateway == nil {
		return nil, ErrInvalidParams
	}
	return &Settler{
		db:          p.DB,
		log:         p.Log.Named("settlement").With(zap.String("component", "settlement")),
		cfg:         p.Config.withDefaults(),
		appCfg:      p.AppConfig,
		genID:       p.GenID,
		clock:       p.Clock,
		balanceRepo: p.BalanceRepo,
		ledgerRepo:  p.LedgerRepo,
		payoutSvc:   p.PayoutSvc,
		gateway:     p.Gateway,
		locker:      p.Locker,
	}, nil
}

func (s *Settler) thresholds() trigger.Thresholds {
	return trigger.Thresholds{
		MaxBalanceThreshold: s.appCfg.MaxBalanceThreshold,
		MaxHoldDays:         s.appCfg.MaxHoldDays,
		MinPayoutAmount:     s.appCfg.MinimumPayoutAmount,
	}
}

func (s *Settler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
	}
	obsmetrics.IncJobRun(name)

	err := fn(ctx)
	obsmetrics.ObserveJobDuration(name, time.Since(start).Seconds())
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(run)
	}
	if err == nil {
		return nil
	}

	obsmetrics.IncJobError(name)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Soft timeout: the next run picks up the rest of the batch.
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Settler) RunOnce(parent context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(parent, leaderLockKey, s.cfg.LeaderLockTTL)
		if err != nil {
			s.log.Warn("leader lock unavailable, running without it", zap.Error(err))
		} else if !ok {
			s.log.Debug("another replica holds the settlement lock")
			return nil
		} else {
			defer func() {
				if err := s.locker.Release(parent, leaderLockKey, token); err != nil {
					s.log.Warn("leader lock release failed", zap.Error(err))
				}
			}()
		}
	}

	var err error
	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"settle_pending", func(ctx context.Context) error {
			return s.runJob(ctx, "settle_pending", s.cfg.JobTimeout, s.SettlePendingJob)
		}},
		{"scheduled_payouts", func(ctx context.Context) error {
			return s.runJob(ctx, "scheduled_payouts", s.cfg.JobTimeout, s.ScheduledPayoutsJob)
		}},
		{"forced_payouts", func(ctx context.Context) error {
			return s.runJob(ctx, "forced_payouts", s.cfg.JobTimeout, s.ForcedPayoutsJob)
		}},
		{"retry_sweep", func(ctx context.Context) error {
			return s.runJob(ctx, "retry_sweep", s.cfg.JobTimeout, s.RetrySweepJob)
		}},
		{"process_payouts", func(ctx context.Context) error {
			// Gateway calls dominate; give this job a longer budget.
			return s.runJob(ctx, "process_payouts", 5*time.Minute, s.ProcessPayoutsJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Settler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("settlement run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Settler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// SettlePendingJob promotes pending ledger entries past the settlement delay
// to settled and credits the seller's available balance. The guarded status
// flip makes re-running the sweep harmless.
func (s *Settler) SettlePendingJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "settle_pending", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	cutoff := s.clock.Now().UTC().Add(-time.Duration(s.cfg.DelayHours) * time.Hour)
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		entries, err := s.ledgerRepo.FindReadyForSettlement(ctx, s.db, cutoff, s.cfg.BatchSize)
		if err != nil {
			s.logJobError(run, "settlement.fetch.failed", "settle_pending", 0, err)
			return errors.Join(jobErr, err)
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}
			if err := s.settleEntry(ctx, entry); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logJobError(run, "settlement.entry.failed", "settle_pending", entry.SellerID, err,
					zap.String("transaction_id", idString(entry.ID)),
				)
				continue
			}
			run.AddProcessed(1)
			obsmetrics.IncSettledTransaction()
		}
	}

	return jobErr
}

func (s *Settler) settleEntry(ctx context.Context, entry *ledgerdomain.BalanceTransaction) error {
	now := s.clock.Now().UTC()
	return s.db.Transaction(func(tx *gorm.DB) error {
		settled, err := s.ledgerRepo.MarkSettled(ctx, tx, entry.ID, now)
		if err != nil {
			return err
		}
		if !settled {
			// Someone else already promoted it.
			return nil
		}

		balance, err := s.balanceRepo.GetForUpdate(ctx, tx, entry.SellerID)
		if err != nil {
			return err
		}
		if err := balance.ApplySettlement(entry.Amount, entry.CreatedAt); err != nil {
			return err
		}
		return s.balanceRepo.Save(ctx, tx, balance)
	})
}

// ScheduledPayoutsJob opens payouts for sellers whose own schedule came due.
func (s *Settler) ScheduledPayoutsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "scheduled_payouts", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	now := s.clock.Now()
	var jobErr error

	balances, err := s.balanceRepo.FindDueForScheduledPayout(ctx, s.db, now, s.cfg.BatchSize)
	if err != nil {
		s.logJobError(run, "settlement.fetch.failed", "scheduled_payouts", 0, err)
		return err
	}

	for _, balance := range balances {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if !trigger.IsDueForScheduledPayout(balance, s.thresholds(), now) {
			continue
		}

		_, err := s.payoutSvc.Create(ctx, payoutdomain.CreatePayoutRequest{
			SellerID:    balance.SellerID,
			Amount:      balance.AvailableBalance,
			RequestType: payoutdomain.RequestTypeScheduled,
		})
		if errors.Is(err, payoutdomain.ErrOpenPayoutExists) {
			continue
		}
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logJobError(run, "settlement.payout.create.failed", "scheduled_payouts", balance.SellerID, err)
			continue
		}
		run.AddProcessed(1)
	}

	return jobErr
}

// ForcedPayoutsJob opens payouts the platform must make regardless of the
// seller's schedule: the balance cap was hit or funds were held too long.
func (s *Settler) ForcedPayoutsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "forced_payouts", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	now := s.clock.Now()
	unpaidBefore := now.UTC().Add(-time.Duration(s.appCfg.MaxHoldDays) * 24 * time.Hour)
	var jobErr error

	balances, err := s.balanceRepo.FindNeedingForcedPayout(ctx, s.db, s.appCfg.MaxBalanceThreshold, unpaidBefore, s.cfg.BatchSize)
	if err != nil {
		s.logJobError(run, "settlement.fetch.failed", "forced_payouts", 0, err)
		return err
	}

	for _, balance := range balances {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if !trigger.NeedsForcedPayout(balance, s.thresholds(), now) {
			continue
		}
		if !balance.BankVerified {
			s.log.Warn("forced payout blocked on unverified bank details",
				zap.String("seller_id", balance.SellerID.String()),
				zap.Int64("available_balance", balance.AvailableBalance),
			)
			continue
		}

		_, err := s.payoutSvc.Create(ctx, payoutdomain.CreatePayoutRequest{
			SellerID:    balance.SellerID,
			Amount:      balance.AvailableBalance,
			RequestType: payoutdomain.RequestTypeForced,
		})
		if errors.Is(err, payoutdomain.ErrOpenPayoutExists) {
			continue
		}
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logJobError(run, "settlement.payout.create.failed", "forced_payouts", balance.SellerID, err)
			continue
		}
		run.AddProcessed(1)
	}

	return jobErr
}

// RetrySweepJob requeues failed payouts whose backoff expired.
func (s *Settler) RetrySweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "retry_sweep", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	var jobErr error

	payouts, err := s.payoutSvc.FindRetryable(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logJobError(run, "settlement.fetch.failed", "retry_sweep", 0, err)
		return err
	}

	for _, payout := range payouts {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if _, err := s.payoutSvc.Requeue(ctx, payout.ID); err != nil {
			if errors.Is(err, payoutdomain.ErrInvalidTransition) || errors.Is(err, payoutdomain.ErrRetriesExhausted) {
				continue
			}
			jobErr = errors.Join(jobErr, err)
			s.logJobError(run, "settlement.payout.requeue.failed", "retry_sweep", payout.SellerID, err,
				zap.String("payout_id", idString(payout.ID)),
			)
			continue
		}
		run.AddProcessed(1)
	}

	return jobErr
}

// ProcessPayoutsJob submits pending payouts to the bank gateway and records
// the outcome.
func (s *Settler) ProcessPayoutsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "process_payouts", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	var jobErr error

	payouts, err := s.payoutSvc.FindProcessable(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logJobError(run, "settlement.fetch.failed", "process_payouts", 0, err)
		return err
	}

	for _, payout := range payouts {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if err := s.processPayout(ctx, payout.ID); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logJobError(run, "settlement.payout.process.failed", "process_payouts", payout.SellerID, err,
				zap.String("payout_id", idString(payout.ID)),
			)
			continue
		}
		run.AddProcessed(1)
	}

	return jobErr
}

func (s *Settler) processPayout(ctx context.Context, payoutID snowflake.ID) error {
	payout, err := s.payoutSvc.StartProcessing(ctx, payoutID)
	if errors.Is(err, payoutdomain.ErrAlreadyClaimed) {
		return nil
	}
	if err != nil {
		return err
	}

	result, err := s.gateway.Transfer(ctx, gatewaydomain.TransferRequest{
		IdempotencyKey:    payout.ID.String(),
		Amount:            payout.NetAmount,
		BankName:          payout.BankName,
		BankCode:          payout.BankCode,
		AccountNumber:     payout.AccountNumber,
		AccountHolderName: payout.AccountHolderName,
		Description:       fmt.Sprintf("payout %s", payout.ID.String()),
	})
	if err != nil {
		reason := err.Error()
		if errors.Is(err, gatewaydomain.ErrTransferTimeout) {
			reason = "gateway timeout"
		}
		if _, failErr := s.payoutSvc.MarkFailed(ctx, payout.ID, reason); failErr != nil {
			return errors.Join(err, failErr)
		}
		return nil
	}

	_, err = s.payoutSvc.MarkCompleted(ctx, payout.ID, result.Reference)
	return err
}
