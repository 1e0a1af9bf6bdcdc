package api

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/trustpoll/trustpoll/app/api/types"
	auditlog "github.com/trustpoll/trustpoll/pkg/audit"
	auditdb "github.com/trustpoll/trustpoll/pkg/db/audit"
	"github.com/trustpoll/trustpoll/pkg/db/election"
	"github.com/trustpoll/trustpoll/pkg/db/postgres"
	"github.com/trustpoll/trustpoll/pkg/email"
	"github.com/trustpoll/trustpoll/pkg/fairness"
	"github.com/trustpoll/trustpoll/pkg/ledger"
	"github.com/trustpoll/trustpoll/pkg/logging"
	"github.com/trustpoll/trustpoll/pkg/otp"
	"github.com/trustpoll/trustpoll/pkg/redis"
	"github.com/trustpoll/trustpoll/pkg/session"
	"github.com/trustpoll/trustpoll/pkg/utils"
	"github.com/trustpoll/trustpoll/pkg/vote"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.NewFor("api")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	dbClient, err := postgres.New(ctx, logger, postgres.PoolConfigFor("api"))
	if err != nil {
		logger.Fatal("Unable to initialize database client", zap.Error(err))
	}

	votes := election.New(dbClient)
	if err := votes.InitializeDB(ctx); err != nil {
		logger.Fatal("Unable to initialize election database tables", zap.Error(err))
	}
	auditStore := auditdb.New(dbClient)
	if err := auditStore.InitializeDB(ctx); err != nil {
		logger.Fatal("Unable to initialize audit database tables", zap.Error(err))
	}

	gateway, err := ledger.New(logger, ledger.ConfigFromEnv())
	if err != nil {
		logger.Fatal("Unable to initialize ledger gateway", zap.Error(err))
	}

	// Real-time audit feed is optional; without Redis the audit log still
	// persists everything, there is just no live fan-out.
	var redisClient *redis.Client
	var feed *redis.Feed
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - live audit feed will be disabled",
				zap.Error(err))
			redisClient = nil
		} else {
			feed = redis.NewFeed(redisClient, logger)
			logger.Info("Redis client initialized for live audit feed")
		}
	} else {
		logger.Info("Redis disabled - live audit feed will not be available")
	}

	electionID := utils.Env("ELECTION_ID", "general")
	var auditFeed auditlog.Feed
	if feed != nil {
		auditFeed = feed
	}
	log := auditlog.NewLog(logger, auditStore, gateway, auditFeed)
	coordinator := vote.NewCoordinator(logger, votes, gateway, log, electionID)
	scorer := fairness.NewScorer(logger, votes, auditStore, gateway, electionID)

	sessions, err := session.New([]byte(utils.Env("SESSION_SECRET", "change-me-please")))
	if err != nil {
		logger.Fatal("Unable to initialize session issuer", zap.Error(err))
	}

	var sender email.Sender
	sender, err = email.NewSMTPSender(logger)
	if err != nil {
		logger.Warn("SMTP not configured, verification codes will be logged instead", zap.Error(err))
		sender = &email.LogSender{Logger: logger}
	}

	app := &types.App{
		DB:          &dbClient,
		Votes:       votes,
		Audit:       auditStore,
		Ledger:      gateway,
		AuditLog:    log,
		Coordinator: coordinator,
		Scorer:      scorer,
		OTP:         otp.NewStore(utils.EnvDuration("OTP_TTL", otp.DefaultTTL)),
		Email:       sender,
		Sessions:    sessions,
		RedisClient: redisClient,
		Feed:        feed,
		ElectionID:  electionID,
		EmailDomain: utils.Env("VOTER_EMAIL_DOMAIN", "vit.edu"),
		Logger:      logger,
	}

	if err := SetupScheduler(ctx, app); err != nil {
		logger.Fatal("Unable to initialize scheduler", zap.Error(err))
	}

	return app
}

// SetupScheduler wires the periodic reconciliation and OTP purge runs.
func SetupScheduler(ctx context.Context, app *types.App) error {
	app.CronSpec = utils.Env("RECONCILE_CRON", "0 */10 * * * *")
	app.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	_, err := app.Cron.AddFunc(app.CronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		summary, err := app.AuditLog.Reconcile(rctx)
		if err != nil {
			app.Logger.Error("Scheduled reconciliation failed", zap.Error(err))
			return
		}
		app.Logger.Info("Scheduled reconciliation completed",
			zap.Int("checked", summary.EventsChecked),
			zap.Int("localMismatches", summary.LocalMismatch),
			zap.Int("ledgerMismatches", summary.LedgerMismatch),
			zap.String("status", summary.Status))

		if _, err := app.Scorer.Compute(rctx, fairness.TriggerReconciliation); err != nil {
			app.Logger.Error("Post-reconciliation fairness compute failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	_, err = app.Cron.AddFunc("0 * * * * *", func() {
		if removed := app.OTP.Purge(); removed > 0 {
			app.Logger.Debug("Purged expired verification codes", zap.Int("removed", removed))
		}
	})
	return err
}
