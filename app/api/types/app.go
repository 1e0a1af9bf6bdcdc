package types

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	auditlog "github.com/trustpoll/trustpoll/pkg/audit"
	auditdb "github.com/trustpoll/trustpoll/pkg/db/audit"
	"github.com/trustpoll/trustpoll/pkg/db/election"
	"github.com/trustpoll/trustpoll/pkg/db/postgres"
	"github.com/trustpoll/trustpoll/pkg/email"
	"github.com/trustpoll/trustpoll/pkg/fairness"
	"github.com/trustpoll/trustpoll/pkg/ledger"
	"github.com/trustpoll/trustpoll/pkg/otp"
	"github.com/trustpoll/trustpoll/pkg/redis"
	"github.com/trustpoll/trustpoll/pkg/session"
	"github.com/trustpoll/trustpoll/pkg/vote"
	"go.uber.org/zap"
)

// Ledger is the slice of the gateway the HTTP layer consumes directly; the
// coordinator and audit log hold their own narrower views.
type Ledger interface {
	AddCandidate(ctx context.Context, candidateID int64) (ledger.PendingResult, error)
	CandidateCounts(ctx context.Context, candidateIDs []int64) (map[int64]uint64, error)
	VerifyTransaction(ctx context.Context, txID string) (ledger.TxStatus, error)
	AppID() uint64
}

type App struct {
	DB    *postgres.Client
	Votes election.Store
	Audit auditdb.Store

	Ledger      Ledger
	AuditLog    *auditlog.Log
	Coordinator *vote.Coordinator
	Scorer      *fairness.Scorer

	OTP      *otp.Store
	Email    email.Sender
	Sessions *session.Issuer

	// RedisClient/Feed are nil when real-time events are disabled.
	RedisClient *redis.Client
	Feed        *redis.Feed

	// Cron drives the periodic reconciliation run.
	Cron     *cron.Cron
	CronSpec string

	ElectionID  string
	EmailDomain string

	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start starts the application and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("Cron started", zap.String("cronSpec", a.CronSpec))
	}

	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}

	_ = a.Server.Shutdown(shutdownCtx)
	a.DB.Close()
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
