package bootstrap

import (
	"context"
	"fmt"

	faceadapter "cleanup_worker/adapter/out/face"
	"cleanup_worker/adapter/out/mongodb"
	"cleanup_worker/adapter/out/persistence"
	"cleanup_worker/adapter/out/provider"
	"cleanup_worker/config"
	"cleanup_worker/core/agent/llm"
	"cleanup_worker/core/port/out"
	"cleanup_worker/core/service/classification"
	"cleanup_worker/core/service/cleanup"
	"cleanup_worker/core/service/execution"
	"cleanup_worker/core/service/face"
	"cleanup_worker/core/service/media"
	"cleanup_worker/core/service/plan"
	"cleanup_worker/infra/database"
	"cleanup_worker/internal/stream"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/cache"
	"cleanup_worker/pkg/crypto"
	"cleanup_worker/pkg/logger"
	"cleanup_worker/pkg/ratelimit"
	"cleanup_worker/pkg/resilience"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/oauth2"
)

const (
	streamGroup        = "cleanup-workers"
	adjudicationPrefix = "cleanup:adjudication:"
	deleteLimiterName  = "deletes"
	driveLimiterName   = "drive-reads"
	gmailLimiterName   = "gmail-reads"
)

// Dependencies is the wired object graph shared by every run mode.
type Dependencies struct {
	Config *config.Config
	Policy *config.Policy

	// Optional stores; nil when not configured.
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	Ledger  out.LedgerRepository
	Reports out.ReportRepository
	Audit   out.AuditPublisher
	Stream  *stream.RedisStream

	MediaSource out.MediaSource
	EmailSource out.EmailSource

	Runner *cleanup.Runner
}

// NewDependencies opens every configured store and wires the run pipeline.
// The returned cleanup closes them in reverse order.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanupAll := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanupAll()
		return nil, nil, err
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile, cfg)
	if err != nil {
		return fail(err)
	}
	deps.Policy = policy
	logger.Info("Policy loaded from %s: %d persons, cap %d", cfg.PolicyFile, len(policy.Persons), policy.MaxDeletesPerRun)

	// Redis (optional): adjudication cache, shared limiter, audit stream, run requests
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisURL, database.DefaultRedisConfig())
		if err != nil {
			return fail(err)
		}
		deps.Redis = rdb
		deps.Stream = stream.NewRedisStream(rdb, streamGroup)
		deps.Audit = stream.NewAuditPublisher(deps.Stream, cfg.AuditStream, cfg.AuditStreamMaxLen)
		cleanups = append(cleanups, func() { _ = rdb.Close() })
		logger.Info("Redis connected")
	}

	// Ledger
	if err := deps.openLedger(ctx, &cleanups); err != nil {
		return fail(err)
	}

	// Report archive (optional)
	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			return fail(err)
		}
		deps.MongoDB = client
		cleanups = append(cleanups, func() { _ = client.Disconnect(context.Background()) })

		reports := mongodb.NewReportAdapter(client.Database(cfg.MongoDBName), cfg.ReportRetention)
		if err := reports.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to ensure report indexes, continuing")
		}
		deps.Reports = reports
		logger.Info("MongoDB report archive connected (%s)", cfg.MongoDBName)
	}

	oauthCfg, err := GoogleOAuth(cfg)
	if err != nil {
		return fail(err)
	}
	ts, err := provider.TokenSource(ctx, oauthCfg)
	if err != nil {
		return fail(fmt.Errorf("google authorization (run with -mode authorize first): %w", err))
	}

	var mediaUnit *media.DecisionUnit
	if cfg.MediaEnabled {
		if mediaUnit, err = deps.wireMedia(ctx, ts); err != nil {
			return fail(err)
		}
	}

	var emailUnit *classification.EmailDecisionUnit
	if cfg.EmailEnabled {
		if emailUnit, err = deps.wireEmail(ctx, ts); err != nil {
			return fail(err)
		}
	}

	if deps.MediaSource == nil && deps.EmailSource == nil {
		return fail(fmt.Errorf("no source is enabled"))
	}

	builder, err := plan.NewBuilder(policy.MaxDeletesPerRun)
	if err != nil {
		return fail(err)
	}

	var opts []execution.Option
	if deps.Audit != nil {
		opts = append(opts, execution.WithAuditPublisher(deps.Audit))
	}
	coordinator, err := execution.NewCoordinator(
		deps.Ledger,
		execution.SourceDeleter{Media: deps.MediaSource, Email: deps.EmailSource},
		deps.limiter(deleteLimiterName),
		execution.Config{
			Concurrency: cfg.ExecConcurrency,
			MaxAttempts: cfg.ExecMaxAttempts,
			Backoff:     resilience.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax, Jitter: cfg.BackoffBase / 2},
			CallTimeout: cfg.ExecCallTimeout,
		},
		opts...,
	)
	if err != nil {
		return fail(err)
	}

	runner, err := cleanup.NewRunner(cleanup.Deps{
		MediaSource: deps.MediaSource,
		EmailSource: deps.EmailSource,
		MediaUnit:   mediaUnit,
		EmailUnit:   emailUnit,
		Builder:     builder,
		Ledger:      deps.Ledger,
		Coordinator: coordinator,
		Reports:     deps.Reports,
		Audit:       deps.Audit,
	}, cleanup.Config{
		DryRun:          cfg.DryRun,
		DecisionWorkers: cfg.DecisionWorkers,
		MaxMediaItems:   cfg.MaxMediaItems,
		MaxEmails:       cfg.MaxEmails,
	})
	if err != nil {
		return fail(err)
	}
	deps.Runner = runner

	return deps, cleanupAll, nil
}

// GoogleOAuth builds the token settings shared by run modes and the authorize flow.
func GoogleOAuth(cfg *config.Config) (provider.OAuthConfig, error) {
	oauthCfg := provider.OAuthConfig{
		CredentialsFile: cfg.GoogleCredentialsFile,
		TokenFile:       cfg.GoogleTokenFile,
	}
	if cfg.TokenEncryptionKey != "" {
		enc, err := crypto.NewEncryptor([]byte(cfg.TokenEncryptionKey))
		if err != nil {
			return oauthCfg, apperr.ConfigError(err.Error())
		}
		oauthCfg.Encryptor = enc
	}
	return oauthCfg, nil
}

func (d *Dependencies) openLedger(ctx context.Context, cleanups *[]func()) error {
	cfg := d.Config
	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		db, err := database.NewSQLX(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig())
		if err != nil {
			return err
		}
		*cleanups = append(*cleanups, func() { _ = db.Close() })
		ledger := persistence.NewPostgresLedger(db)
		if err := ledger.Migrate(ctx); err != nil {
			return err
		}
		d.SQLDB = db
		d.Ledger = ledger
	case config.LedgerMemory:
		logger.Warn("Using the in-memory ledger; succeeded deletions are forgotten on restart")
		d.Ledger = persistence.NewMemoryLedger()
	default:
		ledger, err := persistence.OpenBadgerLedger(persistence.BadgerConfig{Path: cfg.LedgerPath, SyncWrites: true})
		if err != nil {
			return err
		}
		*cleanups = append(*cleanups, func() { _ = ledger.Close() })
		d.Ledger = ledger
	}
	logger.Info("Ledger backend: %s", cfg.LedgerBackend)
	return nil
}

// wireMedia builds the Drive source, the face pipeline and the media unit.
// Media is skipped when face matching is disabled: with no known persons every
// face would be unknown.
func (d *Dependencies) wireMedia(ctx context.Context, ts oauth2.TokenSource) (*media.DecisionUnit, error) {
	cfg, policy := d.Config, d.Policy
	if !policy.Face.Enabled {
		logger.Warn("Face matching is disabled in the policy; media cleanup is skipped")
		return nil, nil
	}

	mp, err := policy.Face.MatchPolicy()
	if err != nil {
		return nil, err
	}
	store, err := face.NewEmbeddingStore(policy.Persons, mp.Metric)
	if err != nil {
		return nil, err
	}
	engine, err := face.NewMatchEngine(store, mp)
	if err != nil {
		return nil, err
	}
	unit, err := media.NewDecisionUnit(engine, policy.Media)
	if err != nil {
		return nil, err
	}

	driveCfg := provider.DefaultDriveConfig()
	driveCfg.DeleteMode = cfg.DriveDeleteMode
	driveCfg.MinSizeBytes = cfg.DriveMinSizeBytes
	drive, err := provider.NewDriveSource(ctx, ts, driveCfg, d.limiter(driveLimiterName))
	if err != nil {
		return nil, err
	}

	faceSvc, err := faceadapter.NewServiceClient(cfg.FaceServiceURL, nil)
	if err != nil {
		return nil, err
	}
	extractor, err := faceadapter.NewExtractor(drive, faceSvc, faceSvc, faceadapter.DefaultConfig())
	if err != nil {
		return nil, err
	}
	drive.SetFaceExtractor(extractor)

	d.MediaSource = drive
	logger.Info("Media source: Drive (delete mode %s)", driveCfg.DeleteMode)
	return unit, nil
}

// wireEmail builds the Gmail source, the rule engine and the adjudicator chain.
func (d *Dependencies) wireEmail(ctx context.Context, ts oauth2.TokenSource) (*classification.EmailDecisionUnit, error) {
	cfg, policy := d.Config, d.Policy

	rules, err := classification.NewRuleEngine(policy.EmailRules)
	if err != nil {
		return nil, err
	}

	var adjudicator classification.Adjudicator = classification.NullAdjudicator{}
	if cfg.OpenAIAPIKey != "" {
		client, err := llm.NewClientWithConfig(llm.ClientConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.LLMModel,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
		})
		if err != nil {
			return nil, err
		}
		adjudicator = classification.NewLLMAdjudicator(client, cfg.LLMTimeout)
		if d.Redis != nil && cfg.LLMCacheTTL > 0 {
			adjudicator = classification.NewCachedAdjudicator(adjudicator, cache.NewRedisCache(d.Redis, adjudicationPrefix), cfg.LLMCacheTTL)
		}
		logger.Info("Email adjudicator: %s", cfg.LLMModel)
	} else {
		logger.Warn("OPENAI_API_KEY not set; uncertain emails are kept")
	}

	unit, err := classification.NewEmailDecisionUnit(rules, adjudicator, policy.Escalation)
	if err != nil {
		return nil, err
	}

	gmailCfg := provider.DefaultGmailConfig()
	gmailCfg.Categories = cfg.GmailCategories
	gmailCfg.Query = cfg.GmailQuery
	gmailCfg.DeleteMode = cfg.GmailDeleteMode
	gmail, err := provider.NewGmailSource(ctx, ts, gmailCfg, d.limiter(gmailLimiterName))
	if err != nil {
		return nil, err
	}

	d.EmailSource = gmail
	logger.Info("Email source: Gmail %v (delete mode %s)", gmailCfg.Categories, gmailCfg.DeleteMode)
	return unit, nil
}

// limiter returns a Redis sliding window when the quota is shared between
// workers, and a local token bucket otherwise.
func (d *Dependencies) limiter(name string) ratelimit.Limiter {
	rl := ratelimit.Config{RequestsPerSecond: d.Config.RateLimitRPS, BurstSize: d.Config.RateLimitBurst}
	if d.Config.RateLimitShared && d.Redis != nil {
		return ratelimit.NewSlidingWindowLimiter(d.Redis, name, rl)
	}
	return ratelimit.NewLocal(rl)
}
