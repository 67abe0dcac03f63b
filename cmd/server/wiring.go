package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/campaign-engine/internal/archive"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/events"
	"github.com/ignite/campaign-engine/internal/mailer"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/httpretry"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/repository/dynamo"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/processes"
	"github.com/ignite/campaign-engine/internal/service/verification"
	"github.com/ignite/campaign-engine/internal/smtpprobe"
	"github.com/ignite/campaign-engine/internal/warmup"
	"github.com/ignite/campaign-engine/internal/worker"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// stores groups the backend for every aggregate.
type stores struct {
	contacts interface {
		campaign.ContactReader
		verification.ContactStore
	}
	campaigns interface {
		campaign.SegmentReader
		campaign.CampaignStore
		processes.CampaignLister
	}
	queue interface {
		campaign.QueueWriter
		processes.QueueReader
	}
	jobs interface {
		verification.JobStore
		processes.JobLister
	}
}

type app struct {
	db             *sql.DB
	redis          *redis.Client
	pool           *worker.Pool
	pinger         interface{ Ping(context.Context) error }
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	storeKind      string

	campaigns *campaign.Service
	verifier  *verification.Service
	processes *processes.Service

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)
	a.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, func() { db.Close() })
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			opts = &redis.Options{Addr: cfg.Redis.URL}
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, using database or local locks", "error", err.Error())
			client.Close()
		} else {
			a.redis = client
			a.closers = append(a.closers, func() { client.Close() })
		}
	}

	st, err := a.buildStores(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	mail, err := buildMailer(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQP.URL != "" {
		p, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			logger.Warn("amqp unavailable, events disabled", "error", err.Error())
		} else {
			publisher = p
			a.closers = append(a.closers, func() { p.Close() })
		}
	}

	var archiver archive.Archiver
	if cfg.Archive.Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(regionOr(cfg.Archive.Region, cfg.Mail.Region)))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("aws config for archive: %w", err)
		}
		s3a := archive.NewS3Archive(s3.NewFromConfig(awsCfg), cfg.Archive.Bucket, cfg.Archive.Prefix)
		archiver = s3a
		a.pinger = s3a
	}

	a.pool = worker.NewPool(cfg.Workers.PoolSize, cfg.Workers.QueueSize)
	a.pool.SetObserver(a.metrics)

	renderer := mailer.NewRenderer()

	a.campaigns = campaign.NewService(campaign.Deps{
		Contacts:  st.contacts,
		Segments:  st.campaigns,
		Campaigns: st.campaigns,
		Queue:     st.queue,
		Locks:     distlock.NewFactory(a.redis, a.db, time.Duration(cfg.Scheduler.LockTTLSeconds)*time.Second),
		Mail:      mail,
		Renderer:  renderer,
		Events:    publisher,
		Metrics:   a.metrics,
	}, campaign.Options{
		DedupeAcrossSegments: cfg.Recipients.DedupeAcrossSegments,
		IncludeGeneric:       cfg.Recipients.IncludeGeneric(),
		TargetBatches:        cfg.Scheduler.TargetBatches,
		MaxBatchSize:         cfg.Scheduler.MaxBatchSize,
		Interval:             cfg.Scheduler.Interval(),
	})

	a.verifier = verification.NewService(verification.Deps{
		Contacts: st.contacts,
		Jobs:     st.jobs,
		Prober:   buildProber(cfg),
		Pool:     a.pool,
		Limiter:  a.buildLimiter(cfg),
		Mail:     mail,
		Renderer: renderer,
		Archive:  archiver,
		Events:   publisher,
		Metrics:  a.metrics,
	}, verification.Options{
		Timeout:            cfg.Verification.Timeout(),
		Delay:              cfg.Verification.Delay(),
		GuardedTransitions: cfg.Verification.GuardedTransitions,
		IncludeGeneric:     cfg.Recipients.IncludeGeneric(),
	})

	a.processes = processes.NewService(st.jobs, st.campaigns, st.queue,
		warmup.NewCalculator(nil, cfg.Warmup.MaxPerHour), a.pool)

	return a, nil
}

func (a *app) buildStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}
	if a.db != nil {
		a.storeKind = "postgres"
		st.contacts = postgres.NewContactRepo(a.db)
		st.campaigns = postgres.NewCampaignRepo(a.db)
		st.queue = postgres.NewQueueRepo(a.db)
		st.jobs = postgres.NewJobRepo(a.db)
	} else {
		logger.Warn("DATABASE_URL not set, using the in-memory store")
		a.storeKind = "memory"
		mem := memory.New()
		st.contacts, st.campaigns, st.queue, st.jobs = mem, mem, mem, mem
	}

	if cfg.Jobs.Backend == "dynamodb" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(regionOr(cfg.Jobs.Region, cfg.Mail.Region)))
		if err != nil {
			return nil, fmt.Errorf("aws config for jobs table: %w", err)
		}
		st.jobs = dynamo.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.Jobs.Table)
	}
	return st, nil
}

func buildMailer(ctx context.Context, cfg *config.Config) (mailer.Transport, error) {
	var t mailer.Transport
	switch cfg.Mail.Provider {
	case "ses":
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Mail.Region)}
		if cfg.Mail.AccessKey != "" && cfg.Mail.SecretKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.Mail.AccessKey, cfg.Mail.SecretKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("aws config for ses: %w", err)
		}
		t = mailer.NewSESTransport(awsCfg)
	case "smtp":
		t = mailer.NewSMTPTransport(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.SMTPUsername, cfg.Mail.SMTPPassword)
	case "log":
		t = mailer.LogTransport{}
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Mail.Provider)
	}
	return mailer.WithDefaultFrom(t, cfg.Mail.From), nil
}

func buildProber(cfg *config.Config) smtpprobe.Prober {
	vc := cfg.Verification
	if vc.Provider == "http" {
		var apiKey string
		if vc.ProbeAPIKeyEnv != "" {
			apiKey = os.Getenv(vc.ProbeAPIKeyEnv)
		}
		client := httpretry.NewRetryClient(&http.Client{Timeout: vc.Timeout()}, 2,
			httpretry.WithBackoff(250*time.Millisecond, 2*time.Second))
		return smtpprobe.NewHTTPProber(client, vc.ProbeURL, apiKey, vc.Timeout())
	}
	return smtpprobe.NewDirect(nil, vc.HeloDomain, vc.MailFrom)
}

func (a *app) buildLimiter(cfg *config.Config) worker.ProbeLimiter {
	rate := cfg.Verification.SharedRatePerMinute
	switch {
	case rate <= 0:
		return nil
	case a.redis != nil:
		return worker.NewRedisProbeLimiter(a.redis, "campaign-engine:probe-rate", rate)
	default:
		return worker.NewLocalProbeLimiter(rate)
	}
}

func regionOr(region, fallback string) string {
	if region != "" {
		return region
	}
	return fallback
}
