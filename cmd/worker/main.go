// Command worker drains an email-verification job queue, runs each job
// through the emailverify pipeline under global and per-domain rate
// limits, persists the outcome, and reschedules transient (greylisted)
// failures for a later retry.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"emailverify"
	"emailverify/internal/config"
	"emailverify/internal/obslog"
)

const (
	workerCount        = 50
	brpopTimeout       = 5 * time.Second
	retryCheckInterval = 30 * time.Second
)

func main() {
	log := obslog.Default()
	log.Info("starting email verification worker")

	var cfg config.Worker
	config.MustLoad(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.WithField("err", err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info("connected to redis")

	db, err := openStore(cfg.PostgresDSN)
	if err != nil {
		log.WithField("err", err).Fatal("failed to connect to postgres")
	}
	defer db.close()
	log.Info("connected to postgres")

	pipelineCfg := emailverify.Config{
		HeloDomain:   cfg.HeloDomain,
		MailFrom:     cfg.MailFrom,
		ProbeCount:   cfg.ProbeCount,
		MaxCacheSize: cfg.MaxCacheSize,
	}
	if cfg.SOCKS5ProxyAddr != "" {
		dialer, err := emailverify.NewSOCKS5Dialer(cfg.SOCKS5ProxyAddr, cfg.SOCKS5Username, cfg.SOCKS5Password)
		if err != nil {
			log.WithField("err", err).Fatal("failed to configure SOCKS5 proxy")
		}
		pipelineCfg.ProxyDialer = dialer
		log.WithField("proxy", cfg.SOCKS5ProxyAddr).Info("routing SMTP traffic through SOCKS5 proxy")
	}
	pipeline := emailverify.New(pipelineCfg)

	limiter := newRateLimiterManager(cfg.GlobalRatePerSecond, cfg.PerDomainRateBurst)

	w := &worker{
		cfg:      cfg,
		redis:    redisClient,
		db:       db,
		pipeline: pipeline,
		limiter:  limiter,
		log:      log,
	}

	jobs := make(chan job, workerCount*2)
	for i := 0; i < workerCount; i++ {
		go w.run(ctx, i+1, jobs)
	}
	log.WithField("workers", workerCount).Info("worker pool started")

	go w.retryMonitor(ctx)

	w.dispatchLoop(ctx, jobs)
}

type worker struct {
	cfg      config.Worker
	redis    *redis.Client
	db       *store
	pipeline *emailverify.Pipeline
	limiter  *rateLimiterManager
	log      *logrus.Logger
}

// dispatchLoop is the single reader of the main queue: it pops jobs and
// hands them to the worker pool. Rate limiting happens per job in
// process, after the job has been popped.
func (w *worker) dispatchLoop(ctx context.Context, jobs chan<- job) {
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			return
		default:
		}

		result, err := w.redis.BRPop(ctx, brpopTimeout, w.cfg.QueueKey).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			w.log.WithField("err", err).Warn("error reading from queue")
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var j job
		if err := json.Unmarshal([]byte(result[1]), &j); err != nil {
			w.log.WithField("err", err).Warn("failed to parse job payload")
			continue
		}

		select {
		case jobs <- j:
		case <-ctx.Done():
			return
		}
	}
}

func (w *worker) run(ctx context.Context, id int, jobs <-chan job) {
	for j := range jobs {
		w.process(ctx, id, j)
	}
}

func (w *worker) process(ctx context.Context, workerID int, j job) {
	entry := w.log.WithField("worker", workerID).WithField("email", j.Email)

	if err := w.limiter.wait(ctx, domainOf(j.Email)); err != nil {
		entry.WithField("err", err).Warn("rate limit wait cancelled")
		return
	}

	result := w.pipeline.Verify(ctx, j.Email)

	if result.IsTransient() {
		entry.WithField("code", result.SMTPCode).Info("greylisted, scheduling retry")
		w.scheduleRetry(ctx, j)
		return
	}

	if err := w.db.upsertResult(j.JobID, j.Email, result, j.Attempts+1); err != nil {
		entry.WithField("err", err).Warn("failed to persist result")
		return
	}
	entry.WithField("status", result.Status).Info("verification complete")
}

func (w *worker) scheduleRetry(ctx context.Context, j job) {
	j.Attempts++
	if err := w.db.markGreylisted(j.JobID, j.Email, j.Attempts); err != nil {
		w.log.WithField("err", err).Warn("failed to record greylist status")
	}

	payload, err := json.Marshal(j)
	if err != nil {
		w.log.WithField("err", err).Warn("failed to serialize retry job")
		return
	}

	retryAt := time.Now().Add(w.cfg.RetryBackoff(j.Attempts)).Unix()
	if err := w.redis.ZAdd(ctx, w.cfg.RetryZSetKey, redis.Z{Score: float64(retryAt), Member: string(payload)}).Err(); err != nil {
		w.log.WithField("err", err).Warn("failed to enqueue retry")
	}
}

// retryMonitor periodically moves ZSET entries whose retry time has
// arrived back onto the main queue.
func (w *worker) retryMonitor(ctx context.Context) {
	ticker := time.NewTicker(retryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.promoteReadyRetries(ctx)
		}
	}
}

func (w *worker) promoteReadyRetries(ctx context.Context) {
	now := time.Now().Unix()
	items, err := w.redis.ZRangeByScore(ctx, w.cfg.RetryZSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		w.log.WithField("err", err).Warn("failed to read retry queue")
		return
	}

	for _, raw := range items {
		removed, err := w.redis.ZRem(ctx, w.cfg.RetryZSetKey, raw).Result()
		if err != nil || removed == 0 {
			continue // another worker already claimed it
		}
		if err := w.redis.LPush(ctx, w.cfg.QueueKey, raw).Err(); err != nil {
			w.log.WithField("err", err).Warn("failed to re-enqueue retry job")
			w.redis.ZAdd(ctx, w.cfg.RetryZSetKey, redis.Z{Score: float64(now), Member: raw})
		}
	}
}

func domainOf(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 {
		return ""
	}
	return strings.ToLower(email[i+1:])
}

