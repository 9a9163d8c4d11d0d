// Package engine owns every stage of the pipeline and the shared clients.
// It replaces ad-hoc singletons: main constructs one Engine, starts it,
// and shuts it down; tests construct a fresh Engine instead of resetting
// globals.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scanenginehq/scanengine/internal/blob/s3"
	"github.com/scanenginehq/scanengine/internal/bookclient"
	"github.com/scanenginehq/scanengine/internal/cache/redis"
	"github.com/scanenginehq/scanengine/internal/config"
	"github.com/scanenginehq/scanengine/internal/contract"
	"github.com/scanenginehq/scanengine/internal/crypto"
	"github.com/scanenginehq/scanengine/internal/dispatcher"
	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/feedclient"
	"github.com/scanenginehq/scanengine/internal/logsink"
	"github.com/scanenginehq/scanengine/internal/metrics"
	"github.com/scanenginehq/scanengine/internal/orderqueue"
	"github.com/scanenginehq/scanengine/internal/pipeline"
	"github.com/scanenginehq/scanengine/internal/store/postgres"
	"github.com/scanenginehq/scanengine/internal/stratcfg"
	"github.com/scanenginehq/scanengine/internal/strategy"
	"github.com/scanenginehq/scanengine/internal/transport"
)

// Engine is the composition root: every queue, client, and store hangs off
// it, and Start/Shutdown bound their lifecycles.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	fileSink *logsink.FileSink
	ringSink *logsink.RingBuffer

	pg          *postgres.Client
	redis       *redis.Client
	priceCache  *redis.PriceCache
	marketCache *redis.MarketCache
	s3          *s3blob.Client
	archiver    *s3blob.Archiver

	feed     *feedclient.Client
	book     *bookclient.Client
	contract domain.ContractClient

	cfgMgr     *stratcfg.Manager
	orderQueue *orderqueue.Queue
	registry   *strategy.Registry
	workers    map[string]*strategy.Worker
	mm         *strategy.MarketMaking
	dispatch   *dispatcher.Dispatcher

	scan    *pipeline.Scan
	storage *pipeline.Storage
	price   *pipeline.Price

	metrics *metrics.Metrics

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New wires the full engine from configuration. Absence of a private key
// leaves signing-dependent pieces disabled without failing construction;
// a missing database is fatal.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	e := &Engine{cfg: cfg, logger: logger, workers: make(map[string]*strategy.Worker)}
	e.metrics = metrics.New()

	// Request log sinks: rotating file plus the in-memory ring the control
	// surface reads.
	fileSink, err := logsink.NewFileSink("logs/api-requests.log")
	if err != nil {
		return nil, fmt.Errorf("engine: open request log: %w", err)
	}
	e.fileSink = fileSink
	e.ringSink = logsink.NewRingBuffer(1000)
	sink := logsink.MultiSink{fileSink, e.ringSink}

	// HTTP clients.
	e.feed = feedclient.New(transport.New("feed", e.transportConfig(cfg.Venue.GammaAPIURL), sink))

	var signer *crypto.Signer
	if cfg.Wallet.PrivateKey != "" {
		signer, err = crypto.NewSigner(cfg.Wallet.PrivateKey, cfg.Venue.PolygonChainID)
		if err != nil {
			return nil, fmt.Errorf("engine: wallet key: %w", err)
		}
	}
	e.book = bookclient.New(transport.New("book", e.transportConfig(cfg.Venue.ClobAPIURL), sink), signer, nil)

	// On-chain capability. Without an RPC endpoint, reads return zero and
	// writes fail with ErrSigningUnavailable; with an endpoint but no key,
	// reads work and writes fail with ErrSigningUnavailable.
	if cfg.Wallet.RPCURL != "" {
		chain, err := contract.New(contract.Config{
			RPCURL:        cfg.Wallet.RPCURL,
			PrivateKeyHex: cfg.Wallet.PrivateKey,
			ChainID:       cfg.Venue.PolygonChainID,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: contract client: %w", err)
		}
		e.contract = chain
	} else {
		e.contract = contract.Disabled{}
		logger.Warn("no rpc url configured, on-chain capability disabled")
	}

	// Stores.
	e.pg, err = postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: postgres: %w", err)
	}
	if err := e.pg.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("engine: migrations: %w", err)
	}
	marketStore := postgres.NewMarketStore(e.pg.Pool())
	snapshotStore := postgres.NewSnapshotStore(e.pg.Pool())
	priceStore := postgres.NewMarketPriceStore(e.pg.Pool())
	configStore := postgres.NewStrategyConfigStore(e.pg.Pool())

	// Optional accelerators.
	if cfg.Redis.Enabled {
		e.redis, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			logger.Warn("redis unavailable, cache disabled", slog.String("error", err.Error()))
			e.redis = nil
		}
	}
	if cfg.S3.Enabled {
		e.s3, err = s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			logger.Warn("s3 unavailable, archiver disabled", slog.String("error", err.Error()))
			e.s3 = nil
		} else {
			retention := time.Duration(cfg.S3.ArchiveRetentionDays) * 24 * time.Hour
			e.archiver = s3blob.NewArchiver(s3blob.NewWriter(e.s3), snapshotStore, priceStore, retention, logger)
		}
	}

	// Strategy configuration, orders, strategies, dispatcher.
	e.cfgMgr = stratcfg.New(cfg, configStore, logger)
	if err := e.cfgMgr.LoadPersisted(ctx); err != nil {
		logger.Warn("persisted strategy config not loaded", slog.String("error", err.Error()))
	}

	e.orderQueue = orderqueue.New(orderqueue.Config{
		DefaultMaxRetries: cfg.OrderQueue.DefaultMaxRetries,
		TaskTimeout:       cfg.OrderQueue.TaskTimeout.Duration,
		CompletedCapacity: cfg.OrderQueue.CompletedCapacity,
	}, bookPlacer{e.book}, e.contract, logger)

	mintSplit := strategy.NewMintSplit(e.cfgMgr, e.orderQueue, e.contract, logger)
	arbLong := strategy.NewArbitrageLong(e.cfgMgr, e.orderQueue, e.book, logger)

	// The market maker's requote reads go through the optional BBO cache;
	// the arbitrage slippage guard always reads the venue directly.
	mmVenue := cachedQuoteVenue{book: e.book}
	if e.redis != nil {
		e.priceCache = redis.NewPriceCache(e.redis)
		e.marketCache = redis.NewMarketCache(e.redis)
		mmVenue.cache = e.priceCache
	}
	e.mm = strategy.NewMarketMaking(e.cfgMgr, e.orderQueue, mmVenue, e.contract, logger)

	e.registry = strategy.NewRegistry()
	e.registry.Register(mintSplit)
	e.registry.Register(arbLong)
	e.registry.Register(e.mm)
	for _, s := range e.registry.All() {
		e.workers[s.Name()] = strategy.NewWorker(s, logger)
	}

	e.dispatch = dispatcher.New(dispatcher.Config{
		AutoDispatch:  cfg.Dispatcher.AutoDispatch,
		MinConfidence: domain.Confidence(cfg.Dispatcher.MinConfidence),
		CooldownMs:    cfg.Dispatcher.CooldownMs,
	}, e.registry, logger)
	for tag, worker := range e.workers {
		w := worker
		e.dispatch.RegisterHandler(tag, func(ctx context.Context, task dispatcher.Task) {
			e.metrics.Dispatched.WithLabelValues(task.BestMatch.Strategy).Inc()
			w.Submit(task.Market)
		})
	}

	// Pipeline stages.
	e.storage = pipeline.NewStorage(pipeline.StorageConfig{
		BatchSize:     cfg.Storage.BatchSize,
		FlushInterval: cfg.Storage.FlushInterval.Duration,
		MaxBufferSize: cfg.Storage.MaxBufferSize,
		Concurrency:   cfg.Storage.Concurrency,
		Timeout:       cfg.Storage.Timeout.Duration,
	}, marketStore, snapshotStore, logger)

	e.price = pipeline.NewPrice(pipeline.PriceConfig{
		BatchSize:     cfg.Price.BatchSize,
		TokenInterval: cfg.Price.TokenInterval.Duration,
		BatchInterval: cfg.Price.BatchInterval.Duration,
		ScanInterval:  cfg.Price.ScanInterval.Duration,
		ActiveOnly:    cfg.Price.ActiveOnly,
		MinLiquidity:  cfg.Price.MinLiquidity,
	}, marketStore, priceStore, e.book, logger)

	e.scan = pipeline.NewScan(pipeline.ScanConfig{
		Limit:        cfg.Scan.Limit,
		MaxPages:     cfg.Scan.MaxPages,
		ScanInterval: cfg.Scan.ScanInterval.Duration,
		Active:       cfg.Scan.Active,
		Order:        cfg.Scan.Order,
		Ascending:    cfg.Scan.Ascending,
	}, e.feed, e.onPage, e.waitForQueuesIdle, e.storage.HasBackpressure, logger)

	return e, nil
}

// transportConfig maps the shared HTTP client section onto one client's
// config.
func (e *Engine) transportConfig(baseURL string) transport.Config {
	h := e.cfg.HTTPClient
	retryOn := make(map[int]bool, len(h.RetryOn))
	for _, code := range h.RetryOn {
		retryOn[code] = true
	}
	proxy := e.cfg.Venue.SocksProxy
	if proxy == "" {
		proxy = e.cfg.Venue.HTTPSProxy
	}
	if proxy == "" {
		proxy = e.cfg.Venue.HTTPProxy
	}
	return transport.Config{
		BaseURL:     baseURL,
		Timeout:     h.Timeout.Duration,
		Proxy:       proxy,
		MaxRequests: h.MaxRequests,
		WindowMs:    h.WindowMs,
		Retry: transport.RetryConfig{
			MaxRetries:     h.MaxRetries,
			InitialDelayMs: h.InitialDelayMs,
			MaxDelayMs:     h.MaxDelayMs,
			RetryOn:        retryOn,
		},
		EnableLogging:      h.EnableLogging,
		MaxResponseLogSize: h.MaxResponseLogLen,
	}
}

// onPage is the scan stage's synchronous page hand-off: storage first, then
// classification.
func (e *Engine) onPage(ctx context.Context, page []domain.MarketData) {
	e.metrics.ScanPages.Inc()
	e.metrics.ScanMarkets.Add(float64(len(page)))
	e.storage.Add(ctx, page)
	if e.marketCache != nil {
		for _, md := range page {
			_ = e.marketCache.Set(ctx, md.Market)
		}
	}
	e.dispatch.Analyze(ctx, page)
	e.metrics.StorageBuffered.Set(float64(e.storage.Stats().Buffered))
}

// waitForQueuesIdle blocks until storage, every strategy worker, and the
// order queue are drained.
func (e *Engine) waitForQueuesIdle() {
	e.storage.WaitUntilIdle(context.Background())
	for _, w := range e.workers {
		w.WaitUntilIdle()
	}
	e.orderQueue.WaitUntilIdle()
	e.metrics.OrdersPending.Set(0)
}

// Start launches every long-lived loop and begins scanning.
func (e *Engine) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	e.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	e.group = g

	g.Go(func() error { return ignoreCancel(e.storage.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(e.orderQueue.Run(gctx)) })
	for _, w := range e.workers {
		worker := w
		g.Go(func() error { return ignoreCancel(worker.Run(gctx)) })
	}
	if e.cfg.MM.Enabled {
		g.Go(func() error { return ignoreCancel(e.mm.RunRefreshLoop(gctx)) })
	}
	if e.archiver != nil {
		g.Go(func() error { return ignoreCancel(e.archiver.RunLoop(gctx, 6*time.Hour)) })
	}

	if err := e.scan.Start(gctx); err != nil {
		return err
	}
	if err := e.price.Start(gctx); err != nil {
		return err
	}

	e.logger.Info("engine started")
	return nil
}

// Shutdown stops the producers first, then cancels every loop and waits
// for them to exit or for ctx to give up.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("engine shutting down")
	e.scan.Stop()
	e.price.Stop()

	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan error, 1)
	go func() {
		if e.group != nil {
			done <- e.group.Wait()
			return
		}
		done <- nil
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if e.pg != nil {
		e.pg.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.fileSink != nil {
		_ = e.fileSink.Close()
	}
	e.logger.Info("engine stopped")
	return err
}

func ignoreCancel(err error) error {
	if err == nil || err == context.Canceled {
		return nil
	}
	return err
}

// bookPlacer adapts the order-book client to the order queue's placer
// interface, submitting strategy orders as GTC.
type bookPlacer struct {
	book *bookclient.Client
}

func (p bookPlacer) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	return p.book.CreateOrder(ctx, order, bookclient.GTC, bookclient.OrderOptions{})
}

func (p bookPlacer) CancelOrder(ctx context.Context, orderID string) error {
	return p.book.CancelOrder(ctx, orderID)
}
