package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/AlibekAbdunasimov/remindo/internal/config"
	"github.com/AlibekAbdunasimov/remindo/internal/delivery"
	"github.com/AlibekAbdunasimov/remindo/internal/dispatch"
	"github.com/AlibekAbdunasimov/remindo/internal/engine"
	"github.com/AlibekAbdunasimov/remindo/internal/jobs"
	"github.com/AlibekAbdunasimov/remindo/internal/store"
	"github.com/AlibekAbdunasimov/remindo/internal/telegram"
	"github.com/AlibekAbdunasimov/remindo/internal/tz"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	bot     *tgbotapi.BotAPI
	httpSrv *http.Server

	repo   *store.SQLiteRepo
	engine *engine.Engine
	sched  *jobs.Scheduler
	router *telegram.Router
	queue  *dispatch.Queue
	worker *delivery.Worker
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, httpSrv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting remindo",
		zap.String("http", a.cfg.HTTPAddr),
		zap.String("db", a.cfg.DBPath),
	)

	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready")

	resolver := tz.New(repo, a.log, a.cfg.DefaultUserTZ, a.cfg.DefaultChatTZ)
	if err := resolver.Warm(ctx); err != nil {
		a.log.Error("warm timezone cache failed", zap.Error(err))
		return err
	}

	// The scheduler fires on its own goroutine; delivery work is handed to the
	// primary loop through the dispatch queue so all repo mutation stays there.
	a.queue = dispatch.New(64)
	jobStore := jobs.NewSQLiteStore(repo.DB())
	a.sched = jobs.New(jobStore, a.log, func(_ context.Context, p jobs.Payload) {
		a.queue.Submit(func(ctx context.Context) {
			a.worker.Deliver(ctx, p)
		})
	}, a.cfg.PollInterval)

	a.engine = engine.New(repo, a.sched, a.log)
	a.router = telegram.NewRouter(a.bot, a.log, a.engine, repo, resolver)
	a.worker = delivery.NewWorker(a.router, repo, a.log, a.cfg.MaxRetries, a.cfg.RetryBase)

	// Repair job state before the poll loop starts firing anything.
	if _, err := a.engine.ReconcilePending(ctx); err != nil {
		a.log.Error("reconciliation failed", zap.Error(err))
		return err
	}

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.sched.Run(ctx)

	poller := telegram.NewPoller(a.bot, a.log)
	updCh := poller.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")

			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.httpSrv.Shutdown(shCtx)
			cancel()

			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}
			if a.repo != nil {
				_ = a.repo.Close()
			}
			return nil

		case upd, ok := <-updCh:
			if !ok {
				// Poller exited; a nil channel keeps this case from spinning.
				updCh = nil
				continue
			}
			a.router.HandleUpdate(ctx, upd)

		case work := <-a.queue.C():
			work(ctx)
		}
	}
}
