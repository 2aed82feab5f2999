// Package app — сборка бота: конфигурация, хранилище, сервисы домена, MTProto-клиент
// и диспетчер апдейтов. Запуск и остановка служб живут в runner.go.
package app

import (
	"context"
	"sync"

	"telegram-smsbot/internal/adapters/provider"
	"telegram-smsbot/internal/adapters/provider/httpapi"
	"telegram-smsbot/internal/adapters/telegram/botchat"
	"telegram-smsbot/internal/domain/bot"
	"telegram-smsbot/internal/domain/commands"
	"telegram-smsbot/internal/domain/requests"
	"telegram-smsbot/internal/domain/users"
	"telegram-smsbot/internal/infra/concurrency"
	"telegram-smsbot/internal/infra/config"
	"telegram-smsbot/internal/infra/logger"
	"telegram-smsbot/internal/infra/storage/boltstore"
	"telegram-smsbot/internal/infra/telegram/connection"
	"telegram-smsbot/internal/infra/telegram/peersmgr"
	"telegram-smsbot/internal/infra/telegram/session"
	"telegram-smsbot/internal/infra/throttle"
	"telegram-smsbot/internal/support/version"

	"github.com/go-faster/errors"
	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// lazyUpdateHandler откладывает установку реального обработчика апдейтов:
// клиенту он нужен в опциях, а менеджеру апдейтов нужен уже созданный клиент.
type lazyUpdateHandler struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

func (h *lazyUpdateHandler) set(realHandler telegram.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = realHandler
}

// namedThrottler — троттлер запросов к одному серверу сервиса номеров.
type namedThrottler struct {
	server string
	*throttle.Throttler
}

// services — часть приложения, не зависящая от Telegram.
type services struct {
	users      *users.Service
	sms        *requests.SMSRegistry
	numbers    *requests.NumberRegistry
	dedup      *concurrency.Deduplicator
	providers  *provider.Registry
	throttlers []namedThrottler
	executor   *commands.CommandExecutor
}

// buildServices собирает доменные сервисы поверх store.
func buildServices(cfg *config.Config, store *boltstore.Store) (*services, error) {
	env := cfg.Env()
	s := &services{
		users: users.NewService(store, users.Options{
			Admins:       env.AdminUIDs,
			StartBalance: env.StartBalance,
		}),
		sms:       requests.NewSMSRegistry(requests.NewMemoryStore[requests.SMSKey, requests.SMSRequest](), cfg.RequestTTL(), nil),
		numbers:   requests.NewNumberRegistry(requests.NewMemoryStore[requests.NumberKey, requests.NumberRequest](), nil),
		dedup:     concurrency.NewDeduplicator(cfg.DedupWindow(), nil),
		providers: provider.NewRegistry(),
	}

	for _, srv := range env.Servers {
		th := throttle.New(env.ProviderRPS,
			throttle.WithMaxRetries(1),
			throttle.WithWaitExtractors(httpapi.RetryAfterExtractor()),
		)
		client, err := httpapi.New(httpapi.Options{
			Name:      srv.Name,
			BaseURL:   srv.BaseURL,
			Cookies:   store,
			Throttler: th,
			Timeout:   cfg.ProviderTimeout(),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "init server %s", srv.Name)
		}
		s.providers.Add(client)
		s.throttlers = append(s.throttlers, namedThrottler{server: srv.Name, Throttler: th})
	}
	if len(s.providers.Names()) == 0 {
		return nil, errors.New("no servers configured (PROVIDERS)")
	}

	s.executor = commands.NewExecutor(commands.Deps{
		Users:     s.users,
		Cookies:   store,
		Providers: s.providers,
		SMS:       s.sms,
		Numbers:   s.numbers,
	})
	return s, nil
}

// App агрегирует зависимости бота и передаёт их Runner.
type App struct {
	cfg        *config.Config
	mainCtx    context.Context
	mainCancel context.CancelFunc
}

// NewApp создаёт каркас приложения. Вся сборка выполняется в Run.
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc, cfg *config.Config) *App {
	return &App{cfg: cfg, mainCtx: mainCtx, mainCancel: mainCancel}
}

// Run собирает приложение и блокируется до его остановки.
// Штатная остановка по сигналу ошибкой не считается.
func (a *App) Run() error {
	logger.Info("SMS bot initializing...", zap.String("version", version.Version))
	env := a.cfg.Env()

	store, err := boltstore.Open(env.DBFile)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("close store", zap.Error(closeErr))
		}
	}()

	svc, err := buildServices(a.cfg, store)
	if err != nil {
		return err
	}

	dispatcher := tg.NewUpdateDispatcher()
	lazyHandler := &lazyUpdateHandler{}
	waiter := floodwait.NewWaiter()

	var monitor *connection.Monitor
	options := telegram.Options{
		SessionStorage: &session.FileStorage{
			Path: env.SessionFile,
			OnStored: func() {
				if monitor != nil {
					monitor.MarkConnected()
				}
			},
		},
		UpdateHandler:  lazyHandler,
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(rate.Limit(env.ThrottleRPS), env.ThrottleRPS*2), //nolint:mnd // burst = 2*rate
		},
		OnDead: func() {
			if monitor != nil {
				monitor.MarkDisconnected()
			}
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   version.Name,
			SystemVersion: "linux",
			AppVersion:    version.Version,
		},
	}
	if env.TestDC {
		options.DCList = dcs.Test()
	}
	client := telegram.NewClient(env.APIID, env.APIHash, options)

	monitor = connection.New(func(ctx context.Context) error {
		_, pingErr := client.API().UpdatesGetState(ctx)
		return pingErr
	}, connection.Options{})

	peersSvc, err := peersmgr.New(client.API(), store.DB())
	if err != nil {
		return errors.Wrap(err, "init peers manager")
	}
	if n, loadErr := peersSvc.LoadFromStorage(a.mainCtx); loadErr != nil {
		logger.Warn("load peers storage", zap.Error(loadErr))
	} else {
		logger.Debug("peers loaded", zap.Int("count", n))
	}

	updMgr := tgupdates.New(tgupdates.Config{
		Handler:      dispatcher,
		Storage:      boltstor.NewStateStorage(store.DB()),
		AccessHasher: peersSvc.Mgr,
	})
	lazyHandler.set(contribstorage.UpdateHook(peersSvc.Mgr.UpdateHook(updMgr), peersSvc.Store()))

	chat := botchat.New(client.API(), peersSvc, monitor)
	handler := bot.New(bot.Deps{
		Chat:      chat,
		Users:     svc.users,
		Admin:     svc.executor,
		Providers: svc.providers,
		SMS:       svc.sms,
		Numbers:   svc.numbers,
		History:   store,
		Dedup:     svc.dedup,
		CheckCost: env.SMSCheckCost,
		PageSize:  env.PageSize,
		Location:  a.cfg.Location(),
	})
	chat.Register(dispatcher, handler)

	runner := NewRunner(RunnerDeps{
		MainCtx:    a.mainCtx,
		MainCancel: a.mainCancel,
		Config:     a.cfg,
		Client:     client,
		Waiter:     waiter,
		Updates:    updMgr,
		Monitor:    monitor,
		Chat:       chat,
		Services:   svc,
	})
	if err := runner.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
