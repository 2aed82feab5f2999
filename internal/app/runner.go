// Файл runner.go — запуск бота: логин по токену, старт служб через lifecycle.Manager,
// менеджер апдейтов и graceful shutdown. Службы гасятся до отмены контекста MTProto,
// чтобы обработчики успели отправить ответы.
package app

import (
	"context"
	"sync"

	"telegram-smsbot/internal/adapters/cli"
	"telegram-smsbot/internal/adapters/telegram/botchat"
	"telegram-smsbot/internal/infra/config"
	"telegram-smsbot/internal/infra/lifecycle"
	"telegram-smsbot/internal/infra/logger"
	"telegram-smsbot/internal/infra/pr"
	"telegram-smsbot/internal/infra/telegram/connection"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Имена узлов lifecycle.
const (
	nodeDedup      = "deduplicator"
	nodeSweeper    = "sms_sweeper"
	nodeConnection = "connection_manager"
	nodeChat       = "bot_chat"
	nodeUpdates    = "updates_manager"
	nodeCLI        = "cli"
)

// RunnerDeps — всё, что Runner запускает и останавливает.
type RunnerDeps struct {
	MainCtx    context.Context
	MainCancel context.CancelFunc
	Config     *config.Config
	Client     *telegram.Client
	Waiter     *floodwait.Waiter
	Updates    *tgupdates.Manager
	Monitor    *connection.Monitor
	Chat       *botchat.Chat
	Services   *services
}

// Runner — сценарий запуска и остановки клиента и служб.
type Runner struct {
	deps RunnerDeps

	mu    sync.Mutex
	nodes *lifecycle.Manager
}

// NewRunner подготавливает Runner.
func NewRunner(d RunnerDeps) *Runner {
	return &Runner{deps: d}
}

// Run выполняет логин, запускает службы и блокируется до завершения.
// MTProto-движок живёт в отдельном контексте и гасится только после остановки служб.
func (r *Runner) Run() error {
	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()

	var shutdownWG sync.WaitGroup
	shutdownWG.Go(func() {
		<-r.deps.MainCtx.Done()
		logger.Debug("Shutdown signal received, stopping runner...")
		r.stopAllServices()
		clientCancel()
	})

	return r.deps.Waiter.Run(clientCtx, func(ctx context.Context) error {
		return r.deps.Client.Run(ctx, func(ctx context.Context) error {
			logger.Info("SMS bot running...")

			self, err := r.loginBot(ctx)
			if err != nil {
				r.deps.MainCancel()
				return err
			}
			if err := r.startAllServices(ctx, self.ID); err != nil {
				r.deps.MainCancel()
				return err
			}

			<-ctx.Done()
			shutdownWG.Wait()
			return ctx.Err()
		})
	})
}

// loginBot авторизует клиента токеном бота, если сессия ещё не авторизована.
func (r *Runner) loginBot(ctx context.Context) (*tg.User, error) {
	status, err := r.deps.Client.Auth().Status(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "auth status")
	}
	if !status.Authorized {
		if _, err := r.deps.Client.Auth().Bot(ctx, r.deps.Config.Env().BotToken); err != nil {
			return nil, errors.Wrap(err, "bot login")
		}
	}

	self, err := r.deps.Client.Self(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "self")
	}
	logger.Info("Logged in as:",
		zap.String("Username", self.Username),
		zap.Int64("ID", self.ID),
		zap.Bool("Bot", self.Bot),
	)
	return self, nil
}

func (r *Runner) startAllServices(ctx context.Context, selfID int64) error {
	nodes := lifecycle.New(ctx)
	for _, n := range r.buildNodes(selfID) {
		if err := nodes.Register(n); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.nodes = nodes
	r.mu.Unlock()

	return nodes.StartAll()
}

// buildNodes описывает службы в порядке запуска.
func (r *Runner) buildNodes(selfID int64) []lifecycle.Node {
	svc := r.deps.Services
	nodes := []lifecycle.Node{
		{
			Name:  nodeDedup,
			Start: func(ctx context.Context) error { svc.dedup.Start(ctx); return nil },
			Stop:  func() error { svc.dedup.Stop(); return nil },
		},
		{
			Name:  nodeSweeper,
			Start: func(ctx context.Context) error { svc.sms.Start(ctx); return nil },
			Stop:  func() error { svc.sms.Stop(); return nil },
		},
	}

	throttleNames := make([]string, 0, len(svc.throttlers))
	for _, th := range svc.throttlers {
		name := "throttle_" + th.server
		throttleNames = append(throttleNames, name)
		nodes = append(nodes, lifecycle.Node{
			Name:  name,
			Start: func(ctx context.Context) error { th.Start(ctx); return nil },
			Stop:  func() error { th.Stop(); return nil },
		})
	}

	nodes = append(nodes,
		lifecycle.Node{
			Name:  nodeConnection,
			Start: func(ctx context.Context) error { r.deps.Monitor.Start(ctx); return nil },
			Stop:  func() error { r.deps.Monitor.Stop(); return nil },
		},
		lifecycle.Node{
			Name: nodeChat,
			Deps: append([]string{nodeDedup, nodeSweeper, nodeConnection}, throttleNames...),
			Start: func(ctx context.Context) error {
				r.deps.Chat.Start(ctx)
				return nil
			},
			Stop: func() error { r.deps.Chat.Stop(); return nil },
		},
		r.updatesNode(selfID),
	)

	if pr.Rl() != nil {
		console := cli.NewService(svc.executor, r.deps.MainCancel, r.deps.Config.Location())
		nodes = append(nodes, lifecycle.Node{
			Name:  nodeCLI,
			Start: func(ctx context.Context) error { console.Start(ctx); return nil },
			Stop:  func() error { console.Stop(); return nil },
		})
	}
	return nodes
}

// updatesNode запускает updates.Manager. Его аварийное завершение останавливает приложение.
func (r *Runner) updatesNode(selfID int64) lifecycle.Node {
	var wg sync.WaitGroup
	return lifecycle.Node{
		Name: nodeUpdates,
		Deps: []string{nodeChat},
		Start: func(ctx context.Context) error {
			wg.Go(func() {
				logger.Debug("updates_manager service: Run started")
				err := r.deps.Updates.Run(ctx, r.deps.Client.API(), selfID, tgupdates.AuthOptions{
					IsBot: true,
					OnStart: func(context.Context) {
						logger.Info("Updates manager started")
					},
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("updates manager stopped", zap.Error(err))
					r.deps.MainCancel()
				}
				logger.Debug("updates_manager service: Run finished", zap.Error(err))
			})
			return nil
		},
		Stop: func() error {
			wg.Wait()
			return nil
		},
	}
}

func (r *Runner) stopAllServices() {
	r.mu.Lock()
	nodes := r.nodes
	r.mu.Unlock()
	if nodes == nil {
		return
	}
	if err := nodes.Shutdown(); err != nil {
		logger.Error("services stopped with errors", zap.Error(err))
	}
}
