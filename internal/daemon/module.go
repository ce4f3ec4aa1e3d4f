package daemon

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/operchat/echat/internal/api"
	"github.com/operchat/echat/internal/bus"
	"github.com/operchat/echat/internal/config"
	"github.com/operchat/echat/internal/localstore"
	"github.com/operchat/echat/internal/lock"
	"github.com/operchat/echat/internal/logging"
	"github.com/operchat/echat/internal/outbox"
	"github.com/operchat/echat/internal/profile"
	"github.com/operchat/echat/internal/push"
	"github.com/operchat/echat/internal/realtime"
	"github.com/operchat/echat/internal/repo"
	intsync "github.com/operchat/echat/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	ListenAddr  string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideLocalStore,
			provideDraftWriter,
			provideAPIClient,
			provideBackend,
			provideRepo,
			provideStateMachine,
			provideRealtimeClient,
			provideFetcher,
			provideRouter,
			provideSender,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", profile.ConfigPath(), err)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideLocalStore(p Params, logger *zap.Logger) (*localstore.DB, error) {
	dbPath := profile.LocalDBPath(p.ProfileName)
	db, err := localstore.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("local store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideDraftWriter(db *localstore.DB) *localstore.DraftWriter {
	return localstore.NewDraftWriter(db)
}

func provideAPIClient(cfg *config.Config, logger *zap.Logger) *api.Client {
	return api.New(cfg.API.BaseURL, cfg.API.Token, logger)
}

func provideBackend(c *api.Client) intsync.Backend {
	return intsync.NewBackend(c)
}

func provideRepo(b *bus.Bus) *repo.Repo {
	return repo.New(b)
}

func provideStateMachine(b *bus.Bus) *realtime.Machine {
	return realtime.NewMachine(b)
}

func provideRealtimeClient(cfg *config.Config, machine *realtime.Machine, logger *zap.Logger) *realtime.Client {
	return realtime.NewClient(cfg.Realtime.URL, machine, logger)
}

func provideFetcher(be intsync.Backend, r *repo.Repo, b *bus.Bus, logger *zap.Logger) *intsync.Fetcher {
	return intsync.NewFetcher(be, r, b, logger)
}

func provideRouter(be intsync.Backend, r *repo.Repo, b *bus.Bus, logger *zap.Logger) *intsync.Router {
	return intsync.NewRouter(be, r, b, logger)
}

func provideSender(c *api.Client, r *repo.Repo, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(c, r, b, logger)
}

func provideServer(p Params, cfg *config.Config, logger *zap.Logger, r *repo.Repo, f *intsync.Fetcher, rt *intsync.Router, s *outbox.Sender, b *bus.Bus, m *realtime.Machine, drafts *localstore.DraftWriter, db *localstore.DB) *Server {
	addr := p.ListenAddr
	if addr == "" {
		addr = cfg.Daemon.Listen
	}
	return NewServer(addr, logger, r, f, rt, s, b, m, drafts, db)
}

func registerLifecycle(lc fx.Lifecycle, p Params, cfg *config.Config, srv *Server, lk *lock.Lock, rtc *realtime.Client, router *intsync.Router, fetcher *intsync.Fetcher, r *repo.Repo, db *localstore.DB, drafts *localstore.DraftWriter, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Route realtime new-message events through the reconciler.
			// Parse failures are logged and dropped; the subscription
			// must outlive any bad payload.
			rtc.Bind(cfg.Realtime.Channel, "new-message", func(data []byte) {
				n, err := push.Parse(data)
				if err != nil {
					logger.Warn("dropping unparseable notification", zap.Error(err))
					return
				}
				sel, _ := n.Target()
				msgID, _ := n.MessageID()
				router.HandleNewMessage(runCtx, sel, msgID)
			})
			rtc.Subscribe(runCtx, cfg.Realtime.Channel)

			go func() {
				if err := rtc.Run(runCtx); err != nil && runCtx.Err() == nil {
					logger.Error("realtime client stopped", zap.Error(err))
				}
			}()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			// Restore local state and warm the lists in the background.
			go func() {
				if stored, err := db.Drafts(); err == nil {
					for sel, body := range stored {
						r.SetDraft(sel.Entity, sel.ID, body)
					}
				} else {
					logger.Warn("draft restore failed", zap.Error(err))
				}

				userID, err := db.GetIntSetting(localstore.SettingAssignedUserID)
				if err != nil {
					logger.Warn("settings read failed", zap.Error(err))
				}
				if userID == 0 {
					userID = cfg.API.AssignedUserID
				}
				if userID > 0 {
					_ = fetcher.SetAssignedUser(runCtx, userID)
					return
				}
				for _, entity := range repo.Entities {
					if err := fetcher.FetchList(runCtx, entity); err != nil {
						logger.Warn("initial fetch failed", zap.Stringer("entity", entity), zap.Error(err))
					}
				}
			}()

			logger.Info("daemon started", zap.String("profile", p.ProfileName))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			_ = srv.Stop(ctx)
			if err := drafts.Close(); err != nil {
				logger.Warn("draft flush failed", zap.Error(err))
			}
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
