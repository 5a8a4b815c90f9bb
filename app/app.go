package chatfilm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/samber/lo"

	"chatfilm/core"
)

// App wires the relay together: configuration, logging, the websocket
// connection manager, the event router with the relay handlers, and the
// HTTP server hosting the /ws endpoint.
type App struct {
	config      *Config
	context     context.Context
	server      *http.Server
	logger      *slog.Logger
	router      chi.Router
	eventRouter *core.EventRouter
	wsManager   *core.ConnManager

	roles        core.RolePair
	roster       *core.Roster
	messageStore *core.MessageStore

	exit chan int

	cleanupFuncs []func(context.Context)

	wg sync.WaitGroup
}

func New(ctx context.Context, config *Config) *App {
	app := &App{
		exit: make(chan int),
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	roles, err := core.NewRolePair(app.config.Roles[0], app.config.Roles[1])
	if err != nil {
		failed(1, "invalid roles: %v\n", err)
	}
	app.roles = roles
	app.roster = core.NewRoster()
	app.messageStore = core.NewMessageStore()

	app.wsManager = core.NewConnManager(app.context, &app.wg, app.logger,
		core.WithCheckOrigin(originChecker(app.config.AllowedOrigins)))
	app.wsManager.OnConnectionClosed(app.onConnectionClosed)
	app.AddCleanupFunc(func(ctx context.Context) {
		app.wsManager.Close()
	})

	app.eventRouter = core.NewEventRouter(app.context, app.logger, app.wsManager)
	app.eventRouter.On(JoinEvent, app.JoinHandler)
	app.eventRouter.On(SendMessageEvent, app.SendMessageHandler)
	app.eventRouter.On(TypingEvent, app.TypingHandler)
	app.eventRouter.On(StopTypingEvent, app.StopTypingHandler)
	app.eventRouter.On(MarkAsSeenEvent, app.MarkAsSeenHandler)
	app.eventRouter.On(DeleteMessageEvent, app.DeleteMessageHandler)

	app.router = chi.NewRouter()

	app.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	// health banner, same surface on both paths
	running := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chat relay is running"))
	}
	app.router.Get("/", running)
	app.router.Get("/api", running)

	app.router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if _, err := app.wsManager.Connect(w, r); err != nil {
			app.logger.Error(fmt.Sprintf("upgrade: %v", err))
		}
	})

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}

	return app
}

// Handler exposes the HTTP surface, mainly for tests.
func (app *App) Handler() http.Handler {
	return app.router
}

func (app *App) Start() {
	app.eventRouter.Listen(&app.wg)

	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		var wg sync.WaitGroup

		for _, f := range app.cleanupFuncs {
			wg.Add(1)
			func(wg *sync.WaitGroup) {
				defer wg.Done()
				f(closeCtx)
			}(&wg)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
			app.exit <- 0
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
		}
	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})

	app.logger.Info(fmt.Sprintf("relay running on %s:%d for roles %v",
		app.config.Hostname, app.config.Port, app.config.Roles))

	err := app.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	os.Exit(code)
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

// originChecker gates the websocket handshake with the configured origin
// allow-list. No-origin callers (curl, native apps) are always allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(allowed) == 0 || lo.Contains(allowed, "*") {
			return true
		}
		return lo.Contains(allowed, origin)
	}
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
