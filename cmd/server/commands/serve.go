package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"holodomination/internal/db"
	"holodomination/internal/logger"
	"holodomination/internal/middleware"
	"holodomination/internal/oauth"
	"holodomination/internal/router"
	"holodomination/internal/storage"
	"holodomination/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not run auto migration on startup")
}

func runServe() error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	gin.SetMode(cfg.Server.Mode)

	// Initialize Database
	if err := db.Init(cfg.Database); err != nil {
		return err
	}
	if !skipMigrate {
		if err := db.Migrate(db.DB); err != nil {
			return err
		}
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		return err
	}

	providers := oauth.FromConfig(cfg.OAuth, cfg.Server.SiteURL)
	if len(providers.Names()) == 0 {
		logger.Log.Warn("no oauth providers configured, sign-in is disabled")
	}

	r := router.New(cfg.Server, router.Deps{
		Providers: providers,
		Store:     store,
		Cache:     utils.GetCache(),
		Metrics:   middleware.NewMetrics(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("HololiveDomination server starting",
			zap.String("addr", srv.Addr), zap.Strings("providers", providers.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
