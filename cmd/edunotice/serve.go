package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/edunotice/pkg/config"
	"github.com/noah-isme/edunotice/pkg/database"
)

func newServeCommand() *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ops API and the run queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment("serve")
			if err != nil {
				return err
			}
			defer env.close()

			if env.cfg.Env == config.EnvProduction {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := env.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if autoMigrate {
				if err := database.MigrateUp(ctx, a.DB); err != nil {
					return err
				}
			}

			a.StartQueue(ctx)
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", env.cfg.Port),
				Handler:           a.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				env.log.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", env.cfg.Env))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			env.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "Apply pending migrations before serving")
	return cmd
}
