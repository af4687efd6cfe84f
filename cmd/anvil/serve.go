package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/server"
	"github.com/jbweber/anvil/internal/vm"
)

const shutdownTimeout = 30 * time.Second

// inventory reads machines through a libvirt connection.
type inventory struct {
	lv  *golibvirt.Libvirt
	log logr.Logger
}

func (i inventory) List(ctx context.Context) ([]vm.MachineInfo, error) {
	return vm.List(ctx, i.lv, i.log)
}

func (i inventory) Get(ctx context.Context, name string) (*v1alpha1.VirtualMachine, error) {
	return vm.Get(ctx, i.lv, name)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the provisioning HTTP API",
	Long: `Serve the provisioning API on ANVIL_LISTEN_ADDR.

  POST /v1/machines        provision a machine (JSON, or YAML with a yaml content type)
  GET  /v1/machines        list domains
  GET  /v1/machines/:name  read back a managed machine
  GET  /healthz            libvirt connection check
  GET  /metrics            Prometheus metrics

Concurrent requests for the same machine name are rejected with 409 while
one is in flight.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if settings.LogLevel != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		c, err := connect(ctx, true)
		if err != nil {
			return err
		}
		defer c.close()

		srv := server.New(c.provisioner,
			inventory{lv: c.client.Libvirt(), log: logger},
			c.client, c.metrics, logger.WithName("server"))

		httpServer := &http.Server{
			Addr:              settings.ListenAddr,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("serving provisioning API", "addr", settings.ListenAddr)
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		return nil
	},
}
