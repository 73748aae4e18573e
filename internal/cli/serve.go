package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ytget/media-dispatch/internal/api"
	"github.com/ytget/media-dispatch/internal/platform"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the queue and settings API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address (default $MEDIA_DISPATCH_ADDR or 127.0.0.1:7390)")
	cmd.Flags().Bool("open", false, "open the API health page in the browser once listening")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(background(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.runtime.Addr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}
	openBrowser := a.runtime.OpenBrowser
	if cmd.Flags().Changed("open") {
		openBrowser, _ = cmd.Flags().GetBool("open")
	}

	server := api.New(api.Deps{
		Queue:       a.queue,
		Resolver:    a.resolver,
		Settings:    a.settings,
		BaseContext: ctx,
	})
	defer server.Close()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		server.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return a.backend.Watch(gctx, a.runtime.WatchInterval)
	})

	g.Go(func() error {
		log.Printf("[Serve] Listening on http://%s (settings %s)", listener.Addr(), a.backend.Path())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if openBrowser {
		url := "http://" + listener.Addr().String() + "/healthz"
		if err := platform.OpenURL(url); err != nil {
			log.Printf("[Serve] Failed to open browser: %v", err)
		}
	}

	if a.store.InBootstrap() {
		log.Printf("[Serve] First run: settings changes are saved but not announced until acknowledged (POST /api/config/acknowledge)")
	}

	return g.Wait()
}
