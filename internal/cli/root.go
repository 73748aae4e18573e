package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ytget/media-dispatch/internal/config"
	"github.com/ytget/media-dispatch/internal/config/kv"
	"github.com/ytget/media-dispatch/internal/dispatch"
	"github.com/ytget/media-dispatch/internal/download"
	"github.com/ytget/media-dispatch/internal/platform"
	"github.com/ytget/media-dispatch/internal/resolver"
)

// AppName is the binary name
const AppName = "media-dispatch"

// NewRootCmd builds the command tree
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Resolve media items and hand them to a download backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.PersistentFlags().String("db", "", "settings database (default $"+config.EnvDBPath+" or the user config dir)")

	cmd.AddCommand(
		newServeCmd(),
		newResolveCmd(),
		newGetCmd(),
		newSignCmd(),
		newConfigCmd(),
		newVersionCmd(version),
	)
	return cmd
}

// Execute runs the root command
func Execute(version string) error {
	return NewRootCmd(version).Execute()
}

// app holds the collaborators shared by commands
type app struct {
	runtime    config.Runtime
	backend    *kv.Store
	store      *config.Store
	settings   *config.Settings
	resolver   *resolver.Resolver
	dispatcher *dispatch.Dispatcher
	queue      *download.Service
}

func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	rt := config.LoadRuntime()
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		rt.DBPath = dbPath
	}

	if err := platform.CreateDirectoryIfNotExists(filepath.Dir(rt.DBPath)); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	backend, err := kv.Open(kv.Options{Path: rt.DBPath})
	if err != nil {
		return nil, err
	}

	store, err := config.NewStore(ctx, backend, config.Defaults())
	if err != nil {
		backend.Close()
		return nil, err
	}
	settings := config.NewSettings(store)

	res := resolver.New(settings)
	disp := dispatch.New(settings)
	queue := download.NewService(res, disp)
	queue.SetJitterWindowFunc(settings.GetJitterWindow)

	return &app{
		runtime:    rt,
		backend:    backend,
		store:      store,
		settings:   settings,
		resolver:   res,
		dispatcher: disp,
		queue:      queue,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	if err := a.backend.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close settings database: %v\n", err)
	}
}
