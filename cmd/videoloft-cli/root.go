package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

// app holds the state shared by every subcommand
type app struct {
	cfgFile    string
	jsonOutput bool
	timeout    time.Duration

	cfg    *config.Config
	log    *logger.Logger
	client *videoloft.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "videoloft-cli",
		Short:         "Inspect a Videoloft account using the bridge configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config/config.yaml)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output results as JSON")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "overall request timeout")

	root.AddCommand(
		newCamerasCmd(a),
		newThumbnailCmd(a),
		newEventsCmd(a),
		newQuotaCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.LoadWithEnv(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	// keep stdout clean for command output
	log, err := logger.New(logger.LogConfig{
		Level:  "warn",
		Format: "text",
		Output: "stderr",
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.log = log
	return nil
}

// vendor authenticates lazily so quota inspection works offline
func (a *app) vendor(ctx context.Context) (*videoloft.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	tokens := videoloft.NewTokenManager(a.cfg.Videoloft, a.log)
	if err := tokens.Authenticate(ctx); err != nil {
		tokens.Close()
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	a.client = videoloft.NewClient(a.cfg.Videoloft, tokens, a.log)
	return a.client, nil
}

func (a *app) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

func (a *app) close() {
	if a.client != nil {
		a.client.Tokens().Close()
	}
	if a.log != nil {
		a.log.Sync()
	}
}

// camera resolves uidd against the account's device tree
func (a *app) camera(ctx context.Context, client *videoloft.Client, uidd string) (videoloft.CameraDevice, error) {
	devices, err := client.FetchDevices(ctx)
	if err != nil {
		return videoloft.CameraDevice{}, fmt.Errorf("failed to fetch devices: %w", err)
	}
	for _, d := range devices {
		if d.UIDD == uidd {
			return d, nil
		}
	}
	return videoloft.CameraDevice{}, fmt.Errorf("camera %s not found", uidd)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
