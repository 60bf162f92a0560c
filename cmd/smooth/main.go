// Command smooth is the command-line interface to the Smooth
// browser-automation service.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	smooth "github.com/circlemind-ai/smooth-sdk"
	"github.com/circlemind-ai/smooth-sdk/internal/cliconfig"
	"github.com/circlemind-ai/smooth-sdk/internal/history"
)

func main() {
	if err := buildApp().Run(os.Args); err != nil {
		log.Fatalf("smooth: %v", err)
	}
}

func buildApp() *cli.App {
	return &cli.App{
		Name:    "smooth",
		Usage:   "run browser automation tasks",
		Version: smooth.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print results as JSON"},
		},
		Commands: []*cli.Command{
			runCommand(),
			sessionCommand(),
			tasksCommand(),
			profileCommand(),
			fileCommand(),
			extensionCommand(),
			proxyCommand(),
			configureCommand(),
		},
	}
}

// env carries everything a command needs: resolved config, API client,
// and the optional history store.
type env struct {
	cfg    cliconfig.Config
	client *smooth.Client
	runs   *history.Store

	closers []func()
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func newEnv(ctx *cli.Context, needHistory bool) (*env, error) {
	cfg, err := cliconfig.Load()
	if err != nil {
		return nil, err
	}
	if cfg.OutputJSON && !ctx.IsSet("json") {
		_ = ctx.Set("json", "true")
	}
	opts := []smooth.Option{smooth.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, smooth.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, smooth.WithAPIVersion(cfg.APIVersion))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, smooth.WithTimeout(cfg.Timeout))
	}
	if cfg.Retries > 0 {
		opts = append(opts, smooth.WithRetries(cfg.Retries))
	}
	client, err := smooth.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, client: client}
	e.closers = append(e.closers, client.Close)

	if needHistory {
		db, err := history.Open(cfg.HistoryPath)
		if err != nil {
			// History is best-effort; the command still works without it.
			log.Printf("smooth: open history db: %v", err)
		} else {
			e.runs = history.NewStore(db)
			e.closers = append(e.closers, func() { _ = db.Close() })
		}
	}
	return e, nil
}

func printResult(ctx *cli.Context, v any, plain func()) error {
	if ctx.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	plain()
	return nil
}

func configureCommand() *cli.Command {
	return &cli.Command{
		Name:  "configure",
		Usage: "write CLI configuration to ~/.smooth/config.toml",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api-key", Usage: "API key to store"},
			&cli.StringFlag{Name: "base-url", Usage: "API base URL"},
			&cli.IntFlag{Name: "timeout", Usage: "request timeout in seconds"},
			&cli.IntFlag{Name: "retries", Usage: "transport retry attempts"},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := cliconfig.Load()
			if err != nil {
				return err
			}
			if v := ctx.String("api-key"); v != "" {
				cfg.APIKey = v
			}
			if v := ctx.String("base-url"); v != "" {
				cfg.BaseURL = v
			}
			if v := ctx.Int("timeout"); v > 0 {
				cfg.Timeout = time.Duration(v) * time.Second
			}
			if v := ctx.Int("retries"); v > 0 {
				cfg.Retries = v
			}
			if err := cliconfig.Save(cfg); err != nil {
				return err
			}
			fmt.Println("configuration saved")
			return nil
		},
	}
}
