package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/circlemind-ai/smooth-sdk/internal/idgen"
	"github.com/circlemind-ai/smooth-sdk/internal/proxy"
)

func proxyCommand() *cli.Command {
	return &cli.Command{
		Name:  "proxy",
		Usage: "manage the local FRP proxy tunnel",
		Subcommands: []*cli.Command{
			{
				Name:  "start",
				Usage: "start a tunnel to the given FRP server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Required: true, Usage: "FRP server address"},
					&cli.StringFlag{Name: "token", Usage: "tunnel auth token (generated when omitted)"},
					&cli.IntFlag{Name: "remote-port", Value: 1080, Usage: "remote port exposing the SOCKS5 proxy"},
				},
				Action: func(ctx *cli.Context) error {
					if state, err := proxy.LoadState(); err == nil && state.Alive() {
						return fmt.Errorf("a proxy tunnel is already running (pid %d); stop it first", state.PID)
					}

					token := ctx.String("token")
					if token == "" {
						token = idgen.Token(12)
					}
					tunnel := proxy.New(proxy.Config{
						ServerAddr: ctx.String("server"),
						Token:      token,
						RemotePort: ctx.Int("remote-port"),
						SessionID:  idgen.New(),
					})
					if err := tunnel.Start(ctx.Context); err != nil {
						return err
					}
					if err := proxy.SaveState(proxy.State{
						PID:        os.Getpid(),
						ServerAddr: ctx.String("server"),
						Password:   token,
						StartedAt:  time.Now().UTC(),
					}); err != nil {
						tunnel.Stop()
						return err
					}
					defer func() {
						tunnel.Stop()
						_ = proxy.ClearState()
					}()

					fmt.Printf("proxy tunnel running against %s (token %s)\npress ctrl-c to stop\n", ctx.String("server"), token)
					sig := make(chan os.Signal, 1)
					signal.Notify(sig, os.Interrupt)
					defer signal.Stop(sig)
					select {
					case <-sig:
					case <-ctx.Context.Done():
					}
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "report on the recorded tunnel",
				Action: func(ctx *cli.Context) error {
					state, err := proxy.LoadState()
					if err != nil {
						return err
					}
					if state == nil {
						fmt.Println("no proxy tunnel recorded")
						return nil
					}
					if state.Alive() {
						fmt.Printf("running (pid %d) against %s since %s\n", state.PID, state.ServerAddr, state.StartedAt.Local().Format(time.DateTime))
					} else {
						fmt.Printf("recorded tunnel (pid %d) is no longer running\n", state.PID)
					}
					return nil
				},
			},
			{
				Name:  "stop",
				Usage: "stop the recorded tunnel",
				Action: func(ctx *cli.Context) error {
					state, err := proxy.LoadState()
					if err != nil {
						return err
					}
					if state == nil || !state.Alive() {
						_ = proxy.ClearState()
						fmt.Println("no proxy tunnel running")
						return nil
					}
					p, err := os.FindProcess(state.PID)
					if err == nil {
						_ = p.Kill()
					}
					if err := proxy.ClearState(); err != nil {
						return err
					}
					fmt.Println("proxy tunnel stopped")
					return nil
				},
			},
		},
	}
}
