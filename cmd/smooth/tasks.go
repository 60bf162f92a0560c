package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"

	smooth "github.com/circlemind-ai/smooth-sdk"
	"github.com/circlemind-ai/smooth-sdk/internal/history"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "submit a task and wait for its result",
		ArgsUsage: "<task>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "starting URL"},
			&cli.IntFlag{Name: "max-steps", Usage: "maximum agent steps"},
			&cli.StringFlag{Name: "device", Usage: "device type (desktop|mobile)"},
			&cli.StringFlag{Name: "profile", Usage: "browser profile id"},
			&cli.BoolFlag{Name: "stealth", Usage: "run the browser in stealth mode"},
			&cli.BoolFlag{Name: "no-recording", Usage: "disable video recording"},
			&cli.StringFlag{Name: "schema", Usage: "JSON schema for the output (inline or @file)"},
			&cli.StringFlag{Name: "metadata", Usage: "JSON metadata passed to the agent"},
			&cli.StringSliceFlag{Name: "file", Usage: "uploaded file id to attach (repeatable)"},
			&cli.DurationFlag{Name: "timeout", Usage: "how long to wait for the result (0 waits forever)"},
			&cli.BoolFlag{Name: "no-wait", Usage: "print the task id and exit without waiting"},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return fmt.Errorf("expected exactly one task argument")
			}
			e, err := newEnv(ctx, true)
			if err != nil {
				return err
			}
			defer e.close()

			req := smooth.TaskRequest{
				Task:             ctx.Args().First(),
				URL:              ctx.String("url"),
				MaxSteps:         ctx.Int("max-steps"),
				Device:           smooth.Device(ctx.String("device")),
				ProfileID:        ctx.String("profile"),
				StealthMode:      ctx.Bool("stealth"),
				DisableRecording: ctx.Bool("no-recording"),
				Files:            ctx.StringSlice("file"),
			}
			if v := ctx.String("schema"); v != "" {
				schema, err := parseJSONArg(v)
				if err != nil {
					return fmt.Errorf("parse --schema: %w", err)
				}
				req.ResponseSchema = schema
			}
			if v := ctx.String("metadata"); v != "" {
				meta, err := parseJSONArg(v)
				if err != nil {
					return fmt.Errorf("parse --metadata: %w", err)
				}
				req.Metadata = meta
			}

			handle, err := e.client.Run(ctx.Context, req)
			if err != nil {
				return err
			}
			e.recordRun(ctx.Context, handle.ID(), history.KindTask, req.Task, req.URL)

			if ctx.Bool("no-wait") {
				return printResult(ctx, map[string]string{"id": handle.ID()}, func() {
					fmt.Println(handle.ID())
				})
			}

			resp, err := handle.Result(ctx.Context, ctx.Duration("timeout"))
			if err != nil {
				return err
			}
			e.backfill(ctx.Context, resp)
			return printResult(ctx, resp, func() {
				fmt.Printf("status: %s\n", resp.Status)
				if resp.Error != "" {
					fmt.Printf("error: %s\n", resp.Error)
				}
				if resp.Output != nil {
					out, _ := json.MarshalIndent(resp.Output, "", "  ")
					fmt.Println(string(out))
				}
			})
		},
	}
}

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "open an interactive browser session and print its live URL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "starting URL"},
			&cli.StringFlag{Name: "device", Usage: "device type (desktop|mobile)"},
			&cli.StringFlag{Name: "profile", Usage: "browser profile id"},
			&cli.BoolFlag{Name: "interactive", Value: true, Usage: "allow controlling the browser from the live view"},
			&cli.BoolFlag{Name: "self-proxy", Usage: "route browser traffic through this machine"},
		},
		Action: func(ctx *cli.Context) error {
			e, err := newEnv(ctx, true)
			if err != nil {
				return err
			}
			defer e.close()

			req := smooth.SessionRequest{
				URL:       ctx.String("url"),
				Device:    smooth.Device(ctx.String("device")),
				ProfileID: ctx.String("profile"),
			}
			if ctx.Bool("self-proxy") {
				req.ProxyServer = "self"
			}

			session, err := e.client.Session(ctx.Context, req)
			if err != nil {
				return err
			}
			e.recordRun(ctx.Context, session.ID(), history.KindSession, "", req.URL)

			return session.Use(ctx.Context, func(useCtx context.Context, s *smooth.SessionHandle) error {
				liveURL, err := s.LiveURL(useCtx, smooth.LiveURLOptions{
					Interactive: ctx.Bool("interactive"),
					Timeout:     30 * time.Second,
				})
				if err != nil {
					return err
				}
				fmt.Printf("session %s\nlive view: %s\npress ctrl-c to close\n", s.ID(), liveURL)

				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt)
				defer signal.Stop(sig)
				select {
				case <-sig:
					return nil
				case <-useCtx.Done():
					return useCtx.Err()
				}
			})
		},
	}
}

func tasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "inspect previously submitted tasks",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list recent tasks from the local history",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum entries to show"},
					&cli.BoolFlag{Name: "refresh", Usage: "refresh non-terminal statuses from the service"},
				},
				Action: func(ctx *cli.Context) error {
					e, err := newEnv(ctx, true)
					if err != nil {
						return err
					}
					defer e.close()
					if e.runs == nil {
						return fmt.Errorf("task history is unavailable")
					}

					runs, err := e.runs.ListRuns(ctx.Context, ctx.Int("limit"))
					if err != nil {
						return err
					}
					if ctx.Bool("refresh") {
						for i, run := range runs {
							if smooth.Status(run.Status).Terminal() {
								continue
							}
							resp, err := e.client.Task(ctx.Context, run.ID)
							if err != nil {
								continue
							}
							e.backfill(ctx.Context, resp)
							runs[i].Status = string(resp.Status)
						}
					}
					return printResult(ctx, runs, func() {
						for _, run := range runs {
							fmt.Printf("%s  %-8s %-9s %s\n", run.CreatedAt.Local().Format(time.DateTime), run.Kind, run.Status, run.Prompt)
						}
					})
				},
			},
			{
				Name:      "show",
				Usage:     "show one task, refreshed from the service",
				ArgsUsage: "<task-id>",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 1 {
						return fmt.Errorf("expected exactly one task id")
					}
					e, err := newEnv(ctx, true)
					if err != nil {
						return err
					}
					defer e.close()

					resp, err := e.client.Task(ctx.Context, ctx.Args().First())
					if err != nil {
						return err
					}
					e.backfill(ctx.Context, resp)
					return printResult(ctx, resp, func() {
						fmt.Printf("id: %s\nstatus: %s\n", resp.ID, resp.Status)
						if resp.Error != "" {
							fmt.Printf("error: %s\n", resp.Error)
						}
						if resp.Output != nil {
							out, _ := json.MarshalIndent(resp.Output, "", "  ")
							fmt.Println(string(out))
						}
					})
				},
			},
		},
	}
}

func (e *env) recordRun(ctx context.Context, id, kind, prompt, url string) {
	if e.runs == nil {
		return
	}
	if _, err := e.runs.RecordRun(ctx, id, kind, prompt, url, string(smooth.StatusWaiting)); err != nil {
		fmt.Fprintf(os.Stderr, "smooth: record task history: %v\n", err)
	}
}

func (e *env) backfill(ctx context.Context, resp *smooth.TaskResponse) {
	if e.runs == nil || resp == nil {
		return
	}
	_ = e.runs.UpdateStatus(ctx, resp.ID, string(resp.Status), resp.Output, resp.Error)
}

// parseJSONArg accepts inline JSON or @path to a JSON file.
func parseJSONArg(arg string) (map[string]any, error) {
	data := []byte(arg)
	if len(arg) > 1 && arg[0] == '@' {
		var err error
		data, err = os.ReadFile(arg[1:])
		if err != nil {
			return nil, err
		}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
