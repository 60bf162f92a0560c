package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func profileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "manage browser profiles",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "create a profile (optionally with a custom id)",
				ArgsUsage: "[id]",
				Action: func(ctx *cli.Context) error {
					e, err := newEnv(ctx, false)
					if err != nil {
						return err
					}
					defer e.close()
					p, err := e.client.CreateProfile(ctx.Context, ctx.Args().First())
					if err != nil {
						return err
					}
					return printResult(ctx, p, func() { fmt.Println(p.ID) })
				},
			},
			{
				Name:  "list",
				Usage: "list profiles",
				Action: func(ctx *cli.Context) error {
					e, err := newEnv(ctx, false)
					if err != nil {
						return err
					}
					defer e.close()
					profiles, err := e.client.ListProfiles(ctx.Context)
					if err != nil {
						return err
					}
					return printResult(ctx, profiles, func() {
						for _, p := range profiles {
							fmt.Println(p.ID)
						}
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "delete a profile",
				ArgsUsage: "<id>",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 1 {
						return fmt.Errorf("expected exactly one profile id")
					}
					e, err := newEnv(ctx, false)
					if err != nil {
						return err
					}
					defer e.close()
					return e.client.DeleteProfile(ctx.Context, ctx.Args().First())
				},
			},
		},
	}
}

func fileCommand() *cli.Command {
	return &cli.Command{
		Name:  "file",
		Usage: "manage uploaded files",
		Subcommands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "upload one or more files",
				ArgsUsage: "<path>...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "purpose", Usage: "short description of what the files are for"},
				},
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() == 0 {
						return fmt.Errorf("expected at least one file path")
					}
					e, err := newEnv(ctx, false)
					if err != nil {
						return err
					}
					defer e.close()

					paths := ctx.Args().Slice()
					ids := make([]string, len(paths))
					g, gctx := errgroup.WithContext(ctx.Context)
					g.SetLimit(4)
					for i, path := range paths {
						i, path := i, path
						g.Go(func() error {
							f, err := os.Open(path)
							if err != nil {
								return err
							}
							defer f.Close()
							up, err := e.client.UploadFile(gctx, filepath.Base(path), f, ctx.String("purpose"))
							if err != nil {
								return fmt.Errorf("upload %s: %w", path, err)
							}
							ids[i] = up.ID
							return nil
						})
					}
					if err := g.Wait(); err != nil {
						return err
					}
					return printResult(ctx, ids, func() {
						for i, id := range ids {
							fmt.Printf("%s\t%s\n", id, paths[i])
						}
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "delete an uploaded file",
				ArgsUsage: "<id>",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 1 {
						return fmt.Errorf("expected exactly one file id")
					}
					e, err := newEnv(ctx, false)
					if err != nil {
						return err
					}
					defer e.close()
					return e.client.DeleteFile(ctx.Context, ctx.Args().First())
				},
			},
		},
	}
}

func extensionCommand() *cli.Command {
	return &cli.Command{
		Name:  "extension",
		Usage: "manage browser extensions",
		Subcommands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "upload a packed extension",
				ArgsUsage: "<path>",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 1 {
						return fmt.Errorf("expected exactly one extension path")
					}
					e, err := newEnv(ctx, false)
					if err != nil {
						return err
					}
					defer e.close()
					path := ctx.Args().First()
					f, err := os.Open(path)
					if err != nil {
						return err
					}
					defer f.Close()
					ext, err := e.client.UploadExtension(ctx.Context, filepath.Base(path), f)
					if err != nil {
						return err
					}
					return printResult(ctx, ext, func() { fmt.Println(ext.ID) })
				},
			},
			{
				Name:  "list",
				Usage: "list extensions",
				Action: func(ctx *cli.Context) error {
					e, err := newEnv(ctx, false)
					if err != nil {
						return err
					}
					defer e.close()
					exts, err := e.client.ListExtensions(ctx.Context)
					if err != nil {
						return err
					}
					return printResult(ctx, exts, func() {
						for _, ext := range exts {
							fmt.Printf("%s\t%s\n", ext.ID, ext.Name)
						}
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "delete an extension",
				ArgsUsage: "<id>",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 1 {
						return fmt.Errorf("expected exactly one extension id")
					}
					e, err := newEnv(ctx, false)
					if err != nil {
						return err
					}
					defer e.close()
					return e.client.DeleteExtension(ctx.Context, ctx.Args().First())
				},
			},
		},
	}
}
