package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/go-sifs/mkfs"
	"github.com/mit-pdos/go-sifs/util"
	"github.com/mit-pdos/go-sifs/volume"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  appName,
		Usage: "create and inspect SIFS volume images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML configuration file",
				EnvVars: []string{envVarPrefix + "_CONFIG_FILE"},
			},
			&cli.Uint64Flag{
				Name:  "debug",
				Usage: "debug print level",
			},
		},
		Commands: []*cli.Command{{
			Name:      "format",
			Aliases:   []string{"mkfs"},
			Usage:     "write an empty file system to an image",
			ArgsUsage: "<image> <size>",
			Description: "size is in bytes, optionally with a K, M or G " +
				"suffix; the image is replaced",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "block-size", Usage: "block size in bytes"},
				&cli.Uint64Flag{Name: "inode-size", Usage: "inode record size in bytes"},
				&cli.Uint64Flag{Name: "inodes", Usage: "number of inodes (default: one per 4 blocks)"},
				&cli.StringFlag{Name: "name", Usage: "volume name"},
			},
			Action: withConfig(format),
		}, {
			Name:      "check",
			Aliases:   []string{"fsck"},
			Usage:     "report inconsistencies in an image",
			ArgsUsage: "<image>",
			Action:    withConfig(check),
		}, {
			Name:      "info",
			Usage:     "print the geometry of an image",
			ArgsUsage: "<image>",
			Action:    withConfig(info),
		}},
	}
}

func withConfig(f func(*Config, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		c, err := LoadConfig(ctx.String("config"))
		if err != nil {
			return err
		}
		c.applyFlags(ctx)
		util.SetDebug(c.Debug)
		return f(c, ctx)
	}
}

func format(c *Config, ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("usage: sifs format <image> <size>", 2)
	}
	size, err := parseSize(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	opts, err := c.Options()
	if err != nil {
		return err
	}
	sb, err := mkfs.FormatFile(ctx.Args().Get(0), size, opts)
	if err != nil {
		return fmt.Errorf("formatting %s: %w", ctx.Args().Get(0), err)
	}
	fmt.Fprintf(ctx.App.Writer, "%s: %d blocks, %d inodes, %d data blocks\n",
		ctx.Args().Get(0), sb.NBlock, sb.NInode, sb.NData())
	return nil
}

func openImage(ctx *cli.Context) (*volume.Volume, error) {
	if ctx.NArg() != 1 {
		return nil, cli.Exit(fmt.Sprintf("usage: sifs %s <image>", ctx.Command.Name), 2)
	}
	return volume.Open(ctx.Args().First())
}

func check(c *Config, ctx *cli.Context) error {
	v, err := openImage(ctx)
	if err != nil {
		return err
	}
	defer v.Close()
	errs := v.Check()
	for _, err := range errs {
		fmt.Fprintln(ctx.App.Writer, err)
	}
	if len(errs) > 0 {
		return cli.Exit(fmt.Sprintf("%s: %d problems", ctx.Args().First(), len(errs)), 1)
	}
	fmt.Fprintf(ctx.App.Writer, "%s: clean\n", ctx.Args().First())
	return nil
}

func info(c *Config, ctx *cli.Context) error {
	v, err := openImage(ctx)
	if err != nil {
		return err
	}
	defer v.Close()
	st, err := v.Stat()
	if err != nil {
		return err
	}
	sb := st.Super
	w := ctx.App.Writer
	fmt.Fprintf(w, "name:        %s\n", sb.NameString())
	fmt.Fprintf(w, "block size:  %d\n", sb.BlockSize)
	fmt.Fprintf(w, "inode size:  %d\n", sb.InodeSize)
	fmt.Fprintf(w, "blocks:      %d (%d used, %d free)\n", sb.NBlock, st.UsedBlocks, sb.NFreeBlock)
	fmt.Fprintf(w, "inodes:      %d (%d used, %d free)\n", sb.NInode, st.UsedInodes, sb.NFreeInode)
	for _, r := range sb.Regions() {
		fmt.Fprintf(w, "%-12s %6d +%d\n", r.Name+":", r.Start, r.Len)
	}
	fmt.Fprintf(w, "%-12s %6d +%d\n", "data:", sb.DataStart, sb.NData())
	fmt.Fprintf(w, "root:        %s %04o uid %d gid %d links %d\n",
		st.Root.TypeString(), st.Root.Mode&0777, st.Root.Uid, st.Root.Gid, st.Root.Links)
	return nil
}
