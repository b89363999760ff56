package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	i3dm "github.com/flywave/go-i3dm"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newConvertCommand(stdin io.Reader, stdout io.Writer, stderr io.Writer) *cobra.Command {
	conf := NewConvertConfig()
	cc := &cobra.Command{
		Use:   "convert",
		Short: "Convert I3DM tiles to glb.",
		Long: `convert reads every .i3dm tile below --input and writes a glb with
the same relative path below --output. Tiles are converted concurrently,
a failing tile is reported and does not stop the others.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfig(conf); err != nil {
				return err
			}
			verbose, _ := cmd.Flags().GetBool("verbose")
			c := &convertCommand{
				conf:   conf,
				logger: newLogger(stderr, verbose),
				stdout: stdout,
			}
			return c.Run(cmd.Context())
		},
	}
	conf.bindFlags(cc.Flags())
	return cc
}

type convertCommand struct {
	conf   *ConvertConfig
	logger *slog.Logger
	stdout io.Writer
}

type tileResult struct {
	path     string
	inBytes  int
	outBytes int
	elapsed  time.Duration
	err      error
}

// collectFiles returns the files below root whose extension matches ext,
// relative to the returned base directory.
func collectFiles(root, ext string) (base string, files []string, err error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", nil, err
	}
	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(root), ext) {
			return filepath.Dir(root), nil, nil
		}
		return filepath.Dir(root), []string{filepath.Base(root)}, nil
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	return root, files, err
}

func (c *convertCommand) Run(ctx context.Context) error {
	opts := i3dm.Options{Logger: c.logger, Unlit: c.conf.Unlit}
	if c.conf.Upgrader != "" {
		u, err := newExecUpgrader(c.conf.Upgrader)
		if err != nil {
			return err
		}
		opts.Upgrader = u
	}
	converter := i3dm.NewI3dmToGlb(opts)

	base, files, err := collectFiles(c.conf.Input, i3dm.I3DM_EXT)
	if err != nil {
		return errors.Wrap(err, "collecting tiles")
	}
	c.logger.Info("converting tiles", slog.Int("count", len(files)), slog.Int("jobs", c.conf.Jobs))

	results := make([]tileResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.conf.Jobs)
	for i, rel := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = c.convertTile(ctx, converter, base, rel)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if c.conf.UpgradeTileset {
		if err := c.upgradeTilesets(); err != nil {
			return err
		}
	}

	failed := c.writeSummary(results)
	if failed > 0 {
		return errors.Errorf("%d of %d tiles failed", failed, len(results))
	}
	return nil
}

func (c *convertCommand) convertTile(ctx context.Context, converter *i3dm.I3dmToGlb, base, rel string) (res tileResult) {
	start := time.Now()
	res.path = rel
	defer func() {
		res.elapsed = time.Since(start)
	}()

	in, err := os.ReadFile(filepath.Join(base, rel))
	if err != nil {
		res.err = err
		return res
	}
	res.inBytes = len(in)

	glb, err := converter.Convert(ctx, in)
	if err != nil {
		c.logger.Error("conversion failed", slog.String("tile", rel), slog.Any("err", err))
		res.err = err
		return res
	}

	target := filepath.Join(c.conf.Output, strings.TrimSuffix(rel, filepath.Ext(rel))+i3dm.GLB_EXT)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		res.err = err
		return res
	}
	if err := os.WriteFile(target, glb, 0o644); err != nil {
		res.err = err
		return res
	}
	res.outBytes = len(glb)
	c.logger.Debug("converted tile", slog.String("tile", rel), slog.String("glb", target))
	return res
}

// upgradeTilesets copies every tileset JSON below the input into the output
// tree, upgraded and pointing at the converted glb files.
func (c *convertCommand) upgradeTilesets() error {
	base, files, err := collectFiles(c.conf.Input, ".json")
	if err != nil {
		return errors.Wrap(err, "collecting tilesets")
	}
	for _, rel := range files {
		ts, err := i3dm.ReadTileset(filepath.Join(base, rel))
		if err != nil {
			c.logger.Warn("skipping JSON file", slog.String("file", rel), slog.Any("err", err))
			continue
		}
		renamed := i3dm.UpgradeTileset(ts, true)
		target := filepath.Join(c.conf.Output, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := i3dm.WriteTileset(target, ts); err != nil {
			return errors.Wrapf(err, "writing %s", target)
		}
		c.logger.Info("upgraded tileset", slog.String("file", rel), slog.Int("redirected", renamed))
	}
	return nil
}

// writeSummary prints one row per tile and returns the number of failures.
func (c *convertCommand) writeSummary(results []tileResult) int {
	t := table.NewWriter()
	t.SetOutputMirror(c.stdout)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"tile", "i3dm bytes", "glb bytes", "time", "status"})

	failed := 0
	for _, r := range results {
		status := "ok"
		if r.err != nil {
			failed++
			status = r.err.Error()
		}
		t.AppendRow(table.Row{r.path, r.inBytes, r.outBytes, r.elapsed.Round(time.Millisecond), status})
	}
	t.AppendFooter(table.Row{"", "", "", "failed", fmt.Sprintf("%d/%d", failed, len(results))})
	t.Render()
	return failed
}
