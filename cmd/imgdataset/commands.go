// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/imgdataset/pkg/dataset"
	"github.com/gomlx/imgdataset/pkg/links"
	"github.com/gomlx/imgdataset/pkg/recipe"
	"github.com/gomlx/imgdataset/pkg/transforms"
	"github.com/gomlx/imgdataset/pkg/walker"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// globalFlags are the persistent flags shared by all commands.
type globalFlags struct {
	extensions  []string
	noExtension bool
	parallelism int
	progress    bool
	quiet       bool
}

func (g *globalFlags) filter() (filter walker.Filter, err error) {
	if g.noExtension {
		if len(g.extensions) > 0 {
			return filter, errors.New("--no-extension and --extensions are mutually exclusive")
		}
		return walker.NoExtension, nil
	}
	if len(g.extensions) == 0 {
		return walker.DefaultFilter, nil
	}
	for _, ext := range g.extensions {
		if ext == "" {
			return filter, errors.New("empty value in --extensions")
		}
	}
	return walker.Extensions(g.extensions...), nil
}

func (g *globalFlags) walkOptions(description string) []walker.Option {
	opts := []walker.Option{walker.Parallelism(g.parallelism), walker.Announce(!g.quiet)}
	if g.progress {
		opts = append(opts, walker.WithProgressBar(description))
	}
	return opts
}

// NewRootCommand creates the imgdataset command with all its sub-commands.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "imgdataset",
		Short: "Prepare folders of images for training",
		Long: `imgdataset applies batch operations to trees of image files and packs them into tensors.

Transformations (reshape, crop, convert, grayscale) work in place when no target is given.
Rename and merge always write to a new target directory, numbering the files 1, 2, 3, ...`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringSliceVar(&g.extensions, "extensions", nil,
		fmt.Sprintf("Comma-separated file suffixes to process, in order of preference. Default is %s.",
			strings.Join(walker.DefaultFilter.Suffixes(), ",")))
	flags.BoolVar(&g.noExtension, "no-extension", false, "Process only files without extension.")
	flags.IntVar(&g.parallelism, "parallelism", 0,
		"Number of sub-directories (or downloads) processed concurrently. 0 is sequential, negative is unlimited.")
	flags.BoolVar(&g.progress, "progress", false, "Display progress while processing.")
	flags.BoolVar(&g.quiet, "quiet", false, "Don't log the creation of the target directory.")

	cmd.AddCommand(
		newTransformCommand(g, "rename <source> <target>",
			"Copy the images to target, numbering them from 1 and mirroring the sub-directories",
			func() (transforms.Operation, error) { return transforms.Rename{}, nil }),
		newTransformCommand(g, "merge <source> <target>",
			"Copy the images of all sub-directories into target, numbering them from 1",
			func() (transforms.Operation, error) { return transforms.Merge{}, nil }),
		newSizeCommand(g, "reshape", "Resize the images to exactly height x width",
			func(height, width int) transforms.Operation { return transforms.Reshape{Height: height, Width: width} }),
		newSizeCommand(g, "crop", "Crop the center height x width region of the images",
			func(height, width int) transforms.Operation { return transforms.Crop{Height: height, Width: width} }),
		newConvertCommand(g),
		newTransformCommand(g, "grayscale <source> [target]", "Convert the images to grayscale",
			func() (transforms.Operation, error) { return transforms.Grayscale{}, nil }),
		newDatasetCommand(g),
		newExportCommand(),
		newDownloadCommand(g),
		newRecipeCommand(g),
	)
	return cmd
}

// newTransformCommand creates a command that runs the transforms.Operation returned by makeOp.
// use must start with the command name followed by "<source> <target>" or "<source> [target]".
func newTransformCommand(g *globalFlags, use, short string, makeOp func() (transforms.Operation, error)) *cobra.Command {
	args := cobra.RangeArgs(1, 2)
	if strings.Contains(use, "<target>") {
		args = cobra.ExactArgs(2)
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := makeOp()
			if err != nil {
				return err
			}
			filter, err := g.filter()
			if err != nil {
				return err
			}
			source, target := args[0], ""
			if len(args) > 1 {
				target = args[1]
			}
			processed, err := transforms.Run(op, source, target, filter, g.walkOptions(op.String())...)
			if err != nil {
				return err
			}
			if target == "" {
				target = source
			}
			printSummary(cmd.OutOrStdout(), op.String(), [][]string{
				{"source", source},
				{"target", target},
				{"filter", filter.String()},
				{"# files", humanize.Comma(int64(processed))},
			})
			return nil
		},
	}
}

func newSizeCommand(g *globalFlags, name, short string, makeOp func(height, width int) transforms.Operation) *cobra.Command {
	var height, width int
	cmd := newTransformCommand(g, name+" <source> [target]", short, func() (transforms.Operation, error) {
		return makeOp(height, width), nil
	})
	cmd.Flags().IntVar(&height, "height", 0, "Height of the output images, in pixels.")
	cmd.Flags().IntVar(&width, "width", 0, "Width of the output images, in pixels.")
	cmd.MarkFlagsRequiredTogether("height", "width")
	return cmd
}

func newConvertCommand(g *globalFlags) *cobra.Command {
	var to string
	cmd := newTransformCommand(g, "convert <source> [target]",
		"Convert the images to another format, replacing their extension",
		func() (transforms.Operation, error) {
			if to != "" && !strings.HasPrefix(to, ".") {
				to = "." + to
			}
			return transforms.ConvertFormat{NewExtension: to}, nil
		})
	cmd.Flags().StringVar(&to, "to", "", `New extension of the images, e.g. ".png". The format is taken from it.`)
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newDatasetCommand(g *globalFlags) *cobra.Command {
	var withLabels, flatten, npy bool
	var dtypeName string
	var channels int
	var maxValue float64
	cmd := &cobra.Command{
		Use:   "dataset <source> <target>",
		Short: "Collect the images into tensors, with labels taken from their directories",
		Long: fmt.Sprintf(`Collect the images of source into tensors saved in target/%s.

With --labels each image is labeled by the directory it is in: the label keys are sorted and numbered
from 0, the labels are saved in target/%s and the encoding in target/%s.`,
			dataset.DataFileName, dataset.LabelsFileName, dataset.EncodingFileName),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := g.filter()
			if err != nil {
				return err
			}
			dtype, err := dataset.ParseDType(dtypeName)
			if err != nil {
				return err
			}
			collector := dataset.NewCollector(filter).
				WithLabels(withLabels).
				Flatten(flatten).
				DType(dtype).
				Channels(channels).
				MaxValue(maxValue).
				WalkOptions(g.walkOptions("Collecting")...)
			if err = collector.Validate(); err != nil {
				return err
			}
			var persistOpts []dataset.PersistOption
			if npy {
				persistOpts = append(persistOpts, dataset.WithNpy())
			}
			final, err := dataset.Build(collector, args[0], args[1], persistOpts...)
			if err != nil {
				return err
			}
			var memory uintptr
			for _, t := range final.Images {
				memory += t.Shape().Memory()
			}
			rows := [][]string{
				{"source", args[0]},
				{"target", args[1]},
				{"# images", humanize.Comma(int64(len(final.Images)))},
				{"dtype", dtype.String()},
				{"size", humanize.Bytes(uint64(memory))},
			}
			if len(final.Images) > 0 {
				rows = append(rows, []string{"first shape", final.Images[0].Shape().String()})
			}
			if final.Encoding != nil {
				rows = append(rows, []string{"# labels", humanize.Comma(int64(final.Encoding.Len()))})
			}
			printSummary(cmd.OutOrStdout(), "Dataset", rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withLabels, "labels", false, "Label each image by the directory it is in.")
	cmd.Flags().BoolVar(&flatten, "flatten", false, "Flatten each image to a rank-1 tensor.")
	cmd.Flags().StringVar(&dtypeName, "dtype", "uint8", "DType of the image tensors: uint8, float16, float32 or float64.")
	cmd.Flags().IntVar(&channels, "channels", 0, "Number of channels (1, 3 or 4). 0 uses 1 for gray images and 3 otherwise.")
	cmd.Flags().Float64Var(&maxValue, "max-value", 0, "Value of a saturated channel. 0 uses 255 for uint8 and 1 for floats.")
	cmd.Flags().BoolVar(&npy, "npy", false, fmt.Sprintf(
		"Also save the labels to target/%s and, if all images have the same shape, the images to target/%s.",
		dataset.LabelsNpyFileName, dataset.DataNpyFileName))
	return cmd
}

func newExportCommand() *cobra.Command {
	var maxValue float64
	cmd := &cobra.Command{
		Use:   "export <dataset> <target>",
		Short: "Write the images of a dataset back to PNG files, to inspect them",
		Long: `Write the images saved by "dataset" back to PNG files in target, numbered in the order of the dataset.

Labeled datasets are written to one sub-directory per label key. Flattened datasets can't be exported.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exported, err := dataset.Export(args[0], args[1], maxValue)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), "Export", [][]string{
				{"dataset", args[0]},
				{"target", args[1]},
				{"# images", humanize.Comma(int64(exported))},
			})
			return nil
		},
	}
	cmd.Flags().Float64Var(&maxValue, "max-value", 0,
		"Value of a saturated channel, as given to dataset. 0 uses 255 for uint8 and 1 for floats.")
	return cmd
}

func newDownloadCommand(g *globalFlags) *cobra.Command {
	var dedupe bool
	cmd := &cobra.Command{
		Use:   "download <links-dir> <target>",
		Short: "Download the images listed in <links-dir>/<keyword>/" + links.FileName + " into <target>/<keyword>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := links.LoadDir(args[0])
			if err != nil {
				return err
			}
			if dedupe {
				l.Dedupe()
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			d := &links.Downloader{Parallelism: g.parallelism, ShowProgressBar: g.progress}
			report, err := d.Download(ctx, l, args[1])
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), "Download", [][]string{
				{"target", args[1]},
				{"# keywords", humanize.Comma(int64(len(l.Keywords())))},
				{"# downloaded", humanize.Comma(int64(report.Downloaded))},
				{"# failed", humanize.Comma(int64(len(report.Failed)))},
				{"size", humanize.Bytes(uint64(report.Bytes))},
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&dedupe, "dedupe", false, "Remove repeated links before downloading.")
	return cmd
}

func newRecipeCommand(g *globalFlags) *cobra.Command {
	var validateOnly bool
	cmd := &cobra.Command{
		Use:   "recipe <recipe.yaml>",
		Short: "Run the steps of a YAML recipe in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := recipe.Load(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("parallelism") {
				r.Parallelism = g.parallelism
			}
			if validateOnly {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "recipe %q is valid: %d steps\n", args[0], len(r.Steps))
				return nil
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			results, err := r.Run(ctx)
			printRecipeResults(cmd.OutOrStdout(), results)
			return err
		},
	}
	cmd.Flags().BoolVar(&validateOnly, "validate", false, "Only validate the recipe.")
	return cmd
}
