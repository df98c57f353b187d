// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/gomlx/styletransfer/internal/fsutil"
	"github.com/gomlx/styletransfer/pkg/styletransfer"
	"github.com/gomlx/styletransfer/ui/plots"
	"github.com/gomlx/styletransfer/ui/terminal"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type runFlags struct {
	commonFlags
	content, style, output, lossPlot, lossPoints, checkpoints string
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one style transfer, displaying its progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStyleTransfer(cmd, flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.content, "content", "", "Content image.")
	cmd.Flags().StringVar(&flags.style, "style", "", "Style image.")
	cmd.Flags().StringVar(&flags.output, "output", "result.jpg", "Result image: PNG if it ends in \".png\", JPEG otherwise.")
	cmd.Flags().StringVar(&flags.lossPlot, "loss_plot", "", "If set, save a plot of the losses to this file.")
	cmd.Flags().StringVar(&flags.lossPoints, "loss_points", "", "If set, save the losses of every step to this file, as JSON lines.")
	cmd.Flags().StringVar(&flags.checkpoints, "checkpoints", "", "If set, also keep every intermediate image in this directory.")
	_ = cmd.MarkFlagRequired("content")
	_ = cmd.MarkFlagRequired("style")
	return cmd
}

func runStyleTransfer(cmd *cobra.Command, flags *runFlags) error {
	ctx, err := flags.context()
	if err != nil {
		return err
	}
	maxDim := styletransfer.MaxImageDim(ctx)
	content, err := styletransfer.LoadImage(flags.content, maxDim)
	if err != nil {
		return err
	}
	style, err := styletransfer.LoadImage(flags.style, maxDim)
	if err != nil {
		return err
	}
	extractor, err := flags.extractor(cmd)
	if err != nil {
		return err
	}
	backend, err := newBackend()
	if err != nil {
		return err
	}
	defer backend.Finalize()

	dims := content.Shape().Dimensions
	imageSize := fmt.Sprintf("%dx%d", dims[2], dims[1])
	resultReporter := styletransfer.NewFileReporter(flags.output)
	var reporter styletransfer.Reporter = resultReporter
	var snapshots *styletransfer.SnapshotReporter
	if flags.checkpoints != "" {
		dir, err := fsutil.ReplaceTildeInDir(flags.checkpoints)
		if err != nil {
			return err
		}
		snapshots = styletransfer.NewSnapshotReporter(dir)
		reporter = styletransfer.MultiReporter{resultReporter, snapshots}
	}
	history := plots.NewLossHistory()
	pBar := terminal.NewProgressBar(styletransfer.TotalSteps(ctx), func() (string, string) { return "Image", imageSize })
	synth := styletransfer.NewSynthesizer(backend, ctx, extractor).
		WithReporter(reporter).
		WithStepHook(pBar.OnStep).
		WithStepHook(history.OnStep)

	start := time.Now()
	err = synth.Initialize(content, style)
	if err == nil {
		err = synth.Run()
	}
	pBar.Done()
	if err != nil {
		return errors.WithMessagef(err, "style transfer failed at %d%%", resultReporter.Progress())
	}
	loss := synth.LastLoss()
	fmt.Printf("Result saved to %q in %s (loss: total=%.4g, style=%.4g, content=%.4g)\n",
		flags.output, terminal.FormatDuration(time.Since(start)), loss.Total, loss.Style, loss.Content)

	if snapshots != nil {
		fmt.Printf("%d checkpoints saved to %q\n", len(snapshots.Paths()), snapshots.Dir)
	}
	if history.Len() > 0 {
		fmt.Println(history.Table(10))
	}
	if flags.lossPoints != "" {
		if err = history.SavePoints(flags.lossPoints); err != nil {
			return err
		}
	}
	if flags.lossPlot != "" && history.Len() > 0 {
		if err = history.Save(flags.lossPlot); err != nil {
			return err
		}
		fmt.Printf("Loss plot saved to %q\n", flags.lossPlot)
	}
	return nil
}
