// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/gomlx/styletransfer/models/vgg19"
	"github.com/spf13/cobra"
)

func newDownloadCmd() *cobra.Command {
	var weightsDir string
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and verify the pretrained VGG19 weights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := vgg19.DownloadWeights(cmd.Context(), weightsDir, true)
			if err != nil {
				return err
			}
			weights, err := vgg19.VerifyWeights(path)
			if err != nil {
				return err
			}
			fmt.Printf("VGG19 weights (%d layers) in %q\n", weights.Depth(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&weightsDir, "weights", vgg19.DefaultWeightsDir, "Directory where to cache the VGG19 weights.")
	return cmd
}
