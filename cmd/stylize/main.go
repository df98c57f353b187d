// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// stylize renders the content of an image in the style of another, with a pretrained VGG19 network.
//
// Usage:
//
//	stylize download
//	stylize run --content photo.jpg --style painting.jpg --output result.jpg --set "epochs=10"
//	stylize serve --addr :5000 --data ~/styletransfer
package main

import (
	"flag"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/styletransfer/models/vgg19"
	"github.com/gomlx/styletransfer/pkg/styletransfer"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

// commonFlags are shared by the commands that run style transfers.
type commonFlags struct {
	weightsDir string
	settings   string
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.weightsDir, "weights", vgg19.DefaultWeightsDir,
		"Directory where the VGG19 weights are cached.")
	cmd.Flags().StringVar(&f.settings, "set", "",
		`Hyperparameters to override, separated by ";", e.g.: "epochs=10;style_weight=0.1".`)
}

// context returns the hyperparameters context with the settings applied.
func (f *commonFlags) context() (*context.Context, error) {
	ctx := styletransfer.CreateDefaultContext()
	paramsSet, err := commandline.ParseContextSettings(ctx, f.settings)
	if err != nil {
		return nil, errors.WithMessage(err, "parsing --set")
	}
	if len(paramsSet) > 0 {
		klog.V(1).Infof("hyperparameters:\n%s", commandline.SprintContextSettings(ctx))
	}
	return ctx, nil
}

func (f *commonFlags) extractor(cmd *cobra.Command) (*vgg19.Extractor, error) {
	weights, err := vgg19.LoadPretrained(cmd.Context(), f.weightsDir, true)
	if err != nil {
		return nil, err
	}
	return vgg19.NewDefaultExtractor(weights)
}

// newBackend returns the default backend, configured with $GOMLX_BACKEND.
func newBackend() (backend backends.Backend, err error) {
	err = exceptions.TryCatch[error](func() { backend = backends.New() })
	if err != nil {
		return nil, errors.WithMessage(err, "creating backend")
	}
	klog.V(1).Infof("backend: %s", backend.Description())
	return backend, nil
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "stylize",
		Short:         "Neural style transfer",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	rootCmd.AddCommand(newRunCmd(), newServeCmd(), newDownloadCmd())
	return rootCmd
}
