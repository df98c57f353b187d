// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package styletransfer

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

// Hyperparameters keys, read from the context with context.GetParamOr.
const (
	// ParamMaxImageDim is the size, in pixels, of the longer side of loaded images.
	ParamMaxImageDim = "max_image_dim"

	// ParamEpochs and ParamStepsPerEpoch define the number of optimization steps: epochs * steps_per_epoch.
	ParamEpochs        = "epochs"
	ParamStepsPerEpoch = "steps_per_epoch"

	// ParamStyleWeight multiplies the mean style loss over the style layers.
	ParamStyleWeight = "style_weight"

	// ParamContentWeight multiplies the mean content loss over the content layers.
	ParamContentWeight = "content_weight"

	// ParamReportPeriod is the maximum number of steps between progress reports.
	// Progress is also reported whenever the integer percentage changes.
	ParamReportPeriod = "report_period"

	// ParamCheckpointPeriod is the number of steps between writes of the intermediate image.
	// The final image is always written. Set to 0 to disable intermediate checkpoints.
	ParamCheckpointPeriod = "checkpoint_period"
)

// Default values for the hyperparameters.
const (
	DefaultMaxImageDim      = 256
	DefaultEpochs           = 5
	DefaultStepsPerEpoch    = 50
	DefaultStyleWeight      = 1e-2
	DefaultContentWeight    = 1e4
	DefaultLearningRate     = 0.02
	DefaultAdamBeta1        = 0.99
	DefaultAdamBeta2        = 0.999
	DefaultAdamEpsilon      = 0.1
	DefaultReportPeriod     = 5
	DefaultCheckpointPeriod = 25
)

// CreateDefaultContext returns a context with all the hyperparameters set to their default values.
// They can be changed with context.SetParams or from the command line with
// commandline.ParseContextSettings.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamMaxImageDim:      DefaultMaxImageDim,
		ParamEpochs:           DefaultEpochs,
		ParamStepsPerEpoch:    DefaultStepsPerEpoch,
		ParamStyleWeight:      DefaultStyleWeight,
		ParamContentWeight:    DefaultContentWeight,
		ParamReportPeriod:     DefaultReportPeriod,
		ParamCheckpointPeriod: DefaultCheckpointPeriod,

		optimizers.ParamLearningRate: DefaultLearningRate,
		optimizers.ParamAdamBeta1:    DefaultAdamBeta1,
		optimizers.ParamAdamBeta2:    DefaultAdamBeta2,
		optimizers.ParamAdamEpsilon:  DefaultAdamEpsilon,
	})
	return ctx
}

// MaxImageDim returns the configured maximum image dimension.
func MaxImageDim(ctx *context.Context) int {
	return context.GetParamOr(ctx, ParamMaxImageDim, DefaultMaxImageDim)
}

// TotalSteps returns the configured number of optimization steps, epochs * steps_per_epoch.
func TotalSteps(ctx *context.Context) int {
	return context.GetParamOr(ctx, ParamEpochs, DefaultEpochs) *
		context.GetParamOr(ctx, ParamStepsPerEpoch, DefaultStepsPerEpoch)
}
