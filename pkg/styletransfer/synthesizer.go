// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package styletransfer

import (
	"math"
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Scope under which the Synthesizer stores its variables: the synthesized image and the targets.
const Scope = "style_transfer"

// Names of the variables created by the Synthesizer, under Scope.
const (
	ImageVariableName  = "image"
	StyleTargetsScope  = "style_targets"
	ContentTargetScope = "content_targets"
)

// State of a Synthesizer.
type State int

const (
	StateNew State = iota
	StateInitialized
	StateRunning
	StateCompleted
	StateFailed
)

var stateNames = []string{"new", "initialized", "running", "completed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// StepHook is called after every optimization step, with step counting from 1 to totalSteps.
type StepHook func(step, totalSteps int, loss Loss, elapsed time.Duration)

// Synthesizer runs the optimization of one synthesized image.
//
// Create it with NewSynthesizer, configure it with the With... methods, call Initialize with the content
// and style images and finally Run. A Synthesizer is used for one synthesis only, and it is not safe
// for concurrent use, except for Progress.
type Synthesizer struct {
	backend   backends.Backend
	ctx       *context.Context
	extractor FeatureExtractor
	reporter  Reporter
	hooks     []StepHook

	state                      State
	styleWeight, contentWeight float64
	imageVar                   *context.Variable
	styleTargets               map[string]*context.Variable
	contentTargets             map[string]*context.Variable
	trainStep                  *context.Exec
	lastLoss                   Loss
	result                     *tensors.Tensor

	progressMu sync.Mutex
	progress   int
}

// NewSynthesizer creates a Synthesizer that will use backend to execute the optimization, ctx for hyperparameters
// and variables, and extractor to compute the features.
//
// Hyperparameters are read from ctx (see CreateDefaultContext for the list). Variables are created under
// ctx.In(Scope), and the extractor variables wherever the extractor places them: to run more than one
// synthesis, use a different context (see context.Context.Clone) for each.
func NewSynthesizer(backend backends.Backend, ctx *context.Context, extractor FeatureExtractor) *Synthesizer {
	return &Synthesizer{
		backend:   backend,
		ctx:       ctx,
		extractor: extractor,
		reporter:  NopReporter{},
	}
}

// WithReporter sets the Reporter that receives progress and checkpoints. The default discards them.
func (s *Synthesizer) WithReporter(reporter Reporter) *Synthesizer {
	s.reporter = reporter
	return s
}

// WithStepHook adds a hook called after every optimization step.
func (s *Synthesizer) WithStepHook(hook StepHook) *Synthesizer {
	s.hooks = append(s.hooks, hook)
	return s
}

// State returns the current state of the synthesis.
func (s *Synthesizer) State() State { return s.state }

// Progress returns the last reported progress, from 0 to 100.
func (s *Synthesizer) Progress() int {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	return s.progress
}

// LastLoss returns the loss of the last executed step.
func (s *Synthesizer) LastLoss() Loss { return s.lastLoss }

// Result returns the final synthesized image tensor, shaped [1, height, width, 3], available once Run completes.
func (s *Synthesizer) Result() *tensors.Tensor { return s.result }

// Initialize validates the images, computes the style and content targets and creates the image variable
// with a copy of the content image. It reports progress 0.
//
// content and style must be float32 tensors shaped [1, height, width, 3], their sizes may differ.
func (s *Synthesizer) Initialize(content, style *tensors.Tensor) error {
	if s.state != StateNew {
		return errors.Errorf("Synthesizer.Initialize called in state %q, it can only be initialized once", s.state)
	}
	if err := checkImageTensor(content); err != nil {
		return errors.WithMessage(err, "content image")
	}
	if err := checkImageTensor(style); err != nil {
		return errors.WithMessage(err, "style image")
	}
	styleLayers, contentLayers := s.extractor.StyleLayers(), s.extractor.ContentLayers()
	if len(styleLayers)+len(contentLayers) == 0 {
		return errors.New("feature extractor has no style or content layers")
	}
	s.styleWeight = context.GetParamOr(s.ctx, ParamStyleWeight, DefaultStyleWeight)
	s.contentWeight = context.GetParamOr(s.ctx, ParamContentWeight, DefaultContentWeight)

	// Targets are computed once, with a separate graph.
	targets, err := context.ExecOnceN(s.backend, s.ctx, func(ctx *context.Context, content, style *Node) []*Node {
		styleFeatures := s.extractor.Extract(ctx, style)
		contentFeatures := s.extractor.Extract(ctx, content)
		outputs := make([]*Node, 0, len(styleLayers)+len(contentLayers))
		for _, name := range styleLayers {
			outputs = append(outputs, GramMatrix(mustGetLayer(styleFeatures.Style, name)))
		}
		for _, name := range contentLayers {
			outputs = append(outputs, mustGetLayer(contentFeatures.Content, name))
		}
		return outputs
	}, content, style)
	if err != nil {
		return &ComputationError{Step: 0, Err: errors.WithMessage(err, "computing style and content targets")}
	}

	initialImage := content.LocalClone()
	err = exceptions.TryCatch[error](func() {
		scopeCtx := s.ctx.In(Scope)
		s.styleTargets = make(map[string]*context.Variable, len(styleLayers))
		for ii, name := range styleLayers {
			s.styleTargets[name] = scopeCtx.In(StyleTargetsScope).VariableWithValue(name, targets[ii]).SetTrainable(false)
		}
		s.contentTargets = make(map[string]*context.Variable, len(contentLayers))
		for ii, name := range contentLayers {
			s.contentTargets[name] = scopeCtx.In(ContentTargetScope).
				VariableWithValue(name, targets[len(styleLayers)+ii]).SetTrainable(false)
		}
		s.imageVar = scopeCtx.VariableWithValue(ImageVariableName, initialImage)
	})
	if err != nil {
		return errors.WithMessage(err, "creating synthesis variables")
	}
	s.state = StateInitialized
	s.report(0)
	klog.V(1).Infof("style transfer initialized: image %s, %d style layers, %d content layers",
		content.Shape(), len(styleLayers), len(contentLayers))
	return nil
}

func mustGetLayer(activations map[string]*Node, name string) *Node {
	node, found := activations[name]
	if !found {
		exceptions.Panicf("feature extractor didn't return activations for layer %q", name)
	}
	return node
}

// trainStepGraph builds one optimization step: features of the current image, loss, Adam update of the image
// and clamping to [0, 1]. It returns the total, style and content losses.
func (s *Synthesizer) trainStepGraph(ctx *context.Context, g *Graph) (total, style, content *Node) {
	image := s.imageVar.ValueGraph(g)
	features := s.extractor.Extract(ctx, image)
	styleTargets := make(map[string]*Node, len(s.styleTargets))
	for name, v := range s.styleTargets {
		styleTargets[name] = v.ValueGraph(g)
	}
	contentTargets := make(map[string]*Node, len(s.contentTargets))
	for name, v := range s.contentTargets {
		contentTargets[name] = v.ValueGraph(g)
	}
	total, style, content = StyleContentLoss(features, styleTargets, contentTargets, s.styleWeight, s.contentWeight)

	optimizer := optimizers.Adam().FromContext(ctx).Done()
	optimizer.UpdateGraph(ctx, g, total)
	s.imageVar.SetValueGraph(ClipScalar(s.imageVar.ValueGraph(g), 0.0, 1.0))
	return
}

// Run executes the optimization loop: epochs * steps_per_epoch steps.
//
// Progress is reported whenever its integer percentage changes and at least every report_period steps;
// the image is checkpointed every checkpoint_period steps. At the end, the final image is checkpointed and
// then progress 100 is reported. With zero steps the result is the content image.
//
// It returns a *ComputationError if a step fails or the loss becomes non-finite, and a *CheckpointError if
// the final image cannot be written. Other reporter errors are only logged.
func (s *Synthesizer) Run() (err error) {
	if s.state != StateInitialized {
		return errors.Errorf("Synthesizer.Run called in state %q, it must be initialized first", s.state)
	}
	epochs := context.GetParamOr(s.ctx, ParamEpochs, DefaultEpochs)
	stepsPerEpoch := context.GetParamOr(s.ctx, ParamStepsPerEpoch, DefaultStepsPerEpoch)
	if epochs < 0 || stepsPerEpoch < 0 {
		return errors.Errorf("invalid number of steps: %s=%d, %s=%d must be >= 0",
			ParamEpochs, epochs, ParamStepsPerEpoch, stepsPerEpoch)
	}
	totalSteps := epochs * stepsPerEpoch
	reportPeriod := context.GetParamOr(s.ctx, ParamReportPeriod, DefaultReportPeriod)
	checkpointPeriod := context.GetParamOr(s.ctx, ParamCheckpointPeriod, DefaultCheckpointPeriod)

	s.state = StateRunning
	defer func() {
		s.releaseExec()
		if err != nil {
			s.state = StateFailed
		}
	}()

	if totalSteps > 0 {
		s.trainStep, err = context.NewExec(s.backend, s.ctx, s.trainStepGraph)
		if err != nil {
			return &ComputationError{Step: 0, Err: err}
		}
	}
	start := time.Now()
	for step := 1; step <= totalSteps; step++ {
		stepStart := time.Now()
		loss, err := s.execStep(step)
		if err != nil {
			return err
		}
		for _, hook := range s.hooks {
			hook(step, totalSteps, loss, time.Since(stepStart))
		}
		if step == totalSteps {
			// Final progress is reported only after the result is written.
			break
		}
		progress := step * 100 / totalSteps
		if progress > s.Progress() || (reportPeriod > 0 && step%reportPeriod == 0) {
			s.report(progress)
			klog.V(1).Infof("style transfer progress: %d%% (step %d/%d, loss=%g)", progress, step, totalSteps, loss.Total)
		}
		if checkpointPeriod > 0 && step%checkpointPeriod == 0 {
			if err := s.checkpoint(); err != nil {
				klog.Warningf("style transfer: %v", err)
			}
		}
	}

	// Final result.
	if err = s.checkpoint(); err != nil {
		return err
	}
	s.report(100)
	s.state = StateCompleted
	klog.V(1).Infof("style transfer completed %d steps in %s, loss=%g", totalSteps, time.Since(start), s.lastLoss.Total)
	return nil
}

// execStep executes one optimization step and checks that the loss is finite.
func (s *Synthesizer) execStep(step int) (loss Loss, err error) {
	var total, style, content *tensors.Tensor
	var execErr error
	err = exceptions.TryCatch[error](func() {
		total, style, content, execErr = s.trainStep.Exec3()
	})
	if err == nil {
		err = execErr
	}
	if err != nil {
		return loss, &ComputationError{Step: step, Err: err}
	}
	loss = Loss{
		Total:   scalarToFloat64(total),
		Style:   scalarToFloat64(style),
		Content: scalarToFloat64(content),
	}
	for _, t := range []*tensors.Tensor{total, style, content} {
		t.FinalizeAll()
	}
	if math.IsNaN(loss.Total) || math.IsInf(loss.Total, 0) {
		return loss, &ComputationError{Step: step, Err: errors.Errorf("loss is not finite: %+v", loss)}
	}
	s.lastLoss = loss
	return loss, nil
}

func scalarToFloat64(t *tensors.Tensor) float64 {
	return float64(tensors.ToScalar[float32](t))
}

// report the progress, logging errors. Progress is never decreased.
func (s *Synthesizer) report(progress int) {
	s.progressMu.Lock()
	if progress < s.progress {
		progress = s.progress
	}
	s.progress = progress
	s.progressMu.Unlock()
	if err := s.reporter.Report(progress); err != nil {
		klog.Warningf("style transfer: %v", &CheckpointError{Progress: progress, Err: err})
	}
}

// checkpoint converts the current image and passes it to the reporter. The last one is kept as the result.
func (s *Synthesizer) checkpoint() error {
	progress := s.Progress()
	local := s.imageVar.Value().LocalClone()
	img, err := ToImage(local)
	if err != nil {
		return &CheckpointError{Progress: progress, Err: err}
	}
	if s.result != nil {
		s.result.FinalizeAll()
	}
	s.result = local
	if err = s.reporter.Checkpoint(img); err != nil {
		return &CheckpointError{Progress: progress, Err: err}
	}
	klog.V(2).Infof("style transfer checkpoint at %d%%", progress)
	return nil
}

// releaseExec frees the compiled step and its device buffers.
func (s *Synthesizer) releaseExec() {
	if s.trainStep != nil {
		s.trainStep.Finalize()
		s.trainStep = nil
	}
}
