// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package styletransfer synthesizes an image that keeps the structure of a content image while
// adopting the texture and colors of a style image.
//
// The synthesis is an iterative optimization over the pixels of the output image: a frozen pretrained
// feature extractor (see FeatureExtractor and the models/vgg19 package) produces activations, style is
// described by Gram matrices of those activations (GramMatrix), and the weighted sum of style and content
// reconstruction errors (StyleContentLoss) is minimized with Adam. Pixel values are clamped to [0, 1] after
// every step.
//
// The usual flow:
//
//	ctx := styletransfer.CreateDefaultContext()
//	content, err := styletransfer.LoadImage(contentPath, styletransfer.MaxImageDim(ctx))
//	style, err := styletransfer.LoadImage(stylePath, styletransfer.MaxImageDim(ctx))
//	synth := styletransfer.NewSynthesizer(backend, ctx, extractor).
//		WithReporter(styletransfer.NewFileReporter(outputPath))
//	err = synth.Initialize(content, style)
//	err = synth.Run()
//
// Hyperparameters are read from the context, see CreateDefaultContext.
package styletransfer
