// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/gomlx/styletransfer/pkg/jobs"
	"github.com/gomlx/styletransfer/pkg/styletransfer"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{"file", "sqlite", "memory"} {
		store, err := newStore(kind, dir)
		require.NoError(t, err, kind)
		_, err = store.Load(jobs.NewID())
		assert.ErrorIs(t, err, jobs.ErrNotFound, kind)
		require.NoError(t, store.Close())
	}
	_, err := newStore("redis", dir)
	require.Error(t, err)
}

func TestSettings(t *testing.T) {
	flags := &commonFlags{settings: "epochs=2;steps_per_epoch=7;style_weight=0.5"}
	ctx, err := flags.context()
	require.NoError(t, err)
	assert.Equal(t, 14, styletransfer.TotalSteps(ctx))
	assert.Equal(t, 0.5, context.GetParamOr(ctx, styletransfer.ParamStyleWeight, 0.0))

	flags.settings = "unknown_param=1"
	_, err = flags.context()
	require.Error(t, err)
}

func TestRootCmd(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"run", "serve", "download"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("v"), "klog flags should be registered")
}
