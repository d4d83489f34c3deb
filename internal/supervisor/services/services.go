// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package services adapts Periscope's long-running components to
// suture's Serve pattern.
package services

import (
	"context"
	"fmt"
)

// Runner is a component whose Run blocks until its context ends.
// Satisfied by coordinator.Coordinator and api.Server.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService wraps a Runner as a supervised service.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService names and wraps a blocking Run component.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service. Context cancellation is a normal
// stop, not a failure; anything else restarts the service.
func (s *RunnerService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if err != nil && err != context.Canceled && ctx.Err() == nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *RunnerService) String() string {
	return s.name
}

// FuncService runs an arbitrary blocking function under supervision.
// Used for the library change watcher.
type FuncService struct {
	name string
	fn   func(ctx context.Context)
}

// NewFuncService wraps a blocking function as a supervised service.
func NewFuncService(name string, fn func(ctx context.Context)) *FuncService {
	return &FuncService{name: name, fn: fn}
}

// Serve implements suture.Service.
func (s *FuncService) Serve(ctx context.Context) error {
	s.fn(ctx)
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *FuncService) String() string {
	return s.name
}
