// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package api exposes the local read and command surface: session
// snapshots, library browsing, operational status, and remote control
// command delivery.
package api

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/periscope/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CommandRequest is the validated body of POST /sessions/{deviceKey}/command.
type CommandRequest struct {
	Name      string            `json:"name" validate:"required,min=1,max=64,alphanum"`
	Arguments map[string]string `json:"arguments" validate:"omitempty,max=32"`
}

// BrowseRequest is the validated query of GET /library/{containerID}.
type BrowseRequest struct {
	ContainerID string `validate:"omitempty,max=128"`
	Cursor      string `validate:"omitempty,max=256"`
}

// validateRequest runs struct validation and flattens failures into one
// API error.
func validateRequest(v interface{}) *models.APIError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &models.APIError{Code: "VALIDATION_ERROR", Message: "invalid request"}
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" failed "+fe.Tag())
	}
	return &models.APIError{
		Code:    "VALIDATION_ERROR",
		Message: "invalid request parameters",
		Details: strings.Join(fields, "; "),
	}
}
