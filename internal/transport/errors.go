// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package transport

import (
	"errors"
)

// Failure taxonomy for remote server calls. Callers branch on these with
// errors.Is; the wrapped error carries the operation detail.
var (
	// ErrUnavailable covers network, DNS, and timeout failures plus 5xx
	// responses. Transient: retried on the next scheduled poll and never
	// fatal to the process.
	ErrUnavailable = errors.New("server unavailable")

	// ErrAuthRejected covers 401/403 responses. Fatal until reconfigured;
	// retrying against invalid credentials is a hot loop, not recovery.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrMalformed covers schema mismatches in otherwise successful
	// responses. A single-cycle failure: logged and skipped.
	ErrMalformed = errors.New("malformed response")
)

// IsUnavailable reports whether err is a transient transport failure.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsAuthRejected reports whether err is a credential failure.
func IsAuthRejected(err error) bool { return errors.Is(err, ErrAuthRejected) }

// IsMalformed reports whether err is a decode failure.
func IsMalformed(err error) bool { return errors.Is(err, ErrMalformed) }
