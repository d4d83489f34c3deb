// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package coordinator

import "fmt"

// UnsupportedCommandError reports a command the target device does not
// advertise in its capability set.
type UnsupportedCommandError struct {
	DeviceKey string
	Command   string
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("device %s does not support command %s", e.DeviceKey, e.Command)
}
