// SPDX-License-Identifier: ice License 1.0

package terror

// Public API.

type (
	// Err is an error that carries structured data about its cause, f.i. the offending header of a failed handshake.
	Err struct {
		error
		Data map[string]any `json:"data"`
	}
)
