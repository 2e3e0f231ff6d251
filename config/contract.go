// SPDX-License-Identifier: ice License 1.0

package config

// Private API.

const (
	applicationYAML = "application.yaml"
	envPrefix       = "WSGATE"
	maxDotEnvDepth  = 5
)
