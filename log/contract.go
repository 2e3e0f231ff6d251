// SPDX-License-Identifier: ice License 1.0

package log

// Private API.

const (
	configKey = "logger"
	jsonEnc   = "json"
	stdout    = "stdout"
)

type (
	cfg struct {
		Encoder string `yaml:"encoder"`
		Level   string `yaml:"level"`
		// Output is stderr (default) or stdout.
		Output string `yaml:"output"`
		// DebugBurst caps debug events per second, f.i. rejected handshakes while the endpoint is being scanned. 0 keeps all of them.
		DebugBurst uint32 `yaml:"debugBurst"`
	}
)
