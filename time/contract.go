// SPDX-License-Identifier: ice License 1.0

package time

import (
	stdlibtime "time"

	"github.com/goccy/go-json"
)

// Public API.

type (
	Time struct {
		*stdlibtime.Time
	}
)

// Private API.

const (
	millisecondDigits = 13
)

var (
	_ json.UnmarshalerContext                    = (*Time)(nil)
	_ json.MarshalerContext                      = (*Time)(nil)
	_ interface{ MarshalText() ([]byte, error) } = (*Time)(nil)
)
