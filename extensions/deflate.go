// SPDX-License-Identifier: ice License 1.0

package extensions

import (
	"strings"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws/wsflate"
)

// Deflate is permessage-deflate (RFC 7692) without context takeover in either direction,
// the only mode sessions compress and decompress messages in.
func Deflate() Extension {
	return deflate{}
}

// IsDeflate reports whether name is the permessage-deflate extension.
func IsDeflate(name string) bool {
	return strings.EqualFold(name, wsflate.ExtensionName)
}

func (deflate) Name() string {
	return wsflate.ExtensionName
}

func (deflate) Negotiate(offer Option) (Option, bool) {
	ext := wsflate.Extension{Parameters: wsflate.DefaultParameters}
	accepted, err := ext.Negotiate(toHTTPHead(offer))
	if err != nil || accepted.Size() == 0 {
		return Option{}, false
	}

	return fromHTTPHead(accepted), true
}

func toHTTPHead(opt Option) httphead.Option {
	converted := httphead.Option{Name: []byte(strings.ToLower(opt.Name))}
	for _, p := range opt.Params {
		var value []byte
		if p.Value != "" {
			value = []byte(p.Value)
		}
		converted.Parameters.Set([]byte(p.Name), value)
	}

	return converted
}

func fromHTTPHead(opt httphead.Option) Option {
	converted := Option{Name: string(opt.Name)}
	opt.Parameters.ForEach(func(k, v []byte) bool {
		converted.Params = append(converted.Params, Param{Name: string(k), Value: string(v)})

		return true
	})

	return converted
}
