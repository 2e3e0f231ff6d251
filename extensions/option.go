// SPDX-License-Identifier: ice License 1.0

package extensions

import (
	"strings"

	"github.com/gobwas/httphead"
	"github.com/pkg/errors"
)

// ParseOffers parses the values of every Sec-WebSocket-Extensions header of a request, in order.
func ParseOffers(headerValues ...string) ([]Option, error) {
	var offers []Option
	for _, value := range headerValues {
		if strings.TrimSpace(value) == "" {
			continue
		}
		index := -1
		ok := httphead.ScanOptions([]byte(value), func(idx int, name, attr, val []byte) httphead.Control {
			if idx != index {
				index = idx
				offers = append(offers, Option{Name: string(name)})
			}
			if attr != nil {
				current := &offers[len(offers)-1]
				current.Params = append(current.Params, Param{Name: string(attr), Value: string(val)})
			}

			return httphead.ControlContinue
		})
		if !ok {
			return nil, errors.Wrapf(ErrMalformedOffer, "%q", value)
		}
	}

	return offers, nil
}

// Format renders options as a Sec-WebSocket-Extensions header value.
func Format(opts []Option) string {
	rendered := make([]string, 0, len(opts))
	for _, opt := range opts {
		rendered = append(rendered, opt.String())
	}

	return strings.Join(rendered, listSeparator)
}

func (o Option) String() string {
	var sb strings.Builder
	sb.WriteString(o.Name)
	for _, p := range o.Params {
		sb.WriteString(paramSeparator)
		sb.WriteString(p.Name)
		if p.Value == "" {
			continue
		}
		sb.WriteByte('=')
		if isToken(p.Value) {
			sb.WriteString(p.Value)
		} else {
			sb.WriteString(quote(p.Value))
		}
	}

	return sb.String()
}

func (o Option) Param(name string) (string, bool) {
	for _, p := range o.Params {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}

	return "", false
}

func quote(value string) string {
	var sb strings.Builder
	sb.Grow(len(value) + 2) //nolint:mnd // Two quotes.
	sb.WriteByte('"')
	for i := range len(value) {
		if value[i] == '"' || value[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(value[i])
	}
	sb.WriteByte('"')

	return sb.String()
}
