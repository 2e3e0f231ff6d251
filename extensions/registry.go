// SPDX-License-Identifier: ice License 1.0

package extensions

import (
	"strings"

	"github.com/gobwas/httphead"
	"github.com/pkg/errors"
)

func NewRegistry() *Registry {
	return new(Registry)
}

// Named returns Deflate for permessage-deflate. Any other name becomes a marker extension:
// it has no effect on framing, so it accepts parameterless offers only and answers with the bare name.
func Named(name string) Extension {
	if IsDeflate(name) {
		return Deflate()
	}

	return named(name)
}

func (n named) Name() string {
	return string(n)
}

func (n named) Negotiate(offer Option) (Option, bool) {
	if len(offer.Params) > 0 {
		return Option{}, false
	}

	return Option{Name: string(n)}, true
}

func (r *Registry) Register(ext Extension) error {
	if ext == nil || !isToken(ext.Name()) {
		return errors.Wrapf(ErrInvalidName, "extension %#v", ext)
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.frozen {
		return errors.Wrapf(ErrRegistryFrozen, "can't register extension %v", ext.Name())
	}
	for _, registered := range r.extensions {
		if strings.EqualFold(registered.Name(), ext.Name()) {
			return errors.Wrapf(ErrDuplicateExtension, "extension %v", ext.Name())
		}
	}
	r.extensions = append(r.extensions, ext)

	return nil
}

func (r *Registry) RegisterProtocol(name string) error {
	if !isToken(name) {
		return errors.Wrapf(ErrInvalidName, "subprotocol %q", name)
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.frozen {
		return errors.Wrapf(ErrRegistryFrozen, "can't register subprotocol %v", name)
	}
	for _, registered := range r.protocols {
		if registered == name {
			return errors.Wrapf(ErrDuplicateProtocol, "subprotocol %v", name)
		}
	}
	r.protocols = append(r.protocols, name)

	return nil
}

// Freeze rejects any further registration. Listeners freeze their registry when they start.
func (r *Registry) Freeze() {
	if r == nil {
		return
	}
	r.mx.Lock()
	r.frozen = true
	r.mx.Unlock()
}

func (r *Registry) Frozen() bool {
	if r == nil {
		return true
	}
	r.mx.RLock()
	defer r.mx.RUnlock()

	return r.frozen
}

// SelectExtensions returns the accepted subset of offered, ordered by server preference.
// For every registered extension only the first offer it accepts is used.
func (r *Registry) SelectExtensions(offered []Option) []Option {
	if r == nil || len(offered) == 0 {
		return nil
	}
	r.mx.RLock()
	defer r.mx.RUnlock()
	var selected []Option
	for _, ext := range r.extensions {
		for _, offer := range offered {
			if !strings.EqualFold(offer.Name, ext.Name()) {
				continue
			}
			if accepted, ok := ext.Negotiate(offer); ok {
				selected = append(selected, accepted)

				break
			}
		}
	}

	return selected
}

// SelectProtocol returns the first registered subprotocol the client offered, "" if none.
// Subprotocol names are case-sensitive.
func (r *Registry) SelectProtocol(offered []string) string {
	if r == nil || len(offered) == 0 {
		return ""
	}
	r.mx.RLock()
	defer r.mx.RUnlock()
	for _, protocol := range r.protocols {
		for _, offer := range offered {
			if offer == protocol {
				return protocol
			}
		}
	}

	return ""
}

func (r *Registry) Extensions() []string {
	if r == nil {
		return nil
	}
	r.mx.RLock()
	defer r.mx.RUnlock()
	names := make([]string, 0, len(r.extensions))
	for _, ext := range r.extensions {
		names = append(names, ext.Name())
	}

	return names
}

func (r *Registry) Protocols() []string {
	if r == nil {
		return nil
	}
	r.mx.RLock()
	defer r.mx.RUnlock()

	return append([]string(nil), r.protocols...)
}

func isToken(name string) bool {
	if name == "" {
		return false
	}
	var tokens int
	var matched bool
	ok := httphead.ScanTokens([]byte(name), func(v []byte) bool {
		tokens++
		matched = string(v) == name

		return matched
	})

	return ok && matched && tokens == 1
}
