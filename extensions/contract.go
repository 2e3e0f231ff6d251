// SPDX-License-Identifier: ice License 1.0

// Package extensions holds the WebSocket extensions and subprotocols a server supports
// and selects, per handshake, the subset a client offered.
package extensions

import (
	"sync"

	"github.com/pkg/errors"
)

// Public API.

type (
	// Param is a single extension parameter; Value is empty for flag parameters, f.i. `server_no_context_takeover`.
	Param struct {
		Name  string `json:"name"`
		Value string `json:"value,omitempty"`
	}
	// Option is one element of a Sec-WebSocket-Extensions list.
	Option struct {
		Name   string  `json:"name"`
		Params []Param `json:"params,omitempty"`
	}
	// Extension decides whether a client offer of the extension named Name() is acceptable
	// and which parameters the server answers with.
	Extension interface {
		Name() string
		Negotiate(offer Option) (accepted Option, ok bool)
	}
	// Registry is the ordered set of server-supported extensions and subprotocols.
	// Registration order is the server's preference order.
	// It is safe for concurrent use; registration is rejected after Freeze.
	Registry struct {
		extensions []Extension
		protocols  []string
		mx         sync.RWMutex
		frozen     bool
	}
)

var (
	ErrDuplicateExtension = errors.New("extension already registered")
	ErrDuplicateProtocol  = errors.New("subprotocol already registered")
	ErrRegistryFrozen     = errors.New("registry is frozen")
	ErrInvalidName        = errors.New("invalid token")
	ErrMalformedOffer     = errors.New("malformed extension offer")
)

// Private API.

type (
	named   string
	deflate struct{}
)

const (
	listSeparator  = ", "
	paramSeparator = "; "
)
