// SPDX-License-Identifier: ice License 1.0

// Package handshake performs the server side of the WebSocket opening handshake (RFC 6455, section 4.2)
// on a raw transport stream.
package handshake

import (
	"net"
	"net/http"
	stdlibtime "time"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/wsgate/extensions"
)

// Public API.

type (
	// Request is the parsed upgrade request.
	// Header lookups are case-insensitive; the values are kept as received.
	Request struct {
		Header     http.Header         `json:"header"`
		Method     string              `json:"method"`
		Path       string              `json:"path"`
		Proto      string              `json:"proto"`
		Host       string              `json:"host"`
		Key        string              `json:"key"`
		RemoteAddr string              `json:"remoteAddr,omitempty"`
		Protocols  []string            `json:"protocols,omitempty"`
		Extensions []extensions.Option `json:"extensions,omitempty"`
		Version    int                 `json:"version"`
	}
	// Result is a successful negotiation.
	Result struct {
		Request    *Request            `json:"request"`
		Protocol   string              `json:"protocol,omitempty"`
		Extensions []extensions.Option `json:"extensions,omitempty"`
		// Buffered holds bytes the client sent after the request head; they belong to the WebSocket stream.
		Buffered []byte `json:"-"`
	}
	// Selector picks the negotiated extensions and subprotocol, *extensions.Registry being the canonical one.
	Selector interface {
		SelectExtensions(offered []extensions.Option) []extensions.Option
		SelectProtocol(offered []string) string
	}
	Config struct {
		// ReadTimeout bounds reading the whole request head, if the transport supports deadlines.
		ReadTimeout stdlibtime.Duration `yaml:"readTimeout"`
		// WriteTimeout bounds writing the 101 response, if the transport supports deadlines.
		WriteTimeout   stdlibtime.Duration `yaml:"writeTimeout"`
		MaxHeaderBytes int                 `yaml:"maxHeaderBytes"`
	}
	// Negotiator is stateless between calls and safe for concurrent use.
	Negotiator struct {
		cfg Config
	}
)

const (
	SupportedVersion      = 13
	MagicGUID             = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	DefaultReadTimeout    = 10 * stdlibtime.Second
	DefaultWriteTimeout   = 10 * stdlibtime.Second
	DefaultMaxHeaderBytes = 8 << 10

	HeaderHost       = "Host"
	HeaderUpgrade    = "Upgrade"
	HeaderConnection = "Connection"
	HeaderKey        = "Sec-WebSocket-Key"
	HeaderVersion    = "Sec-WebSocket-Version"
	HeaderAccept     = "Sec-WebSocket-Accept"
	HeaderProtocol   = "Sec-WebSocket-Protocol"
	HeaderExtensions = "Sec-WebSocket-Extensions"
)

// Every failure returned by Negotiate wraps one of these in a *terror.Err,
// with the offending header (or `request`/`transport`) under the `field` key.
var (
	ErrMalformedRequest    = errors.New("malformed upgrade request")
	ErrHeaderTooLarge      = errors.New("request head too large")
	ErrBadMethod           = errors.New("method must be GET")
	ErrBadProtocol         = errors.New("HTTP/1.1 or later is required")
	ErrBadHost             = errors.New("missing Host")
	ErrBadUpgrade          = errors.New("Upgrade must contain websocket")
	ErrBadConnection       = errors.New("Connection must contain Upgrade")
	ErrBadVersion          = errors.New("unsupported Sec-WebSocket-Version")
	ErrBadKey              = errors.New("Sec-WebSocket-Key must be base64 of 16 bytes")
	ErrBadProtocolHeader   = errors.New("malformed Sec-WebSocket-Protocol")
	ErrBadExtensionsHeader = errors.New("malformed Sec-WebSocket-Extensions")
	ErrTransport           = errors.New("transport failure")
)

// Private API.

type (
	readDeadliner interface {
		SetReadDeadline(t stdlibtime.Time) error
	}
	writeDeadliner interface {
		SetWriteDeadline(t stdlibtime.Time) error
	}
	remoteAddresser interface {
		RemoteAddr() net.Addr
	}
)

const (
	keyLength       = 16
	initialHeadSize = 512
	fieldRequest    = "request"
	fieldTransport  = "transport"
	statusLine      = "HTTP/1.1 101 Switching Protocols\r\n"
	crlf            = "\r\n"
	headerSeparator = ": "
	upgradeToken    = "websocket"
	connectionToken = "Upgrade"
)

//nolint:gochecknoglobals // Stateless default.
var defaultNegotiator = New(Config{})
