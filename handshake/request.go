// SPDX-License-Identifier: ice License 1.0

package handshake

import (
	"bufio"
	"bytes"
	"crypto/sha1" //nolint:gosec // Mandated by RFC 6455.
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/gobwas/httphead"
	"github.com/pkg/errors"

	"github.com/ice-blockchain/wsgate/extensions"
	"github.com/ice-blockchain/wsgate/terror"
)

// AcceptToken is the Sec-WebSocket-Accept value proving the server read key.
func AcceptToken(key string) string {
	digest := sha1.Sum([]byte(key + MagicGUID)) //nolint:gosec // Mandated by RFC 6455.

	return base64.StdEncoding.EncodeToString(digest[:])
}

//nolint:funlen,gocyclo,revive,cyclop // Validation is a flat, ordered list of checks.
func parse(head []byte, remoteAddr string) (*Request, error) {
	httpReq, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		return nil, errors.Wrapf(rejected(ErrMalformedRequest, fieldRequest, remoteAddr), "%v", err)
	}
	if httpReq.Method != http.MethodGet {
		return nil, rejected(ErrBadMethod, fieldRequest, remoteAddr)
	}
	if !httpReq.ProtoAtLeast(1, 1) {
		return nil, rejected(ErrBadProtocol, fieldRequest, remoteAddr)
	}
	if httpReq.Host == "" {
		return nil, rejected(ErrBadHost, HeaderHost, remoteAddr)
	}
	if !containsToken(httpReq.Header.Values(HeaderUpgrade), upgradeToken) {
		return nil, rejected(ErrBadUpgrade, HeaderUpgrade, remoteAddr)
	}
	if !containsToken(httpReq.Header.Values(HeaderConnection), connectionToken) {
		return nil, rejected(ErrBadConnection, HeaderConnection, remoteAddr)
	}
	versions := httpReq.Header.Values(HeaderVersion)
	if len(versions) != 1 || strings.TrimSpace(versions[0]) != strconv.Itoa(SupportedVersion) {
		return nil, rejected(ErrBadVersion, HeaderVersion, remoteAddr)
	}
	keys := httpReq.Header.Values(HeaderKey)
	if len(keys) != 1 || !validKey(strings.TrimSpace(keys[0])) {
		return nil, rejected(ErrBadKey, HeaderKey, remoteAddr)
	}
	protocols, ok := tokens(httpReq.Header.Values(HeaderProtocol))
	if !ok {
		return nil, rejected(ErrBadProtocolHeader, HeaderProtocol, remoteAddr)
	}
	offers, err := extensions.ParseOffers(httpReq.Header.Values(HeaderExtensions)...)
	if err != nil {
		return nil, errors.Wrapf(rejected(ErrBadExtensionsHeader, HeaderExtensions, remoteAddr), "%v", err)
	}
	header := httpReq.Header.Clone()
	header.Set(HeaderHost, httpReq.Host)

	return &Request{
		Header:     header,
		Method:     httpReq.Method,
		Path:       httpReq.RequestURI,
		Proto:      httpReq.Proto,
		Host:       httpReq.Host,
		Key:        strings.TrimSpace(keys[0]),
		RemoteAddr: remoteAddr,
		Protocols:  protocols,
		Extensions: offers,
		Version:    SupportedVersion,
	}, nil
}

func rejected(sentinel error, field, remoteAddr string) error {
	return terror.New(sentinel, map[string]any{"field": field, "remoteAddr": remoteAddr})
}

func validKey(key string) bool {
	decoded, err := base64.StdEncoding.DecodeString(key)

	return err == nil && len(decoded) == keyLength
}

func containsToken(values []string, token string) bool {
	list, ok := tokens(values)
	if !ok {
		return false
	}
	for _, v := range list {
		if strings.EqualFold(v, token) {
			return true
		}
	}

	return false
}

// Parses comma separated token lists, f.i. `Connection: keep-alive, Upgrade`, across every header value.
func tokens(values []string) ([]string, bool) {
	var list []string
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if ok := httphead.ScanTokens([]byte(value), func(v []byte) bool {
			list = append(list, string(v))

			return true
		}); !ok {
			return nil, false
		}
	}

	return list, true
}
