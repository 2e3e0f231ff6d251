// SPDX-License-Identifier: ice License 1.0

package handshake

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	stdlibtime "time"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/wsgate/extensions"
	"github.com/ice-blockchain/wsgate/terror"
	"github.com/ice-blockchain/wsgate/time"
)

func New(cfg Config) *Negotiator {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	return &Negotiator{cfg: cfg}
}

// Negotiate runs the opening handshake on rw with the default Negotiator.
func Negotiate(rw io.ReadWriter, selector Selector) (*Result, error) {
	return defaultNegotiator.Negotiate(rw, selector)
}

// Negotiate reads the client's upgrade request from rw, validates it and answers with 101 Switching Protocols.
// Nothing is written to rw if the request is rejected. On any error rw must be considered unusable.
func (n *Negotiator) Negotiate(rw io.ReadWriter, selector Selector) (*Result, error) {
	remoteAddr := remoteAddrOf(rw)
	br := bufio.NewReader(rw)
	head, err := n.readHead(rw, br)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read upgrade request from %v", remoteAddr)
	}
	req, err := parse(head, remoteAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "rejected upgrade request from %v", remoteAddr)
	}
	res := &Result{Request: req}
	if selector != nil {
		res.Extensions = selector.SelectExtensions(req.Extensions)
		res.Protocol = selector.SelectProtocol(req.Protocols)
	}
	if err = n.writeResponse(rw, res, remoteAddr); err != nil {
		return nil, errors.Wrapf(err, "failed to answer upgrade request from %v", remoteAddr)
	}
	if buffered := br.Buffered(); buffered > 0 {
		pending, _ := br.Peek(buffered) //nolint:errcheck // Can't fail for already buffered bytes.
		res.Buffered = bytes.Clone(pending)
	}

	return res, nil
}

func (n *Negotiator) readHead(rw io.ReadWriter, br *bufio.Reader) ([]byte, error) {
	if d, ok := rw.(readDeadliner); ok {
		if err := d.SetReadDeadline(time.Deadline(n.cfg.ReadTimeout)); err != nil {
			return nil, transportFailure(err, remoteAddrOf(rw))
		}
		defer d.SetReadDeadline(stdlibtime.Time{}) //nolint:errcheck // Best effort, the stream is handed over right after.
	}
	head := make([]byte, 0, initialHeadSize)
	var partial bool
	for {
		line, err := br.ReadSlice('\n')
		head = append(head, line...)
		if len(head) > n.cfg.MaxHeaderBytes {
			return nil, terror.New(ErrHeaderTooLarge, map[string]any{"field": fieldRequest, "remoteAddr": remoteAddrOf(rw), "limit": n.cfg.MaxHeaderBytes})
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			partial = true

			continue
		}
		if err != nil {
			return nil, transportFailure(err, remoteAddrOf(rw))
		}
		if !partial && len(bytes.TrimRight(line, crlf)) == 0 {
			return head, nil
		}
		partial = false
	}
}

func (n *Negotiator) writeResponse(w io.Writer, res *Result, remoteAddr string) error {
	var resp strings.Builder
	resp.WriteString(statusLine)
	writeHeader(&resp, HeaderUpgrade, upgradeToken)
	writeHeader(&resp, HeaderConnection, connectionToken)
	writeHeader(&resp, HeaderAccept, AcceptToken(res.Request.Key))
	if res.Protocol != "" {
		writeHeader(&resp, HeaderProtocol, res.Protocol)
	}
	if len(res.Extensions) > 0 {
		writeHeader(&resp, HeaderExtensions, extensions.Format(res.Extensions))
	}
	resp.WriteString(crlf)

	if d, ok := w.(writeDeadliner); ok {
		if err := d.SetWriteDeadline(time.Deadline(n.cfg.WriteTimeout)); err != nil {
			return transportFailure(err, remoteAddr)
		}
		defer d.SetWriteDeadline(stdlibtime.Time{}) //nolint:errcheck // Best effort, the stream is handed over right after.
	}
	if _, err := io.WriteString(w, resp.String()); err != nil {
		return transportFailure(err, remoteAddr)
	}

	return nil
}

func writeHeader(sb *strings.Builder, name, value string) {
	sb.WriteString(name)
	sb.WriteString(headerSeparator)
	sb.WriteString(value)
	sb.WriteString(crlf)
}

func transportFailure(err error, remoteAddr string) error {
	var timeout bool
	var netErr net.Error
	if errors.As(err, &netErr) {
		timeout = netErr.Timeout()
	}

	return errors.Wrapf(terror.New(ErrTransport, map[string]any{
		"field":      fieldTransport,
		"remoteAddr": remoteAddr,
		"timeout":    timeout,
	}), "%v", err)
}

func remoteAddrOf(rw any) string {
	if ra, ok := rw.(remoteAddresser); ok && ra.RemoteAddr() != nil {
		return ra.RemoteAddr().String()
	}

	return ""
}
