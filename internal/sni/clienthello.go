package sni

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dreadl0ck/tlsx"
)

// recordHeaderLen is the TLS record layer header: 1 byte content type,
// 2 bytes version, 2 bytes length.
const recordHeaderLen = 5

const (
	contentTypeHandshake = 0x16
	handshakeTypeClient  = 0x01
	handshakeHeaderLen   = 4 // 1 byte type, 3 byte length
)

// ErrNotTLS is returned when the first bytes on the connection are not
// a TLS handshake record.
var ErrNotTLS = errors.New("sni: not a TLS ClientHello")

// clientHelloTimeout bounds how long PeekClientHello will wait for a
// complete ClientHello before giving up (spec §4.2: "inactivity timeout
// of 5s on the read").
const clientHelloTimeout = 5 * time.Second

// PeekClientHello reads the ClientHello off conn and returns the SNI
// hostname it carries, along with every byte read in the process so
// the caller can replay them to the upstream unchanged. It never
// consumes bytes beyond the ClientHello handshake message.
func PeekClientHello(conn net.Conn) (hostname string, prefix []byte, err error) {
	deadline := time.Now().Add(clientHelloTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", nil, fmt.Errorf("set read deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	var buf bytes.Buffer
	handshake, err := readHandshakeMessage(conn, &buf)
	if err != nil {
		return "", buf.Bytes(), err
	}

	// tlsx parses a whole TLS record, header included, so the
	// reassembled handshake message is re-framed as one record.
	raw := buf.Bytes()
	record := append([]byte{contentTypeHandshake, raw[1], raw[2], byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)

	var hello tlsx.ClientHelloBasic
	if err := hello.Unmarshal(record); err != nil {
		return "", buf.Bytes(), fmt.Errorf("parse client hello: %w", err)
	}
	if hello.SNI == "" {
		return "", buf.Bytes(), fmt.Errorf("client hello carries no server name")
	}
	return hello.SNI, buf.Bytes(), nil
}

// readHandshakeMessage reads whole TLS records off r, appending
// everything read to buf, until it has assembled a complete handshake
// message starting with the ClientHello type byte. A ClientHello that
// spans more than one record (rare, but legal) is reassembled across
// records; only handshake records are accepted.
func readHandshakeMessage(r net.Conn, buf *bytes.Buffer) ([]byte, error) {
	var handshake []byte

	for {
		header := make([]byte, recordHeaderLen)
		if _, err := readFull(r, buf, header); err != nil {
			return nil, fmt.Errorf("read record header: %w", err)
		}
		if header[0] != contentTypeHandshake {
			return nil, ErrNotTLS
		}
		recordLen := int(binary.BigEndian.Uint16(header[3:5]))
		if recordLen <= 0 || recordLen > 1<<16 {
			return nil, fmt.Errorf("%w: implausible record length %d", ErrNotTLS, recordLen)
		}

		body := make([]byte, recordLen)
		if _, err := readFull(r, buf, body); err != nil {
			return nil, fmt.Errorf("read record body: %w", err)
		}
		handshake = append(handshake, body...)

		if len(handshake) < handshakeHeaderLen {
			continue
		}
		if handshake[0] != handshakeTypeClient {
			return nil, ErrNotTLS
		}
		want := int(handshake[1])<<16 | int(handshake[2])<<8 | int(handshake[3])
		if len(handshake)-handshakeHeaderLen >= want {
			return handshake, nil
		}
	}
}

// readFull reads exactly len(dst) bytes from r into dst, mirroring
// every byte read into buf so a caller that aborts partway through
// still has what was consumed.
func readFull(r net.Conn, buf *bytes.Buffer, dst []byte) (int, error) {
	n := 0
	for n < len(dst) {
		m, err := r.Read(dst[n:])
		if m > 0 {
			buf.Write(dst[n : n+m])
			n += m
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
