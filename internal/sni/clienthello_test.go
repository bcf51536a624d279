package sni

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeekClientHelloExtractsSNI(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	record := buildClientHelloRecord("a.example")
	extra := []byte("trailing application data")

	go func() {
		client.Write(record)
		client.Write(extra)
	}()

	hostname, prefix, err := PeekClientHello(server)
	require.NoError(t, err)
	require.Equal(t, "a.example", hostname)
	require.Equal(t, record, prefix)
}

func TestPeekClientHelloRejectsNonTLS(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte("GET / HTTP/1.1\r\n"))
	}()

	_, _, err := PeekClientHello(server)
	require.ErrorIs(t, err, ErrNotTLS)
}

func TestPeekClientHelloTimesOutOnIdleClient(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping slow timeout test in short mode")
	}
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	start := time.Now()
	_, _, err := PeekClientHello(server)
	require.Error(t, err)
	require.Less(t, time.Since(start), clientHelloTimeout+2*time.Second)
}
