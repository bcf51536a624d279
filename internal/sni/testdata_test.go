package sni

// buildClientHelloRecord constructs a minimal, well-formed single-record
// TLS 1.2 ClientHello carrying a server_name extension for hostname,
// exactly the shape PeekClientHello parses.
func buildClientHelloRecord(hostname string) []byte {
	name := []byte(hostname)

	serverNameEntry := append([]byte{0x00}, u16(len(name))...) // name_type=host_name, name length
	serverNameEntry = append(serverNameEntry, name...)
	serverNameList := append(u16(len(serverNameEntry)), serverNameEntry...)
	sniExt := append([]byte{0x00, 0x00}, u16(len(serverNameList))...) // extension type=server_name
	sniExt = append(sniExt, serverNameList...)

	extensions := sniExt

	body := []byte{0x03, 0x03} // client_version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)   // session_id length
	body = append(body, u16(2)...)
	body = append(body, 0x13, 0x01) // one cipher suite
	body = append(body, 0x01, 0x00) // one compression method, null
	body = append(body, u16(len(extensions))...)
	body = append(body, extensions...)

	handshake := append([]byte{0x01}, u24(len(body))...) // handshake type=client_hello
	handshake = append(handshake, body...)

	record := append([]byte{0x16, 0x03, 0x01}, u16(len(handshake))...)
	record = append(record, handshake...)
	return record
}

func u16(n int) []byte { return []byte{byte(n >> 8), byte(n)} }

func u24(n int) []byte { return []byte{byte(n >> 16), byte(n >> 8), byte(n)} }
