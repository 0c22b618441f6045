// Package message implements DNS message parsing per RFC 1035.
package message

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/quietwire/mdnsd/internal/errors"
)

// SRVData represents SRV record data per RFC 2782.
//
// SRV records provide the location of services (hostname and port).
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// ParseMessage parses a complete DNS message from wire format per RFC 1035 §4.1.
//
// The message consists of:
//   - Header: 12 bytes (always present)
//   - Question section: Variable length (QDCOUNT entries)
//   - Answer section: Variable length (ANCOUNT entries)
//
//
// Parameters:
//   - msg: The complete DNS message buffer
//
// Returns:
//   - message: The parsed DNS message structure
//   - error: WireFormatError if the message is malformed
func ParseMessage(msg []byte) (*DNSMessage, error) {
	// Parse header
	header, err := ParseHeader(msg)
	if err != nil {
		return nil, err
	}

	offset := 12 // Header is always 12 bytes

	// Parse question section
	questions := make([]Question, header.QDCount)
	for i := uint16(0); i < header.QDCount; i++ {
		question, newOffset, err := ParseQuestion(msg, offset)
		if err != nil {
			return nil, err
		}
		questions[i] = question
		offset = newOffset
	}

	// Parse answer section
	answers := make([]Answer, header.ANCount)
	for i := uint16(0); i < header.ANCount; i++ {
		answer, newOffset, err := ParseAnswer(msg, offset)
		if err != nil {
			return nil, err
		}
		answers[i] = answer
		offset = newOffset
	}

	authorities := make([]Answer, header.NSCount)
	for i := uint16(0); i < header.NSCount; i++ {
		authority, newOffset, err := ParseAnswer(msg, offset)
		if err != nil {
			return nil, err
		}
		authorities[i] = authority
		offset = newOffset
	}

	additionals := make([]Answer, header.ARCount)
	for i := uint16(0); i < header.ARCount; i++ {
		additional, newOffset, err := ParseAnswer(msg, offset)
		if err != nil {
			return nil, err
		}
		additionals[i] = additional
		offset = newOffset
	}

	return &DNSMessage{
		Header:      header,
		Questions:   questions,
		Answers:     answers,
		Authorities: authorities,
		Additionals: additionals,
	}, nil
}

// ParseHeader parses the DNS message header per RFC 1035 §4.1.1.
//
// Header format (12 bytes):
//   - ID (2 bytes): Transaction ID
//   - Flags (2 bytes): QR, OPCODE, AA, TC, RD, RA, Z, RCODE
//   - QDCOUNT (2 bytes): Number of questions
//   - ANCOUNT (2 bytes): Number of answers
//   - NSCOUNT (2 bytes): Number of authority records
//   - ARCOUNT (2 bytes): Number of additional records
//
//
// Parameters:
//   - msg: The complete DNS message buffer (must be at least 12 bytes)
//
// Returns:
//   - header: The parsed DNS header
//   - error: WireFormatError if the header is malformed
func ParseHeader(msg []byte) (DNSHeader, error) {
	if len(msg) < 12 {
		return DNSHeader{}, &errors.WireFormatError{
			Operation: "parse header",
			Offset:    0,
			Message:   fmt.Sprintf("message too short for header: %d bytes, expected at least 12", len(msg)),
		}
	}

	header := DNSHeader{
		ID:      binary.BigEndian.Uint16(msg[0:2]),
		Flags:   binary.BigEndian.Uint16(msg[2:4]),
		QDCount: binary.BigEndian.Uint16(msg[4:6]),
		ANCount: binary.BigEndian.Uint16(msg[6:8]),
		NSCount: binary.BigEndian.Uint16(msg[8:10]),
		ARCount: binary.BigEndian.Uint16(msg[10:12]),
	}

	return header, nil
}

// ParseQuestion parses a DNS question section entry per RFC 1035 §4.1.2.
//
// Question format:
//   - QNAME (variable): Domain name (label-encoded, can be compressed)
//   - QTYPE (2 bytes): Query type
//   - QCLASS (2 bytes): Query class
//
//
// Parameters:
//   - msg: The complete DNS message buffer
//   - offset: The starting offset of this question entry
//
// Returns:
//   - question: The parsed question
//   - newOffset: The offset immediately after this question entry
//   - error: WireFormatError if the question is malformed
func ParseQuestion(msg []byte, offset int) (Question, int, error) {
	// Parse QNAME
	qname, newOffset, err := ParseName(msg, offset)
	if err != nil {
		return Question{}, offset, err
	}

	// Check bounds for QTYPE and QCLASS (4 bytes)
	if newOffset+4 > len(msg) {
		return Question{}, offset, &errors.WireFormatError{
			Operation: "parse question",
			Offset:    newOffset,
			Message:   "truncated question: not enough bytes for QTYPE and QCLASS",
		}
	}

	// Parse QTYPE
	qtype := binary.BigEndian.Uint16(msg[newOffset : newOffset+2])

	// Parse QCLASS
	qclass := binary.BigEndian.Uint16(msg[newOffset+2 : newOffset+4])

	question := Question{
		QNAME:  qname,
		QTYPE:  qtype,
		QCLASS: qclass,
	}

	return question, newOffset + 4, nil
}

// ParseAnswer parses a DNS answer/authority/additional section entry per RFC 1035 §4.1.3.
//
// Answer format:
//   - NAME (variable): Domain name (label-encoded, can be compressed)
//   - TYPE (2 bytes): Record type
//   - CLASS (2 bytes): Record class
//   - TTL (4 bytes): Time-to-live
//   - RDLENGTH (2 bytes): Resource data length
//   - RDATA (variable): Resource data (RDLENGTH bytes)
//
//
// Parameters:
//   - msg: The complete DNS message buffer
//   - offset: The starting offset of this answer entry
//
// Returns:
//   - answer: The parsed answer
//   - newOffset: The offset immediately after this answer entry
//   - error: WireFormatError if the answer is malformed
func ParseAnswer(msg []byte, offset int) (Answer, int, error) {
	// Parse NAME
	name, newOffset, err := ParseName(msg, offset)
	if err != nil {
		return Answer{}, offset, err
	}

	// Check bounds for TYPE, CLASS, TTL, RDLENGTH (10 bytes)
	if newOffset+10 > len(msg) {
		return Answer{}, offset, &errors.WireFormatError{
			Operation: "parse answer",
			Offset:    newOffset,
			Message:   "truncated answer: not enough bytes for fixed fields",
		}
	}

	// Parse TYPE
	rtype := binary.BigEndian.Uint16(msg[newOffset : newOffset+2])

	// Parse CLASS
	class := binary.BigEndian.Uint16(msg[newOffset+2 : newOffset+4])

	// Parse TTL
	ttl := binary.BigEndian.Uint32(msg[newOffset+4 : newOffset+8])

	// Parse RDLENGTH
	rdlength := binary.BigEndian.Uint16(msg[newOffset+8 : newOffset+10])

	newOffset += 10

	// Check bounds for RDATA
	if newOffset+int(rdlength) > len(msg) {
		return Answer{}, offset, &errors.WireFormatError{
			Operation: "parse answer",
			Offset:    newOffset,
			Message:   fmt.Sprintf("truncated RDATA: expected %d bytes, only %d available", rdlength, len(msg)-newOffset),
		}
	}

	// Extract RDATA
	rdata := make([]byte, rdlength)
	copy(rdata, msg[newOffset:newOffset+int(rdlength)])

	var target string
	switch rtype {
	case 12: // PTR: RDATA is a single domain name, starting right here.
		target, _, err = ParseName(msg, newOffset)
		if err != nil {
			return Answer{}, offset, err
		}
	case 33: // SRV: 3 uint16 fields then a domain name.
		if rdlength < 6 {
			return Answer{}, offset, &errors.WireFormatError{Operation: "parse SRV RDATA", Offset: newOffset, Message: fmt.Sprintf("truncated SRV record: %d bytes, expected at least 6", rdlength)}
		}
		target, _, err = ParseName(msg, newOffset+6)
		if err != nil {
			return Answer{}, offset, err
		}
	}

	answer := Answer{
		NAME:     name,
		TYPE:     rtype,
		CLASS:    class,
		TTL:      ttl,
		RDLENGTH: rdlength,
		RDATA:    rdata,
		Target:   target,
	}

	return answer, newOffset + int(rdlength), nil
}

// HINFOData represents HINFO record data per RFC 1035 §3.3.2: two
// character-strings describing the CPU and operating system.
type HINFOData struct {
	CPU string
	OS  string
}

// ParseRDATA parses a standalone RDATA slice into its Go type:
//
//   - A (1): IPv4 address → net.IP
//   - PTR (12): Domain name → string
//   - HINFO (13): CPU/OS pair → HINFOData
//   - TXT (16): Text strings → []string
//   - SRV (33): Service location → SRVData
//
// Because rdata here has no surrounding message, a PTR/SRV name containing
// a compression pointer that reaches outside rdata cannot be resolved —
// callers parsing a live message should use the Target field ParseAnswer
// already decoded against the full buffer instead of re-deriving it here.
func ParseRDATA(recordType uint16, rdata []byte) (interface{}, error) {
	switch recordType {
	case 1: // A record: IPv4 address (4 bytes)
		if len(rdata) != 4 {
			return nil, &errors.WireFormatError{
				Operation: "parse A record",
				Offset:    0,
				Message:   fmt.Sprintf("invalid A record length: %d bytes, expected 4", len(rdata)),
			}
		}
		return net.IPv4(rdata[0], rdata[1], rdata[2], rdata[3]), nil

	case 12: // PTR record: Domain name
		name, _, err := ParseName(rdata, 0)
		if err != nil {
			return nil, err
		}
		return name, nil

	case 16: // TXT record: Text strings
		var strings []string
		offset := 0
		for offset < len(rdata) {
			// Each string is length-prefixed
			if offset >= len(rdata) {
				break
			}
			length := int(rdata[offset])
			offset++

			if offset+length > len(rdata) {
				return nil, &errors.WireFormatError{
					Operation: "parse TXT record",
					Offset:    offset,
					Message:   fmt.Sprintf("truncated TXT string: expected %d bytes, only %d available", length, len(rdata)-offset),
				}
			}

			str := string(rdata[offset : offset+length])
			strings = append(strings, str)
			offset += length
		}
		return strings, nil

	case 33: // SRV record: Priority, Weight, Port, Target
		if len(rdata) < 6 {
			return nil, &errors.WireFormatError{
				Operation: "parse SRV record",
				Offset:    0,
				Message:   fmt.Sprintf("truncated SRV record: %d bytes, expected at least 6", len(rdata)),
			}
		}

		priority := binary.BigEndian.Uint16(rdata[0:2])
		weight := binary.BigEndian.Uint16(rdata[2:4])
		port := binary.BigEndian.Uint16(rdata[4:6])

		// Target is a domain name starting at offset 6
		target, _, err := ParseName(rdata, 6)
		if err != nil {
			return nil, err
		}

		return SRVData{
			Priority: priority,
			Weight:   weight,
			Port:     port,
			Target:   target,
		}, nil

	case 13: // HINFO record: two character-strings, CPU then OS
		cpu, rest, err := parseCharacterString(rdata)
		if err != nil {
			return nil, err
		}
		osName, _, err := parseCharacterString(rest)
		if err != nil {
			return nil, err
		}
		return HINFOData{CPU: cpu, OS: osName}, nil

	default:
		return nil, &errors.WireFormatError{
			Operation: "parse RDATA",
			Offset:    0,
			Message:   fmt.Sprintf("unsupported record type: %d", recordType),
		}
	}
}

// parseCharacterString reads one length-prefixed character-string per
// RFC 1035 §3.3 and returns it along with the remainder of buf.
func parseCharacterString(buf []byte) (string, []byte, error) {
	if len(buf) == 0 {
		return "", nil, &errors.WireFormatError{Operation: "parse character-string", Offset: 0, Message: "empty buffer"}
	}
	length := int(buf[0])
	if 1+length > len(buf) {
		return "", nil, &errors.WireFormatError{Operation: "parse character-string", Offset: 0, Message: fmt.Sprintf("truncated: expected %d bytes, only %d available", length, len(buf)-1)}
	}
	return string(buf[1 : 1+length]), buf[1+length:], nil
}
