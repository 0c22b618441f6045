// Package message implements DNS message construction per RFC 6762.
package message

import (
	"crypto/rand"
	"math/big"

	"github.com/quietwire/mdnsd/internal/errors"
	"github.com/quietwire/mdnsd/internal/protocol"
)

// BuildQuery constructs a one-question mDNS query message per RFC 6762 §18:
// QR=0 (§18.2), OPCODE=0 (§18.3), AA=0 (§18.4).
func BuildQuery(name string, recordType uint16) ([]byte, error) {
	return BuildQueryMulti([]Question{{QNAME: name, QTYPE: recordType, QCLASS: uint16(protocol.ClassIN)}}, nil)
}

// BuildQueryMulti constructs a query carrying one or more questions, plus an
// optional known-answer section per RFC 6762 §7.1 so a querier's cache
// suppresses responses it doesn't need repeated.
func BuildQueryMulti(questions []Question, knownAnswers []*ResourceRecord) ([]byte, error) {
	for _, q := range questions {
		if !protocol.RecordType(q.QTYPE).IsSupported() {
			return nil, &errors.ValidationError{Field: "recordType", Value: q.QTYPE, Message: "unsupported record type"}
		}
	}

	answers := make([]Answer, 0, len(knownAnswers))
	for _, rr := range knownAnswers {
		answers = append(answers, resourceRecordToAnswer(rr))
	}

	msg := &DNSMessage{
		Header: DNSHeader{
			ID:    randomQueryID(),
			Flags: 0x0000,
		},
		Questions: questions,
		Answers:   answers,
	}

	return EncodeMessage(msg)
}

// BuildProbe constructs a probe query per RFC 6762 §8.1: questions carry
// QTYPE=ANY for the name(s) being claimed, and authorities carries the
// proposed rrdata of the records the prober intends to claim, so a
// simultaneously-probing host can run the lexicographic tie-break of
// RFC 6762 §8.2 without waiting for the claim to complete.
func BuildProbe(questions []Question, authorities []*ResourceRecord) ([]byte, error) {
	auth := make([]Answer, 0, len(authorities))
	for _, rr := range authorities {
		if rr == nil {
			return nil, &errors.ValidationError{Field: "ResourceRecord", Value: nil, Message: "cannot serialize nil resource record"}
		}
		auth = append(auth, resourceRecordToAnswer(rr))
	}
	msg := &DNSMessage{
		Header:      DNSHeader{ID: randomQueryID(), Flags: 0x0000},
		Questions:   questions,
		Authorities: auth,
	}
	return EncodeMessage(msg)
}

func randomQueryID() uint16 {
	idBig, err := rand.Int(rand.Reader, big.NewInt(65536))
	if err != nil {
		return 0
	}
	return uint16(idBig.Uint64() % 65536)
}

// BuildResponse constructs an mDNS response message per RFC 6762 §18: QR=1
// (§18.2), AA=1 (§18.4), RCODE=0 (§18.11), carrying answers as the
// Answer Section.
func BuildResponse(answers []*ResourceRecord) ([]byte, error) {
	return BuildResponseSections(answers, nil)
}

// BuildResponseSections constructs a response with both an Answer Section
// and an Additional Section (SRV/TXT/A records that spare the querier a
// round trip after a PTR answer, per RFC 6762 §12).
func BuildResponseSections(answers, additionals []*ResourceRecord) ([]byte, error) {
	msg := &DNSMessage{
		Header: DNSHeader{
			Flags: protocol.FlagQR | protocol.FlagAA,
		},
	}

	for _, rr := range answers {
		if rr == nil {
			return nil, &errors.ValidationError{Field: "ResourceRecord", Value: nil, Message: "cannot serialize nil resource record"}
		}
		msg.Answers = append(msg.Answers, resourceRecordToAnswer(rr))
	}
	for _, rr := range additionals {
		if rr == nil {
			return nil, &errors.ValidationError{Field: "ResourceRecord", Value: nil, Message: "cannot serialize nil resource record"}
		}
		msg.Additionals = append(msg.Additionals, resourceRecordToAnswer(rr))
	}

	return EncodeMessage(msg)
}

func resourceRecordToAnswer(rr *ResourceRecord) Answer {
	class := uint16(rr.Class)
	if rr.CacheFlush {
		class |= 0x8000
	}
	return Answer{
		NAME:     rr.Name,
		TYPE:     uint16(rr.Type),
		CLASS:    class,
		TTL:      rr.TTL,
		RDLENGTH: uint16(len(rr.Data)),
		RDATA:    rr.Data,
	}
}

// ResourceRecord represents a DNS resource record awaiting serialization.
type ResourceRecord struct {
	Name       string              // Domain name (e.g., "printer.local")
	Type       protocol.RecordType // Record type (A, PTR, SRV, TXT)
	Class      protocol.DNSClass   // Class (usually IN=1)
	TTL        uint32              // Time to live in seconds
	Data       []byte              // Record data (wire format)
	CacheFlush bool                // RFC 6762 §10.2 cache-flush bit for unique records
}
