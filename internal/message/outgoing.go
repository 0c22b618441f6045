package message

import "encoding/binary"

// EncodeMessage serializes a DNSMessage to wire format per RFC 1035 §4.1,
// compressing NAME/QNAME fields with a single NameWriter shared across the
// whole packet: the ".local" suffix, a service type, or a hostname that
// recurs across several records is written once and every later occurrence
// becomes a 2-byte pointer, per RFC 1035 §4.1.4.
func EncodeMessage(msg *DNSMessage) ([]byte, error) {
	buf := make([]byte, 12, 512)
	nw := NewNameWriter()
	var err error

	for _, q := range msg.Questions {
		buf, err = nw.WriteRecordName(buf, q.QNAME)
		if err != nil {
			return nil, err
		}
		buf = appendUint16(buf, q.QTYPE)
		buf = appendUint16(buf, q.QCLASS)
	}

	for _, section := range [][]Answer{msg.Answers, msg.Authorities, msg.Additionals} {
		for _, a := range section {
			buf, err = encodeAnswer(nw, buf, a)
			if err != nil {
				return nil, err
			}
		}
	}

	binary.BigEndian.PutUint16(buf[0:2], msg.Header.ID)
	binary.BigEndian.PutUint16(buf[2:4], msg.Header.Flags)
	binary.BigEndian.PutUint16(buf[4:6], clampUint16(len(msg.Questions)))
	binary.BigEndian.PutUint16(buf[6:8], clampUint16(len(msg.Answers)))
	binary.BigEndian.PutUint16(buf[8:10], clampUint16(len(msg.Authorities)))
	binary.BigEndian.PutUint16(buf[10:12], clampUint16(len(msg.Additionals)))

	return buf, nil
}

func encodeAnswer(nw *NameWriter, buf []byte, a Answer) ([]byte, error) {
	buf, err := nw.WriteRecordName(buf, a.NAME)
	if err != nil {
		return nil, err
	}
	buf = appendUint16(buf, a.TYPE)
	buf = appendUint16(buf, a.CLASS)
	buf = appendUint32(buf, a.TTL)
	buf = appendUint16(buf, clampUint16(len(a.RDATA)))
	buf = append(buf, a.RDATA...)
	return buf, nil
}

// WriteRecordName writes name, routing through WriteServiceInstanceName when
// name looks like a DNS-SD instance name ("My Printer._http._tcp.local") so
// the instance label is treated as a single opaque UTF-8 label rather than
// being split on its internal dots.
func (w *NameWriter) WriteRecordName(buf []byte, name string) ([]byte, error) {
	for i := 0; i < len(name)-1; i++ {
		if name[i] == '.' && name[i+1] == '_' {
			return w.WriteServiceInstanceName(buf, name[:i], name[i+1:])
		}
	}
	return w.WriteName(buf, name)
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func clampUint16(n int) uint16 {
	if n > 65535 {
		return 65535
	}
	return uint16(n)
}
