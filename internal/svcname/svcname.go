// Package svcname validates and parses DNS-SD service-type names per
// RFC 6763 §4.1.1 and §7.2: "_service._proto.domain" with an optional
// "_sub" subtype prefix.
package svcname

import (
	"fmt"
	"strings"

	"github.com/quietwire/mdnsd/internal/errors"
)

// Parsed is a validated, decomposed service-type name.
type Parsed struct {
	// Subtype is the optional subtype label (e.g. "printer" in
	// "_printer._sub._http._tcp.local."), empty if none was given.
	Subtype string
	// Service is the service label without its leading underscore (e.g. "http").
	Service string
	// Proto is "tcp" or "udp".
	Proto string
	// Domain is whatever followed "._tcp."/"._udp." (normally "local").
	Domain string
}

// String reconstructs the canonical dotted form, e.g. "_http._tcp.local.".
func (p Parsed) String() string {
	if p.Subtype != "" {
		return fmt.Sprintf("_%s._sub._%s._%s.%s.", p.Subtype, p.Service, p.Proto, p.Domain)
	}
	return fmt.Sprintf("_%s._%s.%s.", p.Service, p.Proto, p.Domain)
}

// Parse validates a service-type name and decomposes it.
//
// Grammar (RFC 6763 §4.1.1, §7.2):
//
//	servicetype  := "_" service-label "._" ("tcp"|"udp") "." domain
//	subtype-name := ["_"] subtype-label "._sub." servicetype
//
// A service-label is 1-15 characters, starts with a letter or digit, is
// made up of letters/digits/hyphens, contains no consecutive/leading/
// trailing hyphens, and contains at least one letter (an all-digit label
// like "_22" is rejected, matching the reference test-suite vectors).
func Parse(name string) (Parsed, error) {
	trimmed := strings.TrimSuffix(name, ".")
	labels := strings.Split(trimmed, ".")

	if len(labels) < 3 {
		return Parsed{}, &errors.BadTypeInNameError{Type: name, Reason: "too few labels for a DNS-SD service type"}
	}

	var subtype string
	if len(labels) >= 4 && strings.EqualFold(labels[1], "_sub") {
		subLabel := labels[0]
		if err := validateGenericLabel(subLabel); err != nil {
			return Parsed{}, &errors.BadTypeInNameError{Type: name, Reason: "bad subtype label: " + err.Error()}
		}
		subtype = strings.TrimPrefix(subLabel, "_")
		labels = labels[2:]
	}

	if len(labels) < 3 {
		return Parsed{}, &errors.BadTypeInNameError{Type: name, Reason: "missing protocol/domain labels"}
	}

	serviceLabel := labels[0]
	protoLabel := labels[1]
	domain := strings.Join(labels[2:], ".")

	if err := validateServiceLabel(serviceLabel); err != nil {
		return Parsed{}, &errors.BadTypeInNameError{Type: name, Reason: "bad service label: " + err.Error()}
	}

	proto := strings.ToLower(strings.TrimPrefix(protoLabel, "_"))
	if !strings.HasPrefix(protoLabel, "_") || (proto != "tcp" && proto != "udp") {
		return Parsed{}, &errors.BadTypeInNameError{Type: name, Reason: fmt.Sprintf("protocol label %q must be _tcp or _udp", protoLabel)}
	}

	if domain == "" {
		return Parsed{}, &errors.BadTypeInNameError{Type: name, Reason: "missing domain"}
	}

	return Parsed{
		Subtype: subtype,
		Service: strings.TrimPrefix(serviceLabel, "_"),
		Proto:   proto,
		Domain:  domain,
	}, nil
}

// Validate reports whether name is a well-formed service-type name.
func Validate(name string) error {
	_, err := Parse(name)
	return err
}

// validateServiceLabel checks a "_xxx" service label per
// RFC 6763 §7.2: leading underscore, 1-15 characters after it, letters
// digits and hyphens only, no leading/trailing/doubled hyphen, and at
// least one letter (rejects pure-digit labels like "_22").
func validateServiceLabel(label string) error {
	if !strings.HasPrefix(label, "_") {
		return fmt.Errorf("label %q must start with '_'", label)
	}
	body := label[1:]

	if body == "" {
		return fmt.Errorf("label %q has no content after '_'", label)
	}
	if len(body) > 15 {
		return fmt.Errorf("label %q exceeds 15 characters", label)
	}
	if strings.HasPrefix(body, "-") || strings.HasSuffix(body, "-") {
		return fmt.Errorf("label %q starts or ends with a hyphen", label)
	}
	if strings.Contains(body, "--") {
		return fmt.Errorf("label %q has consecutive hyphens", label)
	}

	hasLetter := false
	for _, ch := range body {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
			hasLetter = true
		case ch >= '0' && ch <= '9', ch == '-':
			// allowed, doesn't count as a letter
		default:
			return fmt.Errorf("label %q contains invalid character %q", label, ch)
		}
	}
	if !hasLetter {
		return fmt.Errorf("label %q must contain at least one letter", label)
	}

	return nil
}

// validateGenericLabel validates a plain DNS label used as a subtype
// identifier (e.g. "x" in "x._sub._http._tcp.local."). Unlike a service
// label it carries no leading underscore and no letter requirement — it's
// an ordinary RFC 1035 §3.1 label, length-checked in bytes so multi-byte
// UTF-8 characters count against the 63-octet limit as the wire form would.
func validateGenericLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty label")
	}
	if len(label) > 63 {
		return fmt.Errorf("label %q exceeds 63 octets", label)
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return fmt.Errorf("label %q starts or ends with a hyphen", label)
	}
	return nil
}
