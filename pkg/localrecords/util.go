package localrecords

import (
	"strings"

	"github.com/miekg/dns"
)

// normalizeDomain normalizes a domain name to lowercase FQDN with trailing dot
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return domain
	}
	return dns.Fqdn(domain)
}

// inZone reports whether name is origin or below it. Both must be normalized.
func inZone(name, origin string) bool {
	if origin == "." {
		return true
	}
	return name == origin || strings.HasSuffix(name, "."+origin)
}

// validateRecord validates a local DNS record
func validateRecord(record *LocalRecord) error {
	if record == nil {
		return ErrInvalidRecord
	}

	if !isValidDomain(record.Domain) {
		return ErrInvalidDomain
	}

	switch record.Type {
	case RecordTypeA:
		if len(record.IPs) == 0 {
			return ErrNoIPs
		}
		for _, ip := range record.IPs {
			if ip.To4() == nil {
				return ErrInvalidIP
			}
		}

	case RecordTypeAAAA:
		if len(record.IPs) == 0 {
			return ErrNoIPs
		}
		for _, ip := range record.IPs {
			// IPv4 in an AAAA record
			if ip.To16() == nil || ip.To4() != nil {
				return ErrInvalidIP
			}
		}

	case RecordTypeCNAME, RecordTypeMX, RecordTypePTR, RecordTypeNS:
		if record.Target == "" {
			return ErrEmptyTarget
		}

	case RecordTypeSRV:
		if record.Target == "" {
			return ErrEmptyTarget
		}
		if record.Port == 0 {
			return ErrInvalidRecord
		}

	case RecordTypeTXT:
		if len(record.TxtRecords) == 0 {
			return ErrNoTxtData
		}
		// RFC 1035 character-string limit
		for _, txt := range record.TxtRecords {
			if len(txt) > 255 {
				return ErrTxtTooLong
			}
		}

	case RecordTypeSOA:
		if record.Ns == "" || record.Mbox == "" {
			return ErrInvalidSOA
		}

	case RecordTypeCAA:
		switch record.CaaTag {
		case "issue", "issuewild", "iodef":
		default:
			return ErrInvalidCAA
		}
		if record.CaaValue == "" {
			return ErrInvalidCAA
		}

	default:
		return ErrUnsupportedType
	}

	return nil
}

// isValidDomain performs basic domain name validation
func isValidDomain(domain string) bool {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if domain == "" || len(domain) > 253 {
		return false
	}

	for _, label := range strings.Split(domain, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		// Underscore labels are common in SRV/TXT owners (_sip._tcp, _dmarc)
		if !isAlphanumeric(label[0]) && label[0] != '_' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !isAlphanumeric(c) && c != '-' && c != '_' {
				return false
			}
			if c == '-' && i == len(label)-1 {
				return false
			}
		}
	}

	return true
}

// isAlphanumeric checks if a byte is alphanumeric
func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
