package localrecords

import "errors"

var (
	// ErrInvalidRecord is returned when a record is invalid
	ErrInvalidRecord = errors.New("invalid record")

	// ErrRecordNotFound is returned when no record set exists for (name, type)
	ErrRecordNotFound = errors.New("record not found")

	// ErrOutOfZone is returned when a record's owner is not inside the zone
	ErrOutOfZone = errors.New("record outside zone")

	// ErrUnsupportedType is returned for record types the store cannot hold
	ErrUnsupportedType = errors.New("unsupported record type")

	// ErrInvalidDomain is returned when a domain name is invalid
	ErrInvalidDomain = errors.New("invalid domain name")

	// ErrInvalidIP is returned when an IP address is invalid
	ErrInvalidIP = errors.New("invalid IP address")

	// ErrMixedRecordSet is returned when a replacement set mixes owners or types
	ErrMixedRecordSet = errors.New("record set mixes owner names or types")

	// ErrEmptyRecordSet is returned when a replacement set has no records
	ErrEmptyRecordSet = errors.New("record set is empty")

	// ErrEmptyTarget is returned when a CNAME/MX/SRV/PTR/NS record has no target
	ErrEmptyTarget = errors.New("target cannot be empty")

	// ErrNoIPs is returned when an A/AAAA record has no IP addresses
	ErrNoIPs = errors.New("A/AAAA record must have at least one IP address")

	// ErrNoTxtData is returned when a TXT record has no strings
	ErrNoTxtData = errors.New("TXT record must have at least one string")

	// ErrTxtTooLong is returned when a TXT string exceeds 255 bytes
	ErrTxtTooLong = errors.New("TXT string exceeds 255 bytes")

	// ErrInvalidSOA is returned when an SOA record lacks NS or mailbox
	ErrInvalidSOA = errors.New("SOA record requires ns and mbox")

	// ErrInvalidCAA is returned when a CAA record has an unknown tag or no value
	ErrInvalidCAA = errors.New("CAA record requires issue, issuewild or iodef tag and a value")
)
