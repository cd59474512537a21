package status

// Class groups statuses by how a caller should react to them.
type Class int

const (
	ClassNone Class = iota
	// ClassCapabilityAbsent: the platform lacks the service; retrying on the
	// same platform configuration cannot succeed.
	ClassCapabilityAbsent
	// ClassBoundaryFault: the call into the TEE failed; retry after recreating
	// the enclave.
	ClassBoundaryFault
	// ClassPolicyDenial: authoritative denial of the protected action. Never retried.
	ClassPolicyDenial
	// ClassUntrustedBlob: the blob could not be unsealed. Discard and Init
	// again, or treat as fatal.
	ClassUntrustedBlob
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassCapabilityAbsent:
		return "capability-absent"
	case ClassBoundaryFault:
		return "boundary-fault"
	case ClassPolicyDenial:
		return "policy-denial"
	case ClassUntrustedBlob:
		return "untrusted-blob"
	}
	return "unknown"
}

// ClassOf classifies s.
func ClassOf(s Status) Class {
	switch s {
	case Success:
		return ClassNone
	case ServiceUnavailable, NoDevice:
		return ClassCapabilityAbsent
	case PlatformServiceDowngraded, ReplayDetected, MaxReleaseReached,
		TimesourceChanged, TimestampUnexpected, LeaseExpired:
		return ClassPolicyDenial
	case MacMismatch, InvalidISVSVN, InvalidCPUSVN, InvalidKeyname:
		return ClassUntrustedBlob
	}
	return ClassBoundaryFault
}

// IsPolicyDenial reports whether err carries a policy engine denial.
func IsPolicyDenial(err error) bool {
	return err != nil && ClassOf(FromError(err)) == ClassPolicyDenial
}

// IsUntrustedBlob reports whether err means the sealed blob could not be unsealed.
func IsUntrustedBlob(err error) bool {
	return err != nil && ClassOf(FromError(err)) == ClassUntrustedBlob
}
