package status

type entry struct {
	message string
	hint    string
}

var messages = map[Status]entry{
	Success:          {"Success.", ""},
	Unexpected:       {"Unexpected error occurred.", ""},
	InvalidParameter: {"Invalid parameter.", "The sealed blob buffer must be exactly the policy length."},
	OutOfMemory:      {"Out of memory.", ""},
	EnclaveLost:      {"Power transition occurred.", "Destroy the enclave and create a new one."},
	InvalidState:     {"Invalid state.", ""},
	InvalidFunction:  {"Invalid ecall.", ""},
	OutOfTCS:         {"Out of TCS.", ""},
	EnclaveCrashed:   {"The enclave is crashed.", ""},

	InvalidEnclave:    {"Invalid enclave image.", ""},
	InvalidEnclaveID:  {"Invalid enclave identification.", "The enclave could not be created; check the enclave directory and signer key."},
	InvalidSignature:  {"Invalid enclave signature.", ""},
	NoDevice:          {"Invalid device.", "Check that the TEE driver or TPM device is present."},
	EnclaveFileAccess: {"Can't open enclave file.", ""},

	MacMismatch:      {"Sealed data MAC mismatch.", "The blob was sealed by another enclave or has been tampered with."},
	InvalidAttribute: {"Enclave not authorized to run.", ""},
	InvalidCPUSVN:    {"Invalid CPU SVN.", ""},
	InvalidISVSVN:    {"Invalid ISV SVN.", "The blob was sealed under a different release version."},
	InvalidKeyname:   {"Invalid key name.", ""},

	ServiceUnavailable: {"Platform service is not available.", "The required monotonic counter or trusted time service is missing."},
	ServiceTimeout:     {"Platform service timed out.", ""},
	Busy:               {"Platform service is busy.", ""},
	MCNotFound:         {"Monotonic counter does not exist.", ""},
	MCNoAccessRight:    {"Caller has no access right to the monotonic counter.", ""},
	MCUsedUp:           {"Monotonic counters are used up.", ""},
	MCOverQuota:        {"Monotonic counter quota exceeded.", ""},

	PlatformServiceDowngraded: {"Platform service was downgraded.", "The platform services security version is lower than when the policy was sealed."},
	ReplayDetected:            {"Replay detected.", "The sealed policy is stale or has been deleted."},
	MaxReleaseReached:         {"Maximum release version reached.", ""},
	TimesourceChanged:         {"Trusted time source changed.", ""},
	TimestampUnexpected:       {"Trusted time is earlier than the sealed policy.", ""},
	LeaseExpired:              {"Lease expired.", ""},
}

// Message returns the human readable text for s.
func (s Status) Message() string {
	if e, ok := messages[s]; ok {
		return e.message
	}
	return "Unexpected error occurred."
}

// Hint returns a remediation hint for s, or "" when there is none.
func (s Status) Hint() string {
	return messages[s].hint
}

func (s Status) String() string {
	return s.Message()
}

// Known reports whether s has an entry in the message table.
func (s Status) Known() bool {
	_, ok := messages[s]
	return ok
}
