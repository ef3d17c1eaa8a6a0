package frame

// Validator is the checksum and data validation policy applied before playback.
//
// No checksum algorithm is defined for the wire format yet. The default policy
// accepts every frame; callers still treat a false result as authoritative.
type Validator interface {
	VerifyChecksum(f Frame) bool
	VerifyData(f Frame) bool
}

// AcceptAll is the default Validator.
type AcceptAll struct{}

func (AcceptAll) VerifyChecksum(Frame) bool { return true }
func (AcceptAll) VerifyData(Frame) bool     { return true }

// ValidatorFuncs adapts two functions into a Validator. A nil func accepts.
type ValidatorFuncs struct {
	Checksum func(Frame) bool
	Data     func(Frame) bool
}

func (v ValidatorFuncs) VerifyChecksum(f Frame) bool {
	if v.Checksum == nil {
		return true
	}
	return v.Checksum(f)
}

func (v ValidatorFuncs) VerifyData(f Frame) bool {
	if v.Data == nil {
		return true
	}
	return v.Data(f)
}
