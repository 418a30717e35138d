package epp

// Validator checks a parsed frame against the EPP schemas.  The engine only
// cares about pass/fail: any error becomes a 2001 "XML schema error."
// response and the session continues.
//
// The default server runs without a validator, accepting any well-formed
// frame.  Install one with WithValidator.
type Validator interface {
	Validate(frame *Element) error
}
