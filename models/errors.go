package models

import "errors"

// Sentinel errors for the production workflow and inventory core. Callers
// wrap them with fmt.Errorf("%w: ...") to attach the offending ticket, step
// or quantity; handlers map them to HTTP statuses with errors.Is.
var (
	ErrorInvalidTransition = errors.New("invalid transition")
	ErrorTerminalState     = errors.New("ticket is in a terminal state")
	ErrorInvalidStep       = errors.New("invalid step")
	ErrorQuantityExceeded  = errors.New("quantity exceeded")
	ErrorStepIncomplete    = errors.New("step is not complete")
	ErrorAlreadyDeducted   = errors.New("materials already deducted")
	ErrorNotAuthorized     = errors.New("not authorized")
)
