package register

import "errors"

// Errors returned by register operations.
var (
	// ErrUnknownRegister indicates no descriptor entry has the requested code.
	ErrUnknownRegister = errors.New("register: unknown register")

	// ErrTypeMismatch indicates the accessor does not match the register type.
	ErrTypeMismatch = errors.New("register: type mismatch")

	// ErrDuplicateCode indicates two descriptor entries share a code.
	ErrDuplicateCode = errors.New("register: duplicate register code")

	// ErrInvalidEntry indicates a malformed descriptor entry.
	ErrInvalidEntry = errors.New("register: invalid descriptor entry")

	// ErrBlockTooSmall indicates a state block shorter than its layout.
	ErrBlockTooSmall = errors.New("register: state block too small")
)
