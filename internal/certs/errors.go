package certs

import (
	"errors"
	"fmt"
)

// CertificateError is returned when a certificate cannot be generated,
// parsed or written to any store.
type CertificateError struct {
	// Operation is the step that failed (generate_ca, persist_leaf, ...)
	Operation string
	// Scope is the store scope involved, empty when no store was touched
	Scope Scope
	// Path is the file involved, if any
	Path string
	// Err is the underlying cause
	Err error
}

func (e *CertificateError) Error() string {
	msg := "certificate " + e.Operation + " failed"
	if e.Scope != "" {
		msg += fmt.Sprintf(" (%s scope)", e.Scope)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" for %s", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CertificateError) Unwrap() error {
	return e.Err
}

var (
	// ErrNoWritableStore is wrapped when every configured store rejected a write.
	ErrNoWritableStore = errors.New("no writable certificate store")

	errNoCAKey = errors.New("CA private key not available")
)
