package archiver

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why a table cycle stopped
type Kind int

const (
	KindUnknown Kind = iota
	ConfigurationInvalid
	ProvisioningFailed
	NoPrimaryKey
	StatementExecutionFailed
	ConnectionFailure
)

func (k Kind) String() string {
	switch k {
	case ConfigurationInvalid:
		return "configuration invalid"
	case ProvisioningFailed:
		return "provisioning failed"
	case NoPrimaryKey:
		return "no primary key"
	case StatementExecutionFailed:
		return "statement execution failed"
	case ConnectionFailure:
		return "connection failure"
	default:
		return "unknown"
	}
}

// Error is a classified table cycle failure
type Error struct {
	Kind  Kind
	Table string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Table, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Table, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, table string, err error) *Error {
	return &Error{Kind: kind, Table: table, Err: err}
}

// KindOf returns the classification of err, KindUnknown when it carries none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
