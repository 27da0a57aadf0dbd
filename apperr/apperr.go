// Package apperr classifies client-side failures. Every failure degrades a
// single operation; callers branch on the kind with errors.Is:
//
//	if errors.Is(err, apperr.ErrAuth) { ... }
package apperr

import (
	"github.com/pkg/errors"
)

var (
	ErrNetwork              = errors.New("network fault")
	ErrDataFormat           = errors.New("unexpected response format")
	ErrAuth                 = errors.New("not authenticated")
	ErrTransportUnavailable = errors.New("live channel not connected")
	ErrEmptyDraft           = errors.New("message is empty")
	ErrAck                  = errors.New("request rejected")
	ErrNotFound             = errors.New("not found")
)

// Fault ties an underlying error to one of the kinds above.
type Fault struct {
	Kind error
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	msg := f.Kind.Error()
	if f.Op != "" {
		msg = f.Op + ": " + msg
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Is(target error) bool { return target == f.Kind }

func (f *Fault) Unwrap() error { return f.Err }

func wrap(kind error, op string, err error) error {
	return errors.WithStack(&Fault{Kind: kind, Op: op, Err: err})
}

func Network(op string, err error) error    { return wrap(ErrNetwork, op, err) }
func DataFormat(op string, err error) error { return wrap(ErrDataFormat, op, err) }
func Auth(op string, err error) error       { return wrap(ErrAuth, op, err) }
func Ack(op string, err error) error        { return wrap(ErrAck, op, err) }

func TransportUnavailable(op string) error {
	return wrap(ErrTransportUnavailable, op, nil)
}

// Kind returns the matching sentinel, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range []error{ErrAuth, ErrTransportUnavailable, ErrDataFormat, ErrNetwork, ErrEmptyDraft, ErrAck, ErrNotFound} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
