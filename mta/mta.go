// Package mta defines the outbound relay contract. The engine hands fully
// resolved remote recipients to a Submitter; the smtpclient subpackage
// implements one over SMTP.
package mta

import (
	"context"
	"errors"
	"fmt"
)

// Envelope is one outbound delivery: the already flattened message plus the
// remote recipients it should reach.
type Envelope struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Submitter relays an envelope to remote recipients.
type Submitter interface {
	Submit(ctx context.Context, env Envelope) error
}

// ErrPermanent marks a delivery failure that retrying cannot fix, such as a
// rejected recipient. Wrap with Permanent and test with IsPermanent.
var ErrPermanent = errors.New("mta: permanent delivery failure")

// DeliveryError is a classified submission failure. Transient failures are
// retried by the delivery router; permanent ones surface immediately.
type DeliveryError struct {
	Transient bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("mta: %s delivery failure: %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPermanent) match non-transient delivery errors.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrPermanent && !e.Transient
}

// Permanent wraps err as a permanent delivery failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{Err: err}
}

// Transient wraps err as a transient delivery failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{Transient: true, Err: err}
}

// IsPermanent reports whether err is a permanent delivery failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, env Envelope) error

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}
