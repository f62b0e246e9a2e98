// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package settingserr defines the error-kind taxonomy shared by every
// backend: HII, iLO, and the dispatcher that sits above them.
package settingserr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation against a firmware settings backend
// failed.
type Kind int

// Recognized error kinds.
const (
	// BackendUnavailable means neither the HII variable nor the iLO
	// device is present on this host.
	BackendUnavailable Kind = iota
	// Permission means the OS denied access to /dev/mem or efivarfs.
	Permission
	// ParseError means the HiiDB (or a sub-structure of it) was
	// truncated or internally inconsistent.
	ParseError
	// NotFound means the question name matched no variation in any
	// form-set.
	NotFound
	// Ambiguous means more than one distinct question location matched.
	Ambiguous
	// InvalidAnswer means a OneOf answer is not a known option after
	// translation.
	InvalidAnswer
	// NotModified means a write succeeded but the verify read-back
	// differed from the intended value.
	NotModified
	// TransportError means a BlobStore2 exchange failed: non-zero
	// status, sequence mismatch, or timeout.
	TransportError
	// Unsupported means the operation cannot be implemented on the
	// selected backend (e.g. show-ifr against iLO).
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case BackendUnavailable:
		return "BackendUnavailable"
	case Permission:
		return "Permission"
	case ParseError:
		return "ParseError"
	case NotFound:
		return "NotFound"
	case Ambiguous:
		return "Ambiguous"
	case InvalidAnswer:
		return "InvalidAnswer"
	case NotModified:
		return "NotModified"
	case TransportError:
		return "TransportError"
	case Unsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every backend operation.
// Op names the operation that failed (e.g. "hii.Get", "ilo.Set") so a
// caller aggregating multiple backend results can tell them apart.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap allows errors.Is/errors.As to see through to the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind for the given operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	for err != nil {
		if se, ok := err.(*Error); ok && se.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
