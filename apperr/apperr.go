// Package apperr defines the classes of errors surfaced by the synchronization core. Validation errors
// are produced locally before any store call. All other classes originate from a backing service and
// are reported to the caller without being retried.
package apperr

import (
	"errors"
)

type AuthenticationError struct {
	message string
	cause   error
}

func (e *AuthenticationError) Error() string {
	return e.message
}

func (e *AuthenticationError) Unwrap() error {
	return e.cause
}

func Authentication(message string, cause error) *AuthenticationError {
	return &AuthenticationError{
		message: message,
		cause:   cause,
	}
}

// InvalidCredentialsError is returned when the identity provider refuses to create an account, e.g.
// because the email is taken or the password is too weak.
type InvalidCredentialsError struct {
	message string
	cause   error
}

func (e *InvalidCredentialsError) Error() string {
	return e.message
}

func (e *InvalidCredentialsError) Unwrap() error {
	return e.cause
}

func InvalidCredentials(message string, cause error) *InvalidCredentialsError {
	return &InvalidCredentialsError{
		message: message,
		cause:   cause,
	}
}

type ValidationError struct {
	message string
}

func (e *ValidationError) Error() string {
	return e.message
}

func Validation(message string) *ValidationError {
	return &ValidationError{
		message: message,
	}
}

type SubscriptionError struct {
	target string
	cause  error
}

func (e *SubscriptionError) Error() string {
	if e.cause == nil {
		return "subscription to " + e.target + " failed"
	}
	return "subscription to " + e.target + " failed: " + e.cause.Error()
}

func (e *SubscriptionError) Unwrap() error {
	return e.cause
}

// Target is the key of the subscription target that failed.
func (e *SubscriptionError) Target() string {
	return e.target
}

func Subscription(target string, cause error) *SubscriptionError {
	return &SubscriptionError{
		target: target,
		cause:  cause,
	}
}

type UploadError struct {
	path  string
	cause error
}

func (e *UploadError) Error() string {
	if e.cause == nil {
		return "upload of " + e.path + " failed"
	}
	return "upload of " + e.path + " failed: " + e.cause.Error()
}

func (e *UploadError) Unwrap() error {
	return e.cause
}

func Upload(path string, cause error) *UploadError {
	return &UploadError{
		path:  path,
		cause: cause,
	}
}

type WriteError struct {
	message string
	cause   error
}

func (e *WriteError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *WriteError) Unwrap() error {
	return e.cause
}

func Write(message string, cause error) *WriteError {
	return &WriteError{
		message: message,
		cause:   cause,
	}
}

func IsAuthentication(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

func IsInvalidCredentials(err error) bool {
	var target *InvalidCredentialsError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsSubscription(err error) bool {
	var target *SubscriptionError
	return errors.As(err, &target)
}

func IsUpload(err error) bool {
	var target *UploadError
	return errors.As(err, &target)
}

func IsWrite(err error) bool {
	var target *WriteError
	return errors.As(err, &target)
}
