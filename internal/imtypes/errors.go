package imtypes

import (
	"errors"
	"fmt"
)

// AuthRequiredError is returned when an operation needs an authenticated identity.
type AuthRequiredError struct {
	Op string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("%s: authentication required", e.Op)
}

// ValidationError reports a rejected input before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// TransportError wraps a failed call to the transport collaborator.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SubscriptionError reports that a push subscription could not be created.
type SubscriptionError struct {
	Target string
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s failed: %v", e.Target, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// MediaAccessKind classifies microphone acquisition failures.
type MediaAccessKind string

const (
	MediaPermissionDenied       MediaAccessKind = "permission-denied"
	MediaDeviceNotFound         MediaAccessKind = "device-not-found"
	MediaDeviceBusy             MediaAccessKind = "device-busy"
	MediaUnsupportedConstraints MediaAccessKind = "unsupported-constraints"
	MediaSecurityBlocked        MediaAccessKind = "security-blocked"
	MediaUnknown                MediaAccessKind = "unknown"
)

var mediaMessages = map[MediaAccessKind]string{
	MediaPermissionDenied:       "Microphone access was denied. Please allow microphone access in your browser settings.",
	MediaDeviceNotFound:         "No microphone was found. Please check that a microphone is connected.",
	MediaDeviceBusy:             "The microphone is in use by another application.",
	MediaUnsupportedConstraints: "The microphone does not support the requested settings.",
	MediaSecurityBlocked:        "Microphone access was blocked for security reasons.",
	MediaUnknown:                "An unknown error occurred while accessing the microphone.",
}

// Message returns the fixed user-facing text for k.
func (k MediaAccessKind) Message() string {
	if m, ok := mediaMessages[k]; ok {
		return m
	}
	return mediaMessages[MediaUnknown]
}

// MediaAccessError is returned when the microphone cannot be acquired.
type MediaAccessError struct {
	Kind MediaAccessKind
	Err  error
}

func (e *MediaAccessError) Error() string {
	return e.Kind.Message()
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// RecordingError covers recorder failures other than device acquisition.
type RecordingError struct {
	Reason string
	Err    error
}

func (e *RecordingError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *RecordingError) Unwrap() error { return e.Err }

// ErrNotFound is returned by stores when a conversation, message or file does not exist.
var ErrNotFound = errors.New("not found")
