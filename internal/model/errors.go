package model

import "errors"

// Input validation failures. Fatal to the single call.
var (
	ErrInvalidRegion   = errors.New("invalid region")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrInvalidIntent   = errors.New("invalid notification intent")
	ErrUnknownProvider = errors.New("unknown notification provider")
)

// ErrNotFound is returned when a referenced monitor does not exist.
var ErrNotFound = errors.New("not found")

// ErrStorageUnavailable wraps failures to reach or write the durable store.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrNotificationConfig marks a notification whose provider data is missing
// or malformed. Sending it again cannot succeed.
var ErrNotificationConfig = errors.New("invalid notification config")

// ErrProviderSend is returned when a channel could not deliver a notification.
// It is isolated per channel by the dispatcher.
var ErrProviderSend = errors.New("provider send failed")

// ErrAuditWrite is returned when an audit record could not be accepted or persisted.
var ErrAuditWrite = errors.New("audit write failed")
