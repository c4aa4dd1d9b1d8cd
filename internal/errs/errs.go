// Package errs defines the error taxonomy from spec.md §7: Network,
// Protocol, Storage, and Control errors, each with a Kind identifying the
// specific failure and a Retriable() classification.
package errs

import "fmt"

// Class groups error Kinds into the four families spec.md §7 names.
type Class string

const (
	ClassNetwork  Class = "network"
	ClassProtocol Class = "protocol"
	ClassStorage  Class = "storage"
	ClassControl  Class = "control"
)

// Kind is a specific error condition within a Class.
type Kind string

const (
	// Network (all retriable)
	KindManifestNotFound      Kind = "manifest-not-found"
	KindManifestNotAccessible Kind = "manifest-not-accessible"
	KindManifestInvalid       Kind = "manifest-invalid"
	KindDataFileNotFound      Kind = "data-file-not-found"
	KindDataFileNotAccessible Kind = "data-file-not-accessible"

	// Protocol (not retriable)
	KindHeaderMissing        Kind = "header-missing"
	KindHeaderDuplicate      Kind = "header-duplicate"
	KindVersionMismatch      Kind = "version-mismatch"
	KindInvalidJSON          Kind = "invalid-json"
	KindInvalidRecord        Kind = "invalid-record"
	KindDeletionInSnapshot   Kind = "deletion-in-snapshot"
	KindMajorVersionNotFound Kind = "major-version-not-found"
	KindDatabaseTooOld       Kind = "database-too-old"
	KindUnclosedVersion      Kind = "unclosed-version"

	// Storage
	KindQuotaExceeded       Kind = "quota-exceeded"
	KindConstraintViolation Kind = "constraint-violation" // retried up to twice
	KindEngineUnavailable   Kind = "engine-unavailable"   // not retried

	// Control
	KindAbort             Kind = "abort"
	KindOverlappingUpdate Kind = "overlapping-update"
	KindOffline           Kind = "offline"
)

var classOf = map[Kind]Class{
	KindManifestNotFound:      ClassNetwork,
	KindManifestNotAccessible: ClassNetwork,
	KindManifestInvalid:       ClassNetwork,
	KindDataFileNotFound:      ClassNetwork,
	KindDataFileNotAccessible: ClassNetwork,

	KindHeaderMissing:        ClassProtocol,
	KindHeaderDuplicate:      ClassProtocol,
	KindVersionMismatch:      ClassProtocol,
	KindInvalidJSON:          ClassProtocol,
	KindInvalidRecord:        ClassProtocol,
	KindDeletionInSnapshot:   ClassProtocol,
	KindMajorVersionNotFound: ClassProtocol,
	KindDatabaseTooOld:       ClassProtocol,
	KindUnclosedVersion:      ClassProtocol,

	KindQuotaExceeded:       ClassStorage,
	KindConstraintViolation: ClassStorage,
	KindEngineUnavailable:   ClassStorage,

	KindAbort:             ClassControl,
	KindOverlappingUpdate: ClassControl,
	KindOffline:           ClassControl,
}

// retriable per spec.md §7: all Network kinds, plus constraint-violation
// (retried up to twice by the retry controller, immediately and without
// backoff; it has no idle-time scheduler). Protocol, quota-exceeded,
// engine-unavailable, and every
// Control kind are not retriable.
var retriable = map[Kind]bool{
	KindManifestNotFound:      true,
	KindManifestNotAccessible: true,
	KindManifestInvalid:       true,
	KindDataFileNotFound:      true,
	KindDataFileNotAccessible: true,
	KindConstraintViolation:   true,
}

// Error is the concrete error type used across the sync pipeline.
type Error struct {
	Kind  Kind
	Class Class
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Class, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Class, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether the retry controller (internal/retry) should
// schedule a backoff retry for this error.
func (e *Error) Retriable() bool { return retriable[e.Kind] }

// New constructs an *Error for the given kind.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Class: classOf[kind], Msg: msg, Err: cause}
}

// Is supports errors.Is by Kind equality.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels usable with errors.Is(err, errs.Abort) etc.
var (
	Abort             = &Error{Kind: KindAbort, Class: ClassControl}
	OverlappingUpdate = &Error{Kind: KindOverlappingUpdate, Class: ClassControl}
	Offline           = &Error{Kind: KindOffline, Class: ClassControl}
)
