package downloader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/e2llm/rpmrepo-snapshot/pkg/metadata"
)

var (
	// ErrNoPrimary means the repomd does not reference primary XML metadata.
	ErrNoPrimary = errors.New("repomd lists no primary metadata")
	// ErrSizeMismatch is wrapped when a download has a different length than declared.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrChecksumMismatch is wrapped when a download does not match its declared checksum.
	ErrChecksumMismatch = metadata.ErrChecksumMismatch
	// ErrMutableRPM matches MutableRPMError.
	ErrMutableRPM = errors.New("mutable RPM")
	// ErrDuplicateRPM means one primary lists the same identity at several locations.
	ErrDuplicateRPM = errors.New("duplicate RPM identity with different locations")
)

// ErrorKind classifies per-object and per-repo failures.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindChecksum
	KindParse
	KindSignature
	KindStorage
	KindDatabase
	KindHeader
	KindDuplicate
	KindMutable
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindChecksum:
		return "checksum"
	case KindParse:
		return "parse"
	case KindSignature:
		return "signature"
	case KindStorage:
		return "storage"
	case KindDatabase:
		return "database"
	case KindHeader:
		return "header"
	case KindDuplicate:
		return "duplicate"
	case KindMutable:
		return "mutable"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ObjectError is the error value recorded for a single repomd, repodata or RPM.
type ObjectError struct {
	Kind   ErrorKind
	Object string
	Err    error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s error for %s: %v", e.Kind, e.Object, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

func objectError(kind ErrorKind, object string, err error) error {
	return &ObjectError{Kind: kind, Object: object, Err: err}
}

// KindOf returns the kind of the outermost ObjectError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var oe *ObjectError
	if errors.As(err, &oe) {
		return oe.Kind, true
	}
	return 0, false
}

// MutableRPMError reports that an RPM's bytes changed while its NEVRA did
// not, within one universe. This points at a corrupted or tampered upstream.
type MutableRPMError struct {
	Universe string
	NEVRA    string
	Checksum string
	// Got is the content digest of the new download; Known the previously recorded ones.
	Got   string
	Known []string
}

func (e *MutableRPMError) Error() string {
	return fmt.Sprintf("%s in universe %s: %s (declared %s) has content %s, previously recorded %s",
		ErrMutableRPM, e.Universe, e.NEVRA, e.Checksum, e.Got, strings.Join(e.Known, ", "))
}

func (e *MutableRPMError) Is(target error) bool {
	return target == ErrMutableRPM
}
