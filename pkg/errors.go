package dirpin

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// ErrPathNotFound is returned when the directory to enumerate does not exist
type ErrPathNotFound struct {
	Path string
}

func (e ErrPathNotFound) Error() string {
	return fmt.Sprintf("path not found: %s", e.Path)
}

// ErrNotADirectory is returned when the path to enumerate exists but is not a directory
type ErrNotADirectory struct {
	Path string
}

func (e ErrNotADirectory) Error() string {
	return fmt.Sprintf("not a directory: %s", e.Path)
}

// ErrPublish wraps any read or store failure that aborted a publish. No partial CID
// accompanies it.
type ErrPublish struct {
	Cause error
}

func (e ErrPublish) Unwrap() error {
	return e.Cause
}

func (e ErrPublish) Error() string {
	return fmt.Sprintf("publish failed: %s", e.Cause)
}

// ErrPinVerification means the store did not list Cid among its pins after a pin request.
// Cause is set when the pin request or the listing itself failed.
type ErrPinVerification struct {
	Cid   cid.Cid
	Cause error
}

func (e ErrPinVerification) Unwrap() error {
	return e.Cause
}

func (e ErrPinVerification) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pin of %s not confirmed: %s", e.Cid, e.Cause)
	}
	return fmt.Sprintf("pin of %s not confirmed: missing from pin listing", e.Cid)
}

// ErrUnpin wraps a store failure while removing a pin
type ErrUnpin struct {
	Cid   cid.Cid
	Cause error
}

func (e ErrUnpin) Unwrap() error {
	return e.Cause
}

func (e ErrUnpin) Error() string {
	return fmt.Sprintf("unpin of %s failed: %s", e.Cid, e.Cause)
}

type ErrNotFound struct {
	Cid cid.Cid
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("Unable to find CID: %s", e.Cid)
}

// ErrContentMismatch is returned when retrieved content differs from the local tree at Path
type ErrContentMismatch struct {
	Path   string
	Reason string
}

func (e ErrContentMismatch) Error() string {
	return fmt.Sprintf("content mismatch at %s: %s", e.Path, e.Reason)
}
