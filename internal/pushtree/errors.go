package pushtree

import "fmt"

// MissingRootError signals a flat record without the root push key.
type MissingRootError struct{}

func (e *MissingRootError) Error() string {
	return "flat record has no root push key s:r"
}

// OrphanBuildError signals a build or log whose owning push key is absent.
type OrphanBuildError struct {
	Key      string
	OwnerKey string
}

func (e *OrphanBuildError) Error() string {
	return fmt.Sprintf("%s: owning push %s not present", e.Key, e.OwnerKey)
}

// OrphanPushError signals a nested push whose parent push key is absent.
type OrphanPushError struct {
	Key       string
	ParentKey string
}

func (e *OrphanPushError) Error() string {
	return fmt.Sprintf("%s: parent push %s not present", e.Key, e.ParentKey)
}

// PayloadError signals a push or build value that is not valid JSON of the
// expected shape.
type PayloadError struct {
	Key string
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("decode payload of %s: %v", e.Key, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}
