package lfs

import "errors"

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidOID     = errors.New("invalid OID format")
	ErrHashMismatch   = errors.New("hash mismatch")
)
