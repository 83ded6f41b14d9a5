package store

import "errors"

// ErrTokenLookupCollision signals that a freshly generated token collided on
// its lookup prefix. Callers retry with a new token.
var ErrTokenLookupCollision = errors.New("token lookup collision")

// ErrPrimaryNamespaceGrant signals an attempt to grant a principal access to
// a namespace owned by a different principal.
var ErrPrimaryNamespaceGrant = errors.New("cannot grant access to another principal's primary namespace")
