// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request failed input validation.
var ErrValidation = errors.New("validation failed")

// ErrPrincipalRequired indicates an operation was attempted without an
// authenticated principal.
var ErrPrincipalRequired = errors.New("principal required")

// ErrAuthorization indicates the principal is not allowed to act on the resource.
var ErrAuthorization = errors.New("not authorized")

// ErrServicePrincipalUnavailable indicates the service principal identity is
// not configured. Fatal to reactor startup.
var ErrServicePrincipalUnavailable = errors.New("service principal not available")

// ErrDirectoryEnumeration indicates the built-in agent directory could not be listed.
var ErrDirectoryEnumeration = errors.New("failed to enumerate built-in agents")

// ErrImpersonation indicates a session for an agent's principal could not be obtained.
var ErrImpersonation = errors.New("impersonation failed")

// ErrScriptExecution indicates an agent script failed to compile or threw
// during its run.
var ErrScriptExecution = errors.New("agent script fault")

// ErrLookup indicates a directory lookup made on behalf of an agent failed.
var ErrLookup = errors.New("lookup failed")
