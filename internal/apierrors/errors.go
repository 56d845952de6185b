/*
 * Minio Cloud Storage, (C) 2016 Minio, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package apierrors carries the sentinel error taxonomy shared by the block
// store, transport, and coordinator layers, and the HTTP status each maps to.
package apierrors

import (
	"errors"
	"net/http"
)

// Sentinel errors. Every error that escapes a component boundary is either
// one of these or wraps one of these with fmt.Errorf("%w", ...) / pkg/errors.
var (
	// ErrValidation - input violates a precondition. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound - file or block absent. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrTransport - timeout, connection failure, or 5xx-equivalent response.
	// Retried per transport policy; demoted to ErrNodeUnavailable when retries
	// are exhausted.
	ErrTransport = errors.New("transport error")

	// ErrNodeUnavailable - a node's transport retries were exhausted.
	ErrNodeUnavailable = errors.New("node unavailable")

	// ErrIntegrity - stored bytes disagree with the recorded checksum.
	// Treated as a missing block on the read path.
	ErrIntegrity = errors.New("integrity failure")

	// ErrInsufficientSpace - a node rejected a store because it is full.
	ErrInsufficientSpace = errors.New("insufficient space")

	// ErrUnrecoverableLoss - two or more members of a stripe are unavailable
	// or corrupt; fatal for that read, but the file is not deleted.
	ErrUnrecoverableLoss = errors.New("unrecoverable loss")

	// ErrInvalidConfig - cluster parameters break an invariant. Fatal at
	// startup.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrStorageFailure - a write could not commit all stripes.
	ErrStorageFailure = errors.New("storage failure")

	// ErrServiceDegraded - the cluster cannot currently accept writes
	// (fewer than N nodes online).
	ErrServiceDegraded = errors.New("service degraded")

	// ErrInvalidInput - the Parity Engine's one possible error: an empty
	// data block set.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists - optional, store is idempotent so this is informational.
	ErrAlreadyExists = errors.New("already exists")
)

// StatusFor maps a sentinel (or a wrapped sentinel) to an HTTP status code.
// Falls back to 500 for anything unrecognized, never leaking internals in the
// status line itself.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientSpace):
		return http.StatusInsufficientStorage
	case errors.Is(err, ErrIntegrity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnrecoverableLoss):
		return http.StatusConflict
	case errors.Is(err, ErrNodeUnavailable), errors.Is(err, ErrServiceDegraded):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, ErrStorageFailure):
		return http.StatusInternalServerError
	case errors.Is(err, ErrInvalidConfig):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a short, stable machine-readable code for an error, suitable
// for a JSON error body. Never derived from the error's message text so it
// stays stable across wording changes.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientSpace):
		return "insufficient_space"
	case errors.Is(err, ErrIntegrity):
		return "integrity_failure"
	case errors.Is(err, ErrUnrecoverableLoss):
		return "unrecoverable_loss"
	case errors.Is(err, ErrNodeUnavailable):
		return "node_unavailable"
	case errors.Is(err, ErrServiceDegraded):
		return "service_degraded"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.Is(err, ErrStorageFailure):
		return "storage_failure"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal_error"
	}
}

// Message returns a short, user-safe message for an error - never the
// error's own .Error() text, which may carry node-internal detail.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "the request did not pass validation"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrInsufficientSpace):
		return "node is out of space"
	case errors.Is(err, ErrIntegrity):
		return "stored block failed checksum verification"
	case errors.Is(err, ErrUnrecoverableLoss):
		return "too many stripe members are unavailable to recover"
	case errors.Is(err, ErrNodeUnavailable):
		return "node did not respond"
	case errors.Is(err, ErrServiceDegraded):
		return "cluster cannot currently accept writes"
	case errors.Is(err, ErrTransport):
		return "transport error contacting node"
	case errors.Is(err, ErrStorageFailure):
		return "write could not be completed"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid configuration"
	case errors.Is(err, ErrInvalidInput):
		return "invalid input"
	default:
		return "internal error"
	}
}
