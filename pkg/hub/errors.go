// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrInitialization is returned by Connect when the link or the
	// capabilities handshake fails.
	ErrInitialization = errors.New("initialization failed")

	// ErrNotReady is returned for operations attempted outside Ready.
	ErrNotReady = errors.New("hub not ready")

	// ErrAlreadyConnected is returned by Connect while a link is active or
	// being established.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrRequestTimeout is returned when no response arrives in time.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrDisconnected is returned to every operation pending when the link
	// is lost or closed.
	ErrDisconnected = errors.New("disconnected")

	// ErrUnexpectedResponse is returned when a response decodes to a kind
	// other than the one requested.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrUploadRejected is returned when the hub NACKs an upload start.
	ErrUploadRejected = errors.New("upload rejected")

	// ErrChunkTransferFailed is returned when a chunk is NACKed or times
	// out. The whole upload is abandoned.
	ErrChunkTransferFailed = errors.New("chunk transfer failed")

	// ErrProgramControl is returned when the hub NACKs a start or stop.
	ErrProgramControl = errors.New("program control rejected")

	// ErrEmptyFile is returned when uploading a zero-length file.
	ErrEmptyFile = errors.New("file is empty")
)

// ChunkError describes which chunk of an upload failed.
type ChunkError struct {
	FileName string
	Index    int // 0-based
	Offset   int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (offset %d) of %s: %v", e.Index, e.Offset, e.FileName, e.Err)
}

// Unwrap reports both ErrChunkTransferFailed and the underlying cause.
func (e *ChunkError) Unwrap() []error {
	return []error{ErrChunkTransferFailed, e.Err}
}
