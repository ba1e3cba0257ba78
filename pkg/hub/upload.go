// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"context"
	"fmt"

	"github.com/Thermoquad/spikelink/pkg/spike"
	"go.uber.org/zap"
)

// transferChunkOverhead is the TransferChunkRequest header: kind, running
// CRC and payload length.
const transferChunkOverhead = 1 + 4 + 2

// UploadSession tracks one file transfer.
type UploadSession struct {
	FileName   string `json:"fileName"`
	Slot       uint8  `json:"slot"`
	TotalCRC   uint32 `json:"totalCrc"`
	Size       int    `json:"size"`
	Sent       int    `json:"sent"`
	RunningCRC uint32 `json:"runningCrc"`
	ChunkSize  int    `json:"chunkSize"`
	Chunks     int    `json:"chunks"`
}

// RemainingBytes is the number of bytes not yet acknowledged.
func (s UploadSession) RemainingBytes() int {
	return s.Size - s.Sent
}

// UploadProgress is reported after each acknowledged chunk.
type UploadProgress struct {
	FileName string `json:"fileName"`
	Slot     uint8  `json:"slot"`
	Chunk    int    `json:"chunk"` // 1-based
	Chunks   int    `json:"chunks"`
	Sent     int    `json:"sent"`
	Size     int    `json:"size"`
}

// chunkSize returns the largest chunk the hub accepts, rounded down to a
// multiple of 4 so the running CRC of every chunk boundary is the aligned
// CRC of the data sent so far.
func chunkSize(caps Capabilities) (int, error) {
	size := int(caps.MaxChunkSize)
	if limit := int(caps.MaxMessageSize) - transferChunkOverhead; caps.MaxMessageSize > 0 && limit < size {
		size = limit
	}
	size &^= 3
	if size < 4 {
		return 0, fmt.Errorf("hub chunk limits too small (chunk %d, message %d)", caps.MaxChunkSize, caps.MaxMessageSize)
	}
	return size, nil
}

// UploadFile stores data as fileName in slot. Any failure abandons the
// transfer; a retry starts from the beginning.
func (c *Client) UploadFile(ctx context.Context, fileName string, slot uint8, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyFile
	}

	c.uploadMu.Lock()
	defer c.uploadMu.Unlock()

	conn, err := c.ready()
	if err != nil {
		return err
	}
	caps, ok := c.Capabilities()
	if !ok {
		return ErrNotReady
	}
	size, err := chunkSize(caps)
	if err != nil {
		return err
	}

	session := &UploadSession{
		FileName:  fileName,
		Slot:      slot,
		TotalCRC:  spike.ChecksumCRC(data),
		Size:      len(data),
		ChunkSize: size,
		Chunks:    (len(data) + size - 1) / size,
	}
	log := c.log.With(zap.String("file", fileName), zap.Uint8("slot", slot))
	log.Info("starting upload",
		zap.Int("size", session.Size),
		zap.Int("chunks", session.Chunks),
		zap.Uint32("crc", session.TotalCRC))

	m, err := c.request(ctx, conn, spike.StartFileUploadRequest{
		FileName: fileName,
		Slot:     slot,
		CRC:      session.TotalCRC,
	}, spike.MsgStartFileUploadResponse)
	if err != nil {
		return err
	}
	start, ok := m.(spike.StartFileUploadResponse)
	if !ok {
		return ErrUnexpectedResponse
	}
	if !start.Success() {
		return fmt.Errorf("%w: %s to slot %d: hub replied %s", ErrUploadRejected, fileName, slot, start.Status)
	}

	c.setSession(session)
	defer c.setSession(nil)

	progress := c.handler().progress
	for i := 0; i < session.Chunks; i++ {
		off := i * size
		chunk := data[off:min(off+size, len(data))]
		running := spike.AlignedCRC(session.RunningCRC, chunk)

		m, err := c.request(ctx, conn, spike.TransferChunkRequest{
			RunningCRC: running,
			Payload:    chunk,
		}, spike.MsgTransferChunkResponse)
		if err != nil {
			return &ChunkError{FileName: fileName, Index: i, Offset: off, Err: err}
		}
		resp, ok := m.(spike.TransferChunkResponse)
		if !ok {
			return &ChunkError{FileName: fileName, Index: i, Offset: off, Err: ErrUnexpectedResponse}
		}
		if !resp.Success() {
			return &ChunkError{FileName: fileName, Index: i, Offset: off, Err: fmt.Errorf("hub replied %s", resp.Status)}
		}

		session.RunningCRC = running
		session.Sent = off + len(chunk)
		c.setSession(session)
		log.Debug("chunk accepted", zap.Int("chunk", i+1), zap.Int("sent", session.Sent))

		if progress != nil {
			progress(UploadProgress{
				FileName: fileName,
				Slot:     slot,
				Chunk:    i + 1,
				Chunks:   session.Chunks,
				Sent:     session.Sent,
				Size:     session.Size,
			})
		}
	}

	log.Info("upload complete", zap.Int("size", session.Size))
	return nil
}

func (c *Client) setSession(s *UploadSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == nil {
		c.session = nil
		return
	}
	snapshot := *s
	c.session = &snapshot
}
