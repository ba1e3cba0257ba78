// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/Thermoquad/spikelink/pkg/spike"
)

// ErrSimulatedLinkLoss is the Err of a simulated link dropped with Drop.
var ErrSimulatedLinkLoss = errors.New("simulated link loss")

// DefaultSimulatorInfo is the capabilities record a Simulator reports.
var DefaultSimulatorInfo = spike.InfoResponse{
	RPCVersion:         spike.Version{Major: 1, Minor: 0, Build: 12},
	FirmwareVersion:    spike.Version{Major: 1, Minor: 4, Build: 116},
	MaxPacketSize:      20,
	MaxMessageSize:     1000,
	MaxChunkSize:       444,
	ProductGroupDevice: 0x0081,
}

// SimulatorFaults selects misbehaviour for tests and demos.
type SimulatorFaults struct {
	MissingCharacteristic bool // Dial fails resolving the write characteristic
	NotifyUnsupported     bool // Dial fails enabling notifications
	FailDials             int  // number of upcoming Dial calls that fail

	RejectNotifications bool // NACK DeviceNotificationRequest
	RejectUpload        bool // NACK StartFileUploadRequest
	FailChunk           int  // NACK the Nth chunk of each upload (1-based)
	PriorityFrames      bool // prefix every outgoing frame with the priority byte

	ResponseDelay time.Duration
}

// Simulator is an in-process hub. It implements Dialer; each Dial returns a
// fresh link to the same hub state, so stored programs survive reconnects.
type Simulator struct {
	mu sync.Mutex

	info      spike.InfoResponse
	faults    SimulatorFaults
	silent    map[spike.MessageID]bool
	telemetry []spike.DeviceMessage

	conn     *simConn
	dials    int
	slots    map[uint8][]byte
	upload   *simUpload
	running  bool
	received []spike.Message
	oversize int
	badCRC   int
}

type simUpload struct {
	fileName string
	slot     uint8
	crc      uint32
	data     []byte
	running  uint32
	chunks   int
}

// NewSimulator creates a hub with default capabilities and telemetry of a
// full battery and a motor on port A.
func NewSimulator() *Simulator {
	return &Simulator{
		info:   DefaultSimulatorInfo,
		silent: map[spike.MessageID]bool{},
		slots:  map[uint8][]byte{},
		telemetry: []spike.DeviceMessage{
			spike.DeviceBattery{Level: 100},
			spike.DeviceMotor{Port: spike.PortA, DeviceType: 48},
		},
	}
}

func (s *Simulator) String() string {
	return "Simulator: in-process hub"
}

// SetInfo replaces the capabilities the hub reports.
func (s *Simulator) SetInfo(info spike.InfoResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

// SetFaults replaces the fault configuration.
func (s *Simulator) SetFaults(f SimulatorFaults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// SetSilent makes the hub ignore requests of a kind.
func (s *Simulator) SetSilent(id spike.MessageID, silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[id] = silent
}

// SetTelemetry replaces the records sent in each device notification.
func (s *Simulator) SetTelemetry(msgs ...spike.DeviceMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = append([]spike.DeviceMessage(nil), msgs...)
}

// Slot returns the program stored in a slot.
func (s *Simulator) Slot(slot uint8) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.slots[slot]
	return data, ok
}

// StoreProgram places a program in a slot without an upload.
func (s *Simulator) StoreProgram(slot uint8, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = append([]byte(nil), data...)
}

// Running reports whether a program is running.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Received returns every message the hub decoded, in order.
func (s *Simulator) Received() []spike.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spike.Message(nil), s.received...)
}

// Dials returns how many times Dial was called.
func (s *Simulator) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Oversize returns how many packets exceeded the hub's max packet size.
func (s *Simulator) Oversize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oversize
}

// CRCMismatches returns how many chunks carried a wrong running CRC.
func (s *Simulator) CRCMismatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.badCRC
}

// Dial opens a new link, replacing any previous one.
func (s *Simulator) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++

	switch {
	case s.faults.FailDials > 0:
		s.faults.FailDials--
		return nil, fmt.Errorf("%w: simulated hub unreachable", ErrDeviceNotFound)
	case s.faults.MissingCharacteristic:
		return nil, fmt.Errorf("%w: write characteristic %s", ErrCharacteristicMissing, spike.RxCharUUID)
	case s.faults.NotifyUnsupported:
		return nil, ErrNotifyUnsupported
	}

	if s.conn != nil {
		s.conn.fail(ErrClosed)
	}
	c := &simConn{
		packetQueue: newPacketQueue(),
		sim:         s,
		inbound:     make(chan []byte, 64),
		inject:      make(chan []byte, 16),
	}
	s.conn = c
	s.upload = nil
	go c.run()
	return c, nil
}

// Drop simulates losing the radio link.
func (s *Simulator) Drop() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c != nil {
		c.fail(ErrSimulatedLinkLoss)
	}
}

// Inject sends an unsolicited message to the connected client.
func (s *Simulator) Inject(m spike.Message) error {
	frame, err := spike.EncodeFrame(m)
	if err != nil {
		return err
	}
	return s.InjectRaw(frame)
}

// InjectRaw sends raw bytes to the connected client as one packet.
func (s *Simulator) InjectRaw(p []byte) error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return ErrClosed
	}
	select {
	case c.inject <- append([]byte(nil), p...):
		return nil
	case <-c.done:
		return ErrClosed
	}
}

///////////////////////////////////////////////////////////////////////////////
// Link
///////////////////////////////////////////////////////////////////////////////

type simConn struct {
	*packetQueue
	sim     *Simulator
	inbound chan []byte
	inject  chan []byte
}

func (c *simConn) WritePacket(p []byte) error {
	if c.closed() {
		return ErrClosed
	}
	c.sim.mu.Lock()
	if len(p) > int(c.sim.info.MaxPacketSize) {
		c.sim.oversize++
	}
	c.sim.mu.Unlock()

	select {
	case c.inbound <- append([]byte(nil), p...):
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *simConn) Close() error {
	c.fail(ErrClosed)
	return nil
}

// run is the hub's main loop. Requests, telemetry and injected packets are
// serviced on one goroutine so responses leave in order.
func (c *simConn) run() {
	asm := spike.NewAssembler()
	var ticker *time.Ticker
	var tick <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case p := <-c.inject:
			c.deliver(p)
		case <-tick:
			c.sendTelemetry()
		case p := <-c.inbound:
			for _, frame := range asm.Feed(p) {
				m, err := spike.DecodeFrame(frame)
				if err != nil {
					continue
				}
				if interval, ok := c.handle(m); ok {
					if ticker != nil {
						ticker.Stop()
						ticker, tick = nil, nil
					}
					if interval > 0 {
						ticker = time.NewTicker(interval)
						tick = ticker.C
						c.sendTelemetry()
					}
				}
			}
		}
	}
}

// send frames m and splits it into packets of the hub's max packet size.
func (c *simConn) send(m spike.Message) {
	frame, err := spike.EncodeFrame(m)
	if err != nil {
		return
	}
	c.sim.mu.Lock()
	size := int(c.sim.info.MaxPacketSize)
	if c.sim.faults.PriorityFrames {
		frame = append([]byte{spike.PriorityByte}, frame...)
	}
	c.sim.mu.Unlock()
	if size <= 0 {
		size = len(frame)
	}
	for i := 0; i < len(frame); i += size {
		end := i + size
		if end > len(frame) {
			end = len(frame)
		}
		c.deliver(frame[i:end])
	}
}

func (c *simConn) sendTelemetry() {
	c.sim.mu.Lock()
	msgs := c.sim.telemetry
	c.sim.mu.Unlock()
	c.send(spike.NewDeviceNotification(msgs...))
}

// handle services one request. When the request changes the notification
// interval it returns the new interval and true.
func (c *simConn) handle(m spike.Message) (time.Duration, bool) {
	s := c.sim
	s.mu.Lock()
	s.received = append(s.received, m)
	silent := s.silent[m.ID()]
	delay := s.faults.ResponseDelay
	s.mu.Unlock()

	if silent {
		return 0, false
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	var (
		interval    time.Duration
		setInterval bool
		followUp    []spike.Message
		resp        spike.Message
	)

	s.mu.Lock()
	switch v := m.(type) {
	case spike.InfoRequest:
		resp = s.info

	case spike.DeviceNotificationRequest:
		if s.faults.RejectNotifications {
			resp = spike.DeviceNotificationResponse{Status: spike.StatusNack}
			break
		}
		resp = spike.DeviceNotificationResponse{Status: spike.StatusAck}
		interval, setInterval = time.Duration(v.IntervalMS)*time.Millisecond, true

	case spike.ClearSlotRequest:
		if _, ok := s.slots[v.Slot]; !ok {
			resp = spike.ClearSlotResponse{Status: spike.StatusNack}
			break
		}
		delete(s.slots, v.Slot)
		resp = spike.ClearSlotResponse{Status: spike.StatusAck}

	case spike.StartFileUploadRequest:
		if s.faults.RejectUpload {
			resp = spike.StartFileUploadResponse{Status: spike.StatusNack}
			break
		}
		s.upload = &simUpload{fileName: v.FileName, slot: v.Slot, crc: v.CRC}
		resp = spike.StartFileUploadResponse{Status: spike.StatusAck}

	case spike.TransferChunkRequest:
		resp = s.acceptChunk(v)

	case spike.ProgramFlowRequest:
		resp, followUp = s.programFlow(v)

	case spike.TunnelMessage:
		followUp = []spike.Message{v}
	}
	s.mu.Unlock()

	if resp != nil {
		c.send(resp)
	}
	for _, f := range followUp {
		c.send(f)
	}
	return interval, setInterval
}

// acceptChunk verifies the running CRC and stores the file once the
// received bytes match the CRC announced at the start. Caller holds s.mu.
func (s *Simulator) acceptChunk(v spike.TransferChunkRequest) spike.Message {
	nack := spike.TransferChunkResponse{Status: spike.StatusNack}
	u := s.upload
	if u == nil {
		return nack
	}
	u.chunks++
	if s.faults.FailChunk == u.chunks {
		s.upload = nil
		return nack
	}

	running := spike.AlignedCRC(u.running, v.Payload)
	if running != v.RunningCRC {
		s.badCRC++
		s.upload = nil
		return nack
	}
	u.running = running
	u.data = append(u.data, v.Payload...)

	if spike.ChecksumCRC(u.data) == u.crc {
		s.slots[u.slot] = u.data
		s.upload = nil
	}
	return spike.TransferChunkResponse{Status: spike.StatusAck}
}

var printCall = regexp.MustCompile(`print\((?:"([^"]*)"|'([^']*)')\)`)

// programFlow starts or stops the slot's program. A started program echoes
// the literal arguments of its print calls to the console. Caller holds s.mu.
func (s *Simulator) programFlow(v spike.ProgramFlowRequest) (spike.Message, []spike.Message) {
	if v.Stop {
		if !s.running {
			return spike.ProgramFlowResponse{Status: spike.StatusAck}, nil
		}
		s.running = false
		return spike.ProgramFlowResponse{Status: spike.StatusAck},
			[]spike.Message{spike.ProgramFlowNotification{Stop: true}}
	}

	program, ok := s.slots[v.Slot]
	if !ok {
		return spike.ProgramFlowResponse{Status: spike.StatusNack}, nil
	}
	s.running = true
	out := []spike.Message{spike.ProgramFlowNotification{Stop: false}}
	for _, match := range printCall.FindAllSubmatch(program, -1) {
		text := match[1]
		if len(text) == 0 {
			text = match[2]
		}
		out = append(out, spike.ConsoleNotification{Text: string(text) + "\n"})
	}
	return spike.ProgramFlowResponse{Status: spike.StatusAck}, out
}
