// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/spikelink/pkg/spike"
	"tinygo.org/x/bluetooth"
)

var (
	serviceUUID = mustParseUUID(spike.ServiceUUID)
	rxCharUUID  = mustParseUUID(spike.RxCharUUID)
	txCharUUID  = mustParseUUID(spike.TxCharUUID)
)

func mustParseUUID(s string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return uuid
}

// DefaultScanTimeout bounds a scan when the dialer sets none.
const DefaultScanTimeout = 10 * time.Second

// Advertisement is a hub seen during a scan.
type Advertisement struct {
	Address string
	Name    string
	RSSI    int16
}

// BLEDialer finds a hub advertising the protocol service and connects to it.
type BLEDialer struct {
	// Adapter defaults to bluetooth.DefaultAdapter.
	Adapter *bluetooth.Adapter

	// Address, when set, selects a specific hub (case-insensitive).
	Address string

	// Name, when set, selects hubs whose local name contains it.
	Name string

	ScanTimeout time.Duration
}

func (d BLEDialer) String() string {
	switch {
	case d.Address != "":
		return fmt.Sprintf("BLE: %s", d.Address)
	case d.Name != "":
		return fmt.Sprintf("BLE: first hub named %q", d.Name)
	default:
		return "BLE: first hub found"
	}
}

func (d BLEDialer) adapter() (*bluetooth.Adapter, error) {
	a := d.Adapter
	if a == nil {
		a = bluetooth.DefaultAdapter
	}
	if err := enableAdapter(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (d BLEDialer) matches(r bluetooth.ScanResult) bool {
	if !r.AdvertisementPayload.HasServiceUUID(serviceUUID) {
		return false
	}
	if d.Address != "" && !strings.EqualFold(r.Address.String(), d.Address) {
		return false
	}
	if d.Name != "" && !strings.Contains(r.LocalName(), d.Name) {
		return false
	}
	return true
}

// Dial scans for a matching hub, connects, resolves the data
// characteristics and subscribes to notifications.
func (d BLEDialer) Dial(ctx context.Context) (Conn, error) {
	a, err := d.adapter()
	if err != nil {
		return nil, err
	}

	timeout := d.ScanTimeout
	if timeout == 0 {
		timeout = DefaultScanTimeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	result, err := scanFirst(scanCtx, a, d.matches)
	cancel()
	if err != nil {
		return nil, err
	}

	device, err := a.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", result.Address.String(), err)
	}

	c, err := openBLEConn(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}
	return c, nil
}

// Scan lists hubs advertising the protocol service until ctx is done.
func (d BLEDialer) Scan(ctx context.Context) ([]Advertisement, error) {
	a, err := d.adapter()
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		ads  []Advertisement
	)
	errc := make(chan error, 1)
	go func() {
		errc <- a.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !d.matches(r) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			addr := r.Address.String()
			ad := Advertisement{Address: addr, Name: r.LocalName(), RSSI: r.RSSI}
			if i, ok := seen[addr]; ok {
				ads[i] = ad
				return
			}
			seen[addr] = len(ads)
			ads = append(ads, ad)
		})
	}()

	select {
	case <-ctx.Done():
		_ = a.StopScan()
		<-errc
	case err := <-errc:
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return ads, nil
}

func scanFirst(ctx context.Context, a *bluetooth.Adapter, match func(bluetooth.ScanResult) bool) (bluetooth.ScanResult, error) {
	found := make(chan bluetooth.ScanResult, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- a.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !match(r) {
				return
			}
			select {
			case found <- r:
				_ = a.StopScan()
			default:
			}
		})
	}()

	var scanErr error
	select {
	case <-ctx.Done():
		_ = a.StopScan()
		scanErr = <-errc
	case scanErr = <-errc:
	}

	select {
	case r := <-found:
		return r, nil
	default:
	}
	if scanErr != nil {
		return bluetooth.ScanResult{}, fmt.Errorf("scan failed: %w", scanErr)
	}
	return bluetooth.ScanResult{}, ErrDeviceNotFound
}

///////////////////////////////////////////////////////////////////////////////
// Adapter state
///////////////////////////////////////////////////////////////////////////////

var (
	adapterMu sync.Mutex
	enabled   = map[*bluetooth.Adapter]bool{}

	// links maps a device address to its open connection so the adapter's
	// single connect handler can report link loss.
	links = map[string]*bleConn{}
)

func enableAdapter(a *bluetooth.Adapter) error {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	if enabled[a] {
		return nil
	}
	if err := a.Enable(); err != nil {
		return fmt.Errorf("failed to enable Bluetooth: %w", err)
	}
	a.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		adapterMu.Lock()
		c := links[device.Address.String()]
		adapterMu.Unlock()
		if c != nil {
			c.fail(errors.New("BLE link lost"))
		}
	})
	enabled[a] = true
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// Connection
///////////////////////////////////////////////////////////////////////////////

type bleConn struct {
	*packetQueue
	device bluetooth.Device
	rx     bluetooth.DeviceCharacteristic
	tx     bluetooth.DeviceCharacteristic
	addr   string
}

func openBLEConn(device bluetooth.Device) (*bleConn, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrServiceNotFound, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{rxCharUUID, txCharUUID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCharacteristicMissing, err)
	}

	c := &bleConn{packetQueue: newPacketQueue(), device: device, addr: device.Address.String()}
	var haveRx, haveTx bool
	for _, ch := range chars {
		switch ch.UUID() {
		case rxCharUUID:
			c.rx, haveRx = ch, true
		case txCharUUID:
			c.tx, haveTx = ch, true
		}
	}
	if !haveRx {
		return nil, fmt.Errorf("%w: write characteristic %s", ErrCharacteristicMissing, spike.RxCharUUID)
	}
	if !haveTx {
		return nil, fmt.Errorf("%w: notify characteristic %s", ErrCharacteristicMissing, spike.TxCharUUID)
	}

	adapterMu.Lock()
	links[c.addr] = c
	adapterMu.Unlock()

	if err := c.tx.EnableNotifications(c.deliver); err != nil {
		c.forget()
		return nil, fmt.Errorf("%w: %v", ErrNotifyUnsupported, err)
	}
	return c, nil
}

func (c *bleConn) forget() {
	adapterMu.Lock()
	if links[c.addr] == c {
		delete(links, c.addr)
	}
	adapterMu.Unlock()
}

func (c *bleConn) WritePacket(p []byte) error {
	if c.closed() {
		return ErrClosed
	}
	if _, err := c.rx.WriteWithoutResponse(p); err != nil {
		return fmt.Errorf("BLE write failed: %w", err)
	}
	return nil
}

func (c *bleConn) Close() error {
	c.fail(ErrClosed)
	c.forget()
	_ = c.tx.EnableNotifications(nil)
	return c.device.Disconnect()
}
