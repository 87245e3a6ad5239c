// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/Thermoquad/bmsstat/pkg/bms"
)

// DefaultScanTimeout bounds the search for a device when the connect
// context carries no deadline
const DefaultScanTimeout = 20 * time.Second

var (
	// ErrDeviceNotFound is returned when the address never advertised
	ErrDeviceNotFound = errors.New("device not found")
	// ErrNoWriteCharacteristic is returned by Write for notify-only vendors
	ErrNoWriteCharacteristic = errors.New("vendor has no write characteristic")
)

var (
	enableOnce sync.Once
	enableErr  error

	// The adapter runs one scan at a time
	scanMu sync.Mutex

	// Open links by upper-case address. The adapter has a single connect
	// handler, so link-loss events are routed from here.
	linksMu sync.Mutex
	links   map[string]func()
)

func enableAdapter(adapter *bluetooth.Adapter) error {
	enableOnce.Do(func() {
		enableErr = adapter.Enable()
	})
	return enableErr
}

// BLE is a GATT link to one BMS. Requests go to the vendor's write
// characteristic; every notification on its notify characteristic becomes
// one chunk.
type BLE struct {
	adapter *bluetooth.Adapter
	address string
	vendor  *bms.Vendor
	log     logrus.FieldLogger

	mu        sync.Mutex
	device    *bluetooth.Device
	writeChar *bluetooth.DeviceCharacteristic
	chunks    chan []byte
	gen       uint64 // bumped on every connection
}

// NewBLE creates a BLE transport for the device at address using the GATT
// layout of v
func NewBLE(address string, v *bms.Vendor, log logrus.FieldLogger) *BLE {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &BLE{
		adapter: bluetooth.DefaultAdapter,
		address: address,
		vendor:  v,
		log:     log.WithFields(logrus.Fields{"transport": "ble", "address": address}),
	}
}

// String returns the connection description
func (b *BLE) String() string {
	return fmt.Sprintf("BLE: %s (%s)", b.address, b.vendor.Key)
}

// Connect finds the device, connects and subscribes to notifications
func (b *BLE) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device != nil {
		return nil
	}
	if err := enableAdapter(b.adapter); err != nil {
		return &bms.TransportError{Op: "connect", Err: fmt.Errorf("failed to enable bluetooth adapter: %w", err)}
	}

	addr, err := b.find(ctx)
	if err != nil {
		return &bms.TransportError{Op: "connect", Err: err}
	}

	device, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return &bms.TransportError{Op: "connect", Err: err}
	}

	notifyChar, writeChar, err := b.discover(device)
	if err != nil {
		device.Disconnect()
		return &bms.TransportError{Op: "connect", Err: err}
	}

	b.chunks = make(chan []byte, chunkBuffer)
	if err := notifyChar.EnableNotifications(b.notify); err != nil {
		close(b.chunks)
		b.chunks = nil
		device.Disconnect()
		return &bms.TransportError{Op: "subscribe", Err: err}
	}

	b.device = &device
	b.writeChar = writeChar
	b.gen++
	gen := b.gen
	watchLink(b.adapter, b.address, func() { b.linkLost(gen) })
	b.log.Debug("connected")
	return nil
}

// linkLost tears down connection gen after the device dropped it. A stale
// gen belongs to a connection already closed.
func (b *BLE) linkLost(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen || b.device == nil {
		return
	}
	if b.chunks != nil {
		close(b.chunks)
		b.chunks = nil
	}
	b.device = nil
	b.writeChar = nil
	b.log.Warn("link lost")
}

func watchLink(adapter *bluetooth.Adapter, address string, lost func()) {
	linksMu.Lock()
	defer linksMu.Unlock()
	if links == nil {
		links = make(map[string]func())
		adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if !connected {
				linkDown(device.Address.String())
			}
		})
	}
	links[strings.ToUpper(address)] = lost
}

func unwatchLink(address string) {
	linksMu.Lock()
	defer linksMu.Unlock()
	delete(links, strings.ToUpper(address))
}

// linkDown runs the loss callback of address off the bluetooth stack's
// goroutine, which may be inside a call holding the transport's lock
func linkDown(address string) {
	linksMu.Lock()
	lost := links[strings.ToUpper(address)]
	linksMu.Unlock()
	if lost != nil {
		go lost()
	}
}

func (b *BLE) find(ctx context.Context) (bluetooth.Address, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultScanTimeout)
		defer cancel()
	}

	var (
		addr  bluetooth.Address
		found bool
	)
	err := scan(ctx, b.adapter, func(result bluetooth.ScanResult) bool {
		if !strings.EqualFold(result.Address.String(), b.address) {
			return false
		}
		addr = result.Address
		found = true
		return true
	})
	if err != nil {
		return addr, err
	}
	if !found {
		return addr, fmt.Errorf("%s: %w", b.address, ErrDeviceNotFound)
	}
	return addr, nil
}

func (b *BLE) discover(device bluetooth.Device) (notify bluetooth.DeviceCharacteristic, write *bluetooth.DeviceCharacteristic, err error) {
	serviceUUID, err := parseUUID(b.vendor.ServiceUUID)
	if err != nil {
		return notify, nil, err
	}
	notifyUUID, err := parseUUID(b.vendor.NotifyUUID)
	if err != nil {
		return notify, nil, err
	}
	wanted := []bluetooth.UUID{notifyUUID}

	var writeUUID bluetooth.UUID
	if b.vendor.WriteUUID != "" {
		writeUUID, err = parseUUID(b.vendor.WriteUUID)
		if err != nil {
			return notify, nil, err
		}
		if writeUUID != notifyUUID {
			wanted = append(wanted, writeUUID)
		}
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return notify, nil, fmt.Errorf("service discovery failed: %w", err)
	}
	if len(services) == 0 {
		return notify, nil, fmt.Errorf("service %s not found", b.vendor.ServiceUUID)
	}

	chars, err := services[0].DiscoverCharacteristics(wanted)
	if err != nil {
		return notify, nil, fmt.Errorf("characteristic discovery failed: %w", err)
	}

	var haveNotify bool
	for i := range chars {
		c := chars[i]
		if c.UUID() == notifyUUID {
			notify = c
			haveNotify = true
		}
		if b.vendor.WriteUUID != "" && c.UUID() == writeUUID {
			write = &c
		}
	}
	if !haveNotify {
		return notify, nil, fmt.Errorf("notify characteristic %s not found", b.vendor.NotifyUUID)
	}
	if b.vendor.WriteUUID != "" && write == nil {
		return notify, nil, fmt.Errorf("write characteristic %s not found", b.vendor.WriteUUID)
	}
	return notify, write, nil
}

// notify runs on the bluetooth stack's goroutine and must not block
func (b *BLE) notify(buf []byte) {
	chunk := make([]byte, len(buf))
	copy(chunk, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chunks == nil {
		return
	}
	select {
	case b.chunks <- chunk:
	default:
		b.log.WithField("len", len(chunk)).Warn("notification dropped, consumer too slow")
	}
}

// Disconnect drops the link and closes the chunk channel
func (b *BLE) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.chunks != nil {
		close(b.chunks)
		b.chunks = nil
	}
	if b.device == nil {
		return nil
	}

	unwatchLink(b.address)
	err := b.device.Disconnect()
	b.device = nil
	b.writeChar = nil
	if err != nil {
		return &bms.TransportError{Op: "disconnect", Err: err}
	}
	b.log.Debug("disconnected")
	return nil
}

// Write sends one request without response
func (b *BLE) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	device, char := b.device, b.writeChar
	b.mu.Unlock()

	if device == nil {
		return &bms.TransportError{Op: "write", Err: ErrNotConnected}
	}
	if char == nil {
		return &bms.TransportError{Op: "write", Err: ErrNoWriteCharacteristic}
	}
	if _, err := char.WriteWithoutResponse(p); err != nil {
		return &bms.TransportError{Op: "write", Err: err}
	}
	return nil
}

// Chunks returns the notification channel of the current connection
func (b *BLE) Chunks() <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunks
}

// Connected reports whether the GATT link is up
func (b *BLE) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device != nil
}

// Device Information service characteristics
var infoChars = []struct {
	uuid bluetooth.UUID
	set  func(*bms.DeviceInfo, string)
}{
	{bluetooth.CharacteristicUUIDManufacturerNameString, func(i *bms.DeviceInfo, v string) { i.Manufacturer = v }},
	{bluetooth.CharacteristicUUIDModelNumberString, func(i *bms.DeviceInfo, v string) { i.Model = v }},
	{bluetooth.CharacteristicUUIDSerialNumberString, func(i *bms.DeviceInfo, v string) { i.Serial = v }},
	{bluetooth.CharacteristicUUIDHardwareRevisionString, func(i *bms.DeviceInfo, v string) { i.HWVersion = v }},
	{bluetooth.CharacteristicUUIDFirmwareRevisionString, func(i *bms.DeviceInfo, v string) { i.SWVersion = v }},
	{bluetooth.CharacteristicUUIDSoftwareRevisionString, func(i *bms.DeviceInfo, v string) {
		if i.SWVersion == "" {
			i.SWVersion = v
		}
	}},
}

// ReadInfo reads the GATT Device Information service. Characteristics the
// device lacks or refuses to read stay empty.
func (b *BLE) ReadInfo(ctx context.Context) (bms.DeviceInfo, error) {
	var info bms.DeviceInfo
	if err := ctx.Err(); err != nil {
		return info, err
	}

	b.mu.Lock()
	device := b.device
	b.mu.Unlock()
	if device == nil {
		return info, &bms.TransportError{Op: "read", Err: ErrNotConnected}
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDDeviceInformation})
	if err != nil {
		return info, fmt.Errorf("service discovery failed: %w", err)
	}
	if len(services) == 0 {
		return info, errors.New("device information service not found")
	}
	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		return info, fmt.Errorf("characteristic discovery failed: %w", err)
	}

	buf := make([]byte, 64)
	for _, c := range chars {
		for _, ic := range infoChars {
			if c.UUID() != ic.uuid {
				continue
			}
			n, err := c.Read(buf)
			if err != nil {
				b.log.WithError(err).WithField("uuid", ic.uuid.String()).Debug("info read failed")
				continue
			}
			if v := strings.TrimRight(string(buf[:n]), "\x00 "); v != "" {
				ic.set(&info, v)
			}
		}
	}
	return info, nil
}

// Scan reports advertisements until ctx is done. serviceUUIDs lists the
// services worth checking for; the stack only answers membership queries.
func Scan(ctx context.Context, serviceUUIDs []string, fn func(bms.Advertisement)) error {
	adapter := bluetooth.DefaultAdapter
	if err := enableAdapter(adapter); err != nil {
		return fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}

	candidates := make(map[string]bluetooth.UUID, len(serviceUUIDs))
	for _, s := range serviceUUIDs {
		u, err := parseUUID(s)
		if err != nil {
			return err
		}
		candidates[bms.NormalizeUUID(s)] = u
	}

	return scan(ctx, adapter, func(result bluetooth.ScanResult) bool {
		fn(advertisement(result, candidates))
		return false
	})
}

func advertisement(result bluetooth.ScanResult, candidates map[string]bluetooth.UUID) bms.Advertisement {
	adv := bms.Advertisement{
		Address:   result.Address.String(),
		LocalName: result.LocalName(),
		RSSI:      result.RSSI,
	}
	for name, u := range candidates {
		if result.HasServiceUUID(u) {
			adv.ServiceUUIDs = append(adv.ServiceUUIDs, name)
		}
	}
	if md := result.ManufacturerData(); len(md) > 0 {
		adv.ManufacturerData = make(map[uint16][]byte, len(md))
		for _, e := range md {
			adv.ManufacturerData[e.CompanyID] = e.Data
		}
	}
	return adv
}

// scan runs one adapter scan until fn returns true or ctx is done
func scan(ctx context.Context, adapter *bluetooth.Adapter, fn func(bluetooth.ScanResult) bool) error {
	scanMu.Lock()
	defer scanMu.Unlock()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() { adapter.StopScan() })
	}

	result := make(chan error, 1)
	go func() {
		result <- adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if fn(r) {
				stop()
			}
		})
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		stop()
		<-result
		return nil
	}
}

func parseUUID(s string) (bluetooth.UUID, error) {
	u, err := bluetooth.ParseUUID(bms.NormalizeUUID(s))
	if err != nil {
		return u, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}
