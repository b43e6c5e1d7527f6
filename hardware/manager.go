package hardware

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestrel-go/errctx"
)

const (
	// MaxReconnectAttempts bounds how often a lost device is retried before
	// it is left disconnected until the next scan.
	MaxReconnectAttempts = 3

	// reconnectBaseDelay is the wait before the first reconnect attempt;
	// each following attempt doubles it.
	reconnectBaseDelay = 500 * time.Millisecond
)

// Manager tracks hardware signers across all registered vendors. Operations
// against the same device are serialized, operations against distinct
// devices run in parallel.
type Manager struct {
	log     *logrus.Logger
	vendors []Vendor

	mu       sync.RWMutex
	registry map[string]*DeviceRecord
	byDevice map[string]Vendor

	opMu      sync.Mutex
	deviceOps map[string]*sync.Mutex

	wg   sync.WaitGroup
	quit chan struct{}

	now func() time.Time
}

func NewManager(log *logrus.Logger, vendors ...Vendor) *Manager {
	return &Manager{
		log:       log,
		vendors:   vendors,
		registry:  make(map[string]*DeviceRecord),
		byDevice:  make(map[string]Vendor),
		deviceOps: make(map[string]*sync.Mutex),
		quit:      make(chan struct{}),
		now:       time.Now,
	}
}

// Close stops any in-flight reconnect loops and waits for them to finish.
func (m *Manager) Close() {
	close(m.quit)
	m.wg.Wait()
}

// ScanDevices queries every vendor and replaces the registry view
// atomically. Devices seen before keep their FirstSeen timestamp; devices a
// vendor no longer reports are marked disconnected but stay in the registry.
func (m *Manager) ScanDevices(ctx context.Context) ([]DeviceRecord, error) {
	type scanResult struct {
		vendor  Vendor
		devices []DeviceInfo
		err     error
	}

	results := make([]scanResult, len(m.vendors))
	var wg sync.WaitGroup
	for i, v := range m.vendors {
		wg.Add(1)
		go func(i int, v Vendor) {
			defer wg.Done()
			devices, err := v.ListDevices(ctx)
			results[i] = scanResult{vendor: v, devices: devices, err: err}
		}(i, v)
	}
	wg.Wait()

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var firstErr error
	for _, r := range results {
		if r.err != nil {
			m.log.WithFields(logrus.Fields{
				"vendor": r.vendor.Name(),
				"error":  r.err,
			}).Warn("hardware: vendor scan failed")
			if firstErr == nil {
				firstErr = errctx.E(errctx.KindNetworkFailure, errctx.New("hardware_scan"),
					"vendor %s scan failed: %v", r.vendor.Name(), r.err)
			}
			continue
		}
		for _, info := range r.devices {
			seen[info.ID] = true
			m.byDevice[info.ID] = r.vendor
			if rec, ok := m.registry[info.ID]; ok {
				rec.State = StateConnected
				rec.LastSeen = now
				rec.Model = info.Model
				rec.FirmwareVersion = info.FirmwareVersion
				rec.ReconnectAttempts = 0
				continue
			}
			m.registry[info.ID] = &DeviceRecord{
				ID:              info.ID,
				Vendor:          r.vendor.Name(),
				Model:           info.Model,
				FirmwareVersion: info.FirmwareVersion,
				State:           StateConnected,
				FirstSeen:       now,
				LastSeen:        now,
			}
		}
	}

	for id, rec := range m.registry {
		if !seen[id] && rec.State == StateConnected {
			rec.State = StateDisconnected
		}
	}

	return m.devicesLocked(), firstErr
}

// Devices returns a snapshot of every known device, connected or not,
// sorted by id.
func (m *Manager) Devices() []DeviceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.devicesLocked()
}

func (m *Manager) devicesLocked() []DeviceRecord {
	out := make([]DeviceRecord, 0, len(m.registry))
	for _, rec := range m.registry {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Device returns a copy of one device record.
func (m *Manager) Device(deviceID string) (DeviceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.registry[deviceID]
	if !ok {
		return DeviceRecord{}, errctx.E(errctx.KindNotFound, errctx.New("hardware_device"),
			"unknown device %s", deviceID)
	}
	return *rec, nil
}

// Sign routes a signing request to the device's vendor. Requests for the
// same device queue behind each other; requests for different devices
// proceed concurrently.
func (m *Manager) Sign(ctx context.Context, deviceID string, digest []byte) ([]byte, error) {
	ec := errctx.New("hardware_sign")

	m.mu.RLock()
	rec, ok := m.registry[deviceID]
	var vendor Vendor
	var state ConnectionState
	if ok {
		vendor = m.byDevice[deviceID]
		state = rec.State
	}
	m.mu.RUnlock()

	if !ok || vendor == nil {
		return nil, errctx.E(errctx.KindNotFound, ec, "unknown device %s", deviceID)
	}
	if state != StateConnected {
		return nil, errctx.E(errctx.KindHardwareUnsupported, ec,
			"device %s is %s", deviceID, state)
	}

	lock := m.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	sig, err := vendor.Sign(ctx, deviceID, digest)
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"device":         deviceID,
			"vendor":         vendor.Name(),
			"correlation_id": ec.CorrelationID,
			"error":          err,
		}).Warn("hardware: sign failed")
		return nil, err
	}

	m.mu.Lock()
	if rec, ok := m.registry[deviceID]; ok {
		rec.LastSeen = m.now()
	}
	m.mu.Unlock()

	return sig, nil
}

func (m *Manager) deviceLock(deviceID string) *sync.Mutex {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	lock, ok := m.deviceOps[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		m.deviceOps[deviceID] = lock
	}
	return lock
}

// HandleDisconnect marks the device disconnected and starts a bounded
// background reconnect loop. The record is never removed: account data
// referencing the device stays valid while it is away.
func (m *Manager) HandleDisconnect(deviceID string) error {
	m.mu.Lock()
	rec, ok := m.registry[deviceID]
	if !ok {
		m.mu.Unlock()
		return errctx.E(errctx.KindNotFound, errctx.New("hardware_disconnect"),
			"unknown device %s", deviceID)
	}
	if rec.State == StateReconnecting {
		m.mu.Unlock()
		return nil
	}
	rec.State = StateReconnecting
	rec.ReconnectAttempts = 0
	vendor := m.byDevice[deviceID]
	m.mu.Unlock()

	m.log.WithField("device", deviceID).Info("hardware: device disconnected, attempting reconnect")

	m.wg.Add(1)
	go m.reconnectLoop(deviceID, vendor)
	return nil
}

func (m *Manager) reconnectLoop(deviceID string, vendor Vendor) {
	defer m.wg.Done()

	delay := reconnectBaseDelay
	for attempt := 1; attempt <= MaxReconnectAttempts; attempt++ {
		select {
		case <-time.After(delay):
		case <-m.quit:
			return
		}
		delay *= 2

		m.mu.Lock()
		if rec, ok := m.registry[deviceID]; ok {
			rec.ReconnectAttempts = attempt
		}
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		devices, err := vendor.ListDevices(ctx)
		cancel()
		if err != nil {
			continue
		}
		for _, info := range devices {
			if info.ID != deviceID {
				continue
			}
			m.mu.Lock()
			if rec, ok := m.registry[deviceID]; ok {
				rec.State = StateConnected
				rec.LastSeen = m.now()
				rec.ReconnectAttempts = 0
			}
			m.mu.Unlock()
			m.log.WithFields(logrus.Fields{
				"device":  deviceID,
				"attempt": attempt,
			}).Info("hardware: device reconnected")
			return
		}
	}

	m.mu.Lock()
	if rec, ok := m.registry[deviceID]; ok && rec.State == StateReconnecting {
		rec.State = StateDisconnected
	}
	m.mu.Unlock()
	m.log.WithField("device", deviceID).Warn("hardware: reconnect attempts exhausted")
}
