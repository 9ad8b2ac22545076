// Package placement assigns worker processes to accelerator devices.
//
// A plan is a flat, ordered table: device-major, process-minor. All workers
// for the first device come before any worker for the second, and pane
// indices follow that order.
package placement

import (
	"strconv"
	"strings"
)

// DeviceConfig is either Auto (use every discovered device) or an explicit
// ordered list of device identifiers.
type DeviceConfig struct {
	// IDs is nil for Auto.
	IDs []string
}

// Auto reports whether the configuration defers to device discovery.
func (c DeviceConfig) Auto() bool { return len(c.IDs) == 0 }

func (c DeviceConfig) String() string {
	if c.Auto() {
		return "auto"
	}
	return strings.Join(c.IDs, ",")
}

// ParseDeviceConfig parses a device configuration string.
//
// "", "auto", "all" and the legacy "0" select Auto. Anything else is a
// comma-separated list whose tokens are trimmed; empty tokens are dropped,
// so "0," pins device 0 alone. A list with no tokens left is Auto.
func ParseDeviceConfig(s string) DeviceConfig {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "auto", "all", "0":
		return DeviceConfig{}
	}
	var ids []string
	for _, tok := range strings.Split(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			ids = append(ids, tok)
		}
	}
	return DeviceConfig{IDs: ids}
}

// Entry places one worker process.
type Entry struct {
	// DeviceID is empty for CPU-only workers.
	DeviceID string `json:"device_id,omitempty"`
	// ProcessIndex counts workers on the same device, from 0.
	ProcessIndex int `json:"process_index"`
	// PaneIndex is the worker's position across the whole table.
	PaneIndex int `json:"pane_index"`
}

// CPUOnly reports whether the worker runs without a device.
func (e Entry) CPUOnly() bool { return e.DeviceID == "" }

// Table is an ordered placement; Table[i].PaneIndex == i.
type Table []Entry

// Devices returns the distinct device ids in table order.
func (t Table) Devices() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, e := range t {
		if e.CPUOnly() || seen[e.DeviceID] {
			continue
		}
		seen[e.DeviceID] = true
		ids = append(ids, e.DeviceID)
	}
	return ids
}

// CPUOnly reports whether the table has entries and none of them is bound
// to a device.
func (t Table) CPUOnly() bool {
	return len(t) > 0 && len(t.Devices()) == 0
}

// DeviceIDs resolves the device list for cfg. Explicit lists win over the
// discovered count; Auto enumerates "0".."discovered-1". A nil result
// means CPU-only.
func DeviceIDs(cfg DeviceConfig, discovered int) []string {
	if !cfg.Auto() {
		return append([]string(nil), cfg.IDs...)
	}
	if discovered <= 0 {
		return nil
	}
	ids := make([]string, discovered)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	return ids
}

// Plan places perDevice workers on every device selected by cfg.
//
// With no devices (Auto and nothing discovered) the table holds perDevice
// CPU-only entries. perDevice <= 0 yields an empty table.
func Plan(cfg DeviceConfig, discovered, perDevice int) Table {
	if perDevice <= 0 {
		return Table{}
	}
	ids := DeviceIDs(cfg, discovered)
	if len(ids) == 0 {
		ids = []string{""}
	}
	table := make(Table, 0, len(ids)*perDevice)
	for _, id := range ids {
		for p := 0; p < perDevice; p++ {
			table = append(table, Entry{DeviceID: id, ProcessIndex: p, PaneIndex: len(table)})
		}
	}
	return table
}
