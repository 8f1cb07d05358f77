// Package classify maps controller devices to the coarse device types used
// by the device-type search filter.
package classify

import (
	"sort"
	"strings"

	"github.com/scrypster/entityindex/pkg/types"
)

// Device types.
const (
	Dimmer       = "dimmer"
	Relay        = "relay"
	Sensor       = "sensor"
	Thermostat   = "thermostat"
	SpeedControl = "speedcontrol"
	Sprinkler    = "sprinkler"
	MultiIO      = "multiio"
	Device       = "device"
)

var classTypes = map[string]string{
	"DimmerDevice":       Dimmer,
	"RelayDevice":        Relay,
	"SensorDevice":       Sensor,
	"ThermostatDevice":   Thermostat,
	"SpeedControlDevice": SpeedControl,
	"SprinklerDevice":    Sprinkler,
	"MultiIODevice":      MultiIO,
}

// deviceTypeIDHints is checked in order; the first substring found in the
// lower-cased deviceTypeId wins.
var deviceTypeIDHints = []struct {
	substr string
	typ    string
}{
	{"dimmer", Dimmer},
	{"relay", Relay},
	{"switch", Relay},
	{"thermostat", Thermostat},
	{"sprinkler", Sprinkler},
	{"speedcontrol", SpeedControl},
	{"fan", SpeedControl},
	{"multiio", MultiIO},
	{"iolinc", MultiIO},
	{"sensor", Sensor},
	{"motion", Sensor},
}

// Types returns every known device type, sorted.
func Types() []string {
	out := []string{Dimmer, Relay, Sensor, Thermostat, SpeedControl, Sprinkler, MultiIO, Device}
	sort.Strings(out)
	return out
}

// IsType reports whether s names a known device type.
func IsType(s string) bool {
	for _, t := range Types() {
		if t == s {
			return true
		}
	}
	return false
}

// Classify returns the device type for d. The controller class hint decides
// when present ("indigo.DimmerDevice" and "DimmerDevice" are both accepted);
// otherwise the deviceTypeId is matched against known substrings. Unknown
// devices are Device.
func Classify(d *types.Device) string {
	if d == nil {
		return Device
	}
	class := d.Class
	if i := strings.LastIndexByte(class, '.'); i >= 0 {
		class = class[i+1:]
	}
	if t, ok := classTypes[class]; ok {
		return t
	}

	typeID := strings.ToLower(d.DeviceTypeID)
	if typeID == "" {
		return Device
	}
	for _, h := range deviceTypeIDHints {
		if strings.Contains(typeID, h.substr) {
			return h.typ
		}
	}
	return Device
}
