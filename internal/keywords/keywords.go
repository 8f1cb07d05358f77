// Package keywords derives rule-based semantic keywords for entities. The
// keywords are appended to the embedded text and folded into the content
// hash, so their output must be deterministic: Generate always returns a
// sorted, de-duplicated slice.
package keywords

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/scrypster/entityindex/internal/classify"
	"github.com/scrypster/entityindex/pkg/types"
)

// lowBattery is the level below which a device is tagged low_battery.
const lowBattery = 20

type rule struct {
	match string
	words []string
}

// Rules match when rule.match is a substring of the lower-cased subject.
var (
	deviceTypeRules = []rule{
		{"relay", []string{"switch", "switching", "on_off", "control"}},
		{"dimmer", []string{"lighting", "dimmable", "brightness", "level"}},
		{"sensor", []string{"monitoring", "detection", "measurement"}},
		{"thermostat", []string{"climate", "temperature", "hvac", "heating", "cooling"}},
		{"sprinkler", []string{"irrigation", "watering", "garden", "outdoor"}},
		{"lock", []string{"security", "access", "door"}},
		{"camera", []string{"security", "monitoring", "surveillance", "video"}},
		{"motion", []string{"detection", "security", "automation", "trigger"}},
		{"contact", []string{"door", "window", "security", "monitoring"}},
		{"temperature", []string{"climate", "monitoring", "sensor"}},
		{"humidity", []string{"climate", "moisture", "comfort"}},
		{"light", []string{"lighting", "illumination", "brightness"}},
		{"energy", []string{"power", "consumption", "monitoring", "meter"}},
	}

	manufacturerRules = []rule{
		{"insteon", []string{"insteon"}},
		{"z-wave", []string{"zwave"}},
		{"zwave", []string{"zwave"}},
		{"zigbee", []string{"zigbee"}},
		{"lutron", []string{"lutron", "caseta"}},
		{"philips", []string{"philips", "hue"}},
		{"nest", []string{"nest", "google"}},
		{"ecobee", []string{"ecobee"}},
		{"honeywell", []string{"honeywell"}},
		{"schlage", []string{"schlage"}},
		{"yale", []string{"yale"}},
		{"august", []string{"august"}},
		{"ring", []string{"ring"}},
		{"arlo", []string{"arlo"}},
		{"sonos", []string{"sonos", "audio"}},
		{"roku", []string{"roku", "streaming"}},
		{"apple", []string{"apple", "homekit"}},
		{"amazon", []string{"amazon", "alexa"}},
		{"google", []string{"google", "assistant"}},
	}

	locationRules = []rule{
		{"living", []string{"living_room", "family_room", "main"}},
		{"bedroom", []string{"bedroom", "bed", "sleep"}},
		{"kitchen", []string{"kitchen", "cook"}},
		{"bathroom", []string{"bathroom", "bath"}},
		{"garage", []string{"garage", "car"}},
		{"basement", []string{"basement", "lower"}},
		{"attic", []string{"attic", "upper"}},
		{"office", []string{"office", "work", "study"}},
		{"dining", []string{"dining_room", "eat"}},
		{"family", []string{"family_room", "den"}},
		{"guest", []string{"guest_room", "spare"}},
		{"master", []string{"master_bedroom", "primary"}},
		{"hallway", []string{"hallway", "corridor"}},
		{"entryway", []string{"entryway", "foyer", "entrance"}},
		{"patio", []string{"patio", "deck", "outdoor"}},
		{"yard", []string{"yard", "garden", "outdoor"}},
		{"driveway", []string{"driveway", "drive"}},
		{"front", []string{"front_door", "entrance"}},
		{"back", []string{"back_door", "rear"}},
		{"upstairs", []string{"upstairs", "upper"}},
		{"downstairs", []string{"downstairs", "lower"}},
		{"closet", []string{"closet", "storage"}},
	}

	functionRules = []rule{
		{"light", []string{"lighting", "illumination", "lamp"}},
		{"lamp", []string{"lighting", "illumination", "light"}},
		{"switch", []string{"switching", "control"}},
		{"fan", []string{"cooling", "ventilation", "air"}},
		{"outlet", []string{"power", "plug"}},
		{"door", []string{"access", "entry"}},
		{"window", []string{"opening", "view"}},
		{"lock", []string{"security", "access"}},
		{"sensor", []string{"monitoring", "detection"}},
		{"camera", []string{"security", "surveillance"}},
		{"speaker", []string{"audio", "sound"}},
		{"tv", []string{"entertainment", "media"}},
		{"heater", []string{"heating", "warm"}},
		{"cooler", []string{"cooling", "cold"}},
		{"pump", []string{"water", "circulation"}},
		{"valve", []string{"flow", "control"}},
	}

	variableNameRules = []rule{
		{"temp", []string{"temperature"}},
		{"humidity", []string{"humidity"}},
		{"status", []string{"status"}},
		{"state", []string{"state"}},
		{"mode", []string{"mode"}},
		{"level", []string{"level"}},
	}

	actionNameRules = []rule{
		{"turn", []string{"switching"}},
		{"switch", []string{"switching"}},
		{"toggle", []string{"switching"}},
		{"dim", []string{"lighting"}},
		{"bright", []string{"lighting"}},
		{"light", []string{"lighting"}},
		{"scene", []string{"scene"}},
		{"mood", []string{"scene"}},
		{"security", []string{"security"}},
		{"alarm", []string{"security"}},
		{"lock", []string{"security"}},
		{"climate", []string{"climate"}},
		{"temp", []string{"climate"}},
		{"heat", []string{"climate"}},
		{"cool", []string{"climate"}},
		{"schedule", []string{"automation"}},
		{"timer", []string{"automation"}},
		{"delay", []string{"automation"}},
		{"morning", []string{"time_based"}},
		{"evening", []string{"time_based"}},
		{"night", []string{"time_based"}},
		{"bedtime", []string{"time_based"}},
		{"all", []string{"global"}},
		{"house", []string{"global"}},
		{"whole", []string{"global"}},
	}
)

// Generate returns the semantic keywords for e.
func Generate(e types.Entity) []string {
	set := make(map[string]struct{})
	switch v := e.(type) {
	case *types.Device:
		deviceKeywords(v, set)
	case *types.Variable:
		variableKeywords(v, set)
	case *types.Action:
		applyRules(strings.ToLower(v.Name), actionNameRules, set)
		applyRules(strings.ToLower(v.Name), locationRules, set)
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func deviceKeywords(d *types.Device, set map[string]struct{}) {
	typ := classify.Classify(d)
	set[typ] = struct{}{}
	applyRules(typ+" "+strings.ToLower(d.DeviceTypeID), deviceTypeRules, set)

	if model := strings.ToLower(strings.TrimSpace(d.Model)); model != "" {
		set[model] = struct{}{}
		applyRules(model, manufacturerRules, set)
	}

	if protocol := strings.ToLower(strings.TrimSpace(d.Protocol)); protocol != "" {
		set[protocol] = struct{}{}
		set[protocol+"_device"] = struct{}{}
	}

	if d.Enabled == nil || *d.Enabled {
		set["enabled"] = struct{}{}
	} else {
		set["disabled"] = struct{}{}
	}

	if v, ok := d.State("batteryLevel"); ok && v != nil {
		set["battery_powered"] = struct{}{}
		if level, ok := number(v); ok && level < lowBattery {
			set["low_battery"] = struct{}{}
		}
	}
	if present(d, "energyAccumTotal") {
		set["energy_meter"] = struct{}{}
	}
	if present(d, "curEnergyLevel") {
		set["energy_monitoring"] = struct{}{}
	}
	if present(d, "temperatureInput1") || present(d, "sensorValue") {
		set["temperature_sensor"] = struct{}{}
	}
	if present(d, "brightness") {
		set["dimmable"] = struct{}{}
		set["lighting"] = struct{}{}
	}

	name := strings.ToLower(d.Name)
	applyRules(name, locationRules, set)
	applyRules(name, functionRules, set)
}

func variableKeywords(v *types.Variable, set map[string]struct{}) {
	value := strings.ToLower(strings.TrimSpace(v.Value))
	switch {
	case value == "true" || value == "false":
		set["boolean"] = struct{}{}
		set[value] = struct{}{}
	case isNumeric(value):
		set["numeric"] = struct{}{}
		if f, _ := strconv.ParseFloat(value, 64); f == 0 {
			set["zero"] = struct{}{}
		}
	default:
		set["string"] = struct{}{}
		if value == "on" || value == "off" {
			set["switch_state"] = struct{}{}
		}
	}

	name := strings.ToLower(v.Name)
	applyRules(name, variableNameRules, set)
	applyRules(name, locationRules, set)
}

func applyRules(subject string, rules []rule, set map[string]struct{}) {
	if subject == "" {
		return
	}
	for _, r := range rules {
		if strings.Contains(subject, r.match) {
			for _, w := range r.words {
				set[w] = struct{}{}
			}
		}
	}
}

func present(d *types.Device, key string) bool {
	v, ok := d.State(key)
	return ok && v != nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
