package sensor

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// devicePrefix namespaces every unique id and device identifier
// published through the discovery convention.
const devicePrefix = "hdsentinel"

// DiskIdentity is the immutable identity of one physical disk, created
// the first time the disk is observed.
type DiskIdentity struct {
	SerialNumber     string
	ModelID          string
	FirmwareRevision string
}

// Descriptor is one expanded discovery message: the config topic and
// its JSON payload.
type Descriptor struct {
	Topic   string
	Payload []byte
}

// Expansion is the result of expanding the template store against one
// disk: the ordered discovery descriptors plus the resolved per-key
// value types and topics the publish loop needs each cycle.
type Expansion struct {
	Descriptors       []Descriptor
	ValueTypes        map[string]ValueType
	StateTopic        string
	AvailabilityTopic string
}

// Expand produces the full discovery descriptor set for one disk. It is
// a pure function: expanding the same identity against the same store
// twice yields byte-identical descriptors (payload maps marshal with
// sorted keys). Emission to the transport is the caller's concern.
func Expand(identity DiskIdentity, alias string, store *Store, baseTopic string, interval time.Duration) (Expansion, error) {
	exp := Expansion{
		ValueTypes:        make(map[string]ValueType, store.Len()),
		StateTopic:        baseTopic + "/" + alias + "/hdsentinel",
		AvailabilityTopic: baseTopic + "/" + alias + "/availability",
	}
	expireAfter := int(math.Ceil(1.5 * interval.Seconds()))

	for _, tpl := range store.Templates() {
		exp.ValueTypes[tpl.Key] = tpl.Type

		payload := map[string]interface{}{
			"device": map[string]interface{}{
				"identifiers":  []string{devicePrefix + "_" + identity.SerialNumber},
				"manufacturer": devicePrefix,
				"name":         alias,
				"model":        identity.ModelID,
				"sw_version":   identity.FirmwareRevision,
			},
			"expire_after":          expireAfter,
			"unique_id":             devicePrefix + "_" + identity.SerialNumber + "_" + tpl.Key,
			"name":                  alias + "_" + tpl.Name,
			"availability_topic":    exp.AvailabilityTopic,
			"state_topic":           exp.StateTopic,
			"json_attributes_topic": exp.StateTopic,
			"value_template":        "{{value_json." + tpl.Key + "}}",
		}
		// Template payload wins over the generated fields.
		for key, value := range tpl.Payload {
			payload[key] = value
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return Expansion{}, fmt.Errorf("failed to marshal descriptor %s/%s: %w", tpl.Kind, tpl.Name, err)
		}

		exp.Descriptors = append(exp.Descriptors, Descriptor{
			Topic:   fmt.Sprintf("homeassistant/%s/%s_%s/%s/config", tpl.Kind, devicePrefix, alias, tpl.Key),
			Payload: data,
		})
	}
	return exp, nil
}
