// Package hdsentinel reads disk-health snapshots from the Hard Disk
// Sentinel utility. Two backends produce the same snapshot shape: a
// bulk XML report and a per-device plain-text query.
package hdsentinel

import (
	"context"

	"hdsentinelmqtt/internal/sensor"
)

// Canonical attribute names shared by both backends. The XML report
// uses these element names verbatim; the text backend maps its scraped
// field labels onto them.
const (
	AttrSerialNumber     = "Hard_Disk_Serial_Number"
	AttrModelID          = "Hard_Disk_Model_ID"
	AttrFirmwareRevision = "Firmware_Revision"
)

// Attributes is the flat raw attribute map of one disk.
type Attributes map[string]string

// Snapshot maps disk serial numbers to their raw attributes.
type Snapshot map[string]Attributes

// Source produces disk snapshots. Implementations must be safe to call
// repeatedly and may return an empty snapshot on transient failure.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Identity extracts the immutable disk identity from a snapshot entry.
func Identity(serial string, attrs Attributes) sensor.DiskIdentity {
	id := sensor.DiskIdentity{
		SerialNumber:     serial,
		ModelID:          attrs[AttrModelID],
		FirmwareRevision: attrs[AttrFirmwareRevision],
	}
	if id.ModelID == "" {
		id.ModelID = "Unknown"
	}
	if id.FirmwareRevision == "" {
		id.FirmwareRevision = "Unknown"
	}
	return id
}
