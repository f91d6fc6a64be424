// Package bridge drives the poll/publish loop: it registers every disk
// found at startup with the discovery convention, then republishes
// telemetry and availability on a fixed cadence until cancelled.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hdsentinelmqtt/internal/hdsentinel"
	"hdsentinelmqtt/internal/mqtt"
	"hdsentinelmqtt/internal/sensor"
	"hdsentinelmqtt/internal/storage"
)

// Availability is the last availability state published for a disk.
type Availability string

const (
	AvailabilityUnknown Availability = ""
	AvailabilityOnline  Availability = "online"
	AvailabilityOffline Availability = "offline"
)

// Transport is the publish-only client the bridge emits through.
type Transport interface {
	PublishSingle(topic string, payload []byte, retain bool) error
	PublishMultiple(msgs []mqtt.Message) error
}

// Options configures the bridge loop.
type Options struct {
	BaseTopic       string        // state/availability topic prefix
	Interval        time.Duration // poll cadence
	SnapshotTimeout time.Duration // per-snapshot deadline, 0 = none
	Once            bool          // run a single steady cycle, then drain
}

// diskState is the per-disk runtime state tracked across cycles. The
// identity and expansion are immutable once registered; only the
// availability field changes.
type diskState struct {
	identity     sensor.DiskIdentity
	alias        string
	expansion    sensor.Expansion
	availability Availability
}

// Bridge owns the registered disk set and the poll loop. All mutation
// happens on the single loop goroutine.
type Bridge struct {
	source    hdsentinel.Source
	transport Transport
	templates *sensor.Store
	store     *storage.Store // optional, nil disables the reading store
	log       *logrus.Logger
	opts      Options

	disks map[string]*diskState
	order []string // serials in registration order
}

// New creates a bridge. store may be nil.
func New(source hdsentinel.Source, transport Transport, templates *sensor.Store, store *storage.Store, log *logrus.Logger, opts Options) *Bridge {
	return &Bridge{
		source:    source,
		transport: transport,
		templates: templates,
		store:     store,
		log:       log,
		opts:      opts,
		disks:     make(map[string]*diskState),
	}
}

// Bootstrap takes the initial snapshot and registers every disk it
// contains: identity, alias, discovery descriptors published retained.
// An empty snapshot is a startup failure, the operator should learn
// that no disks were found rather than watch the process idle.
func (b *Bridge) Bootstrap(ctx context.Context) error {
	snapshot, err := b.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("initial snapshot failed: %w", err)
	}
	if len(snapshot) == 0 {
		return fmt.Errorf("no disks found in initial snapshot")
	}

	serials := make([]string, 0, len(snapshot))
	for serial := range snapshot {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	for _, serial := range serials {
		if err := b.register(serial, snapshot[serial]); err != nil {
			b.log.WithField("disk", serial).WithError(err).Error("failed to register disk")
			continue
		}
	}

	if len(b.disks) == 0 {
		return fmt.Errorf("no disks could be registered")
	}
	return nil
}

func (b *Bridge) register(serial string, attrs hdsentinel.Attributes) error {
	identity := hdsentinel.Identity(serial, attrs)
	alias := sensor.BuildAlias(identity.ModelID, identity.SerialNumber)

	expansion, err := sensor.Expand(identity, alias, b.templates, b.opts.BaseTopic, b.opts.Interval)
	if err != nil {
		return err
	}

	msgs := make([]mqtt.Message, 0, len(expansion.Descriptors))
	for _, desc := range expansion.Descriptors {
		msgs = append(msgs, mqtt.Message{Topic: desc.Topic, Payload: desc.Payload, Retain: true})
	}
	if err := b.transport.PublishMultiple(msgs); err != nil {
		return fmt.Errorf("failed to publish discovery config: %w", err)
	}

	b.log.WithFields(logrus.Fields{
		"disk":    serial,
		"alias":   alias,
		"sensors": len(expansion.Descriptors),
	}).Info("registered disk")

	b.disks[serial] = &diskState{
		identity:  identity,
		alias:     alias,
		expansion: expansion,
	}
	b.order = append(b.order, serial)

	if b.store != nil {
		if err := b.store.SaveDisk(storage.DiskRecord{
			Serial:       serial,
			Alias:        alias,
			Model:        identity.ModelID,
			Firmware:     identity.FirmwareRevision,
			Availability: string(AvailabilityUnknown),
			UpdatedAt:    time.Now(),
		}); err != nil {
			b.log.WithField("disk", serial).WithError(err).Warn("failed to record disk in state store")
		}
	}
	return nil
}

// Run executes the steady polling loop until ctx is cancelled, then
// drains. Cancellation is observed at the top of each iteration and at
// the sleep boundary; an in-flight publish is never interrupted.
func (b *Bridge) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			break
		}

		b.cycle(ctx)

		if b.opts.Once {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(b.opts.Interval):
			continue
		}
		break
	}
	b.drain()
}

// cycle runs one poll/publish pass. A snapshot failure skips the whole
// cycle; a per-disk failure skips that disk only.
func (b *Bridge) cycle(ctx context.Context) {
	snapshot, err := b.snapshot(ctx)
	if err != nil {
		b.log.WithError(err).Error("snapshot failed, skipping cycle")
		return
	}
	if len(snapshot) == 0 {
		b.log.Warn("snapshot returned no disks, skipping cycle")
		return
	}

	for _, serial := range b.order {
		state := b.disks[serial]
		attrs, present := snapshot[serial]

		if !present {
			b.setAvailability(state, AvailabilityOffline)
			continue
		}

		if err := b.publishState(state, attrs); err != nil {
			b.log.WithField("disk", serial).WithError(err).Error("failed to publish disk state")
			continue
		}
		b.setAvailability(state, AvailabilityOnline)
	}

	for serial := range snapshot {
		if _, known := b.disks[serial]; !known {
			b.log.WithField("disk", serial).Warn("skipping disk that was not present at startup")
		}
	}
}

// publishState coerces the raw attributes per the resolved value types
// and publishes them as one JSON object to the disk's state topic.
func (b *Bridge) publishState(state *diskState, attrs hdsentinel.Attributes) error {
	status := make(map[string]interface{}, len(attrs))
	for key, raw := range attrs {
		key = strings.ToLower(key)
		valueType, ok := state.expansion.ValueTypes[key]
		if !ok {
			valueType = sensor.TypeString
		}
		status[key] = sensor.Coerce(raw, valueType)
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal disk state: %w", err)
	}
	if err := b.transport.PublishSingle(state.expansion.StateTopic, payload, false); err != nil {
		return err
	}

	if b.store != nil {
		if err := b.store.SaveReading(state.alias, payload, time.Now()); err != nil {
			b.log.WithField("disk", state.identity.SerialNumber).WithError(err).Warn("failed to record reading")
		}
	}
	return nil
}

// setAvailability publishes the availability transition for a disk.
// Republishing the current state is suppressed so retained traffic
// stays idempotent across cycles.
func (b *Bridge) setAvailability(state *diskState, target Availability) {
	if state.availability == target {
		return
	}

	b.log.WithFields(logrus.Fields{
		"disk":         state.identity.SerialNumber,
		"availability": target,
	}).Info("publishing availability")

	if err := b.transport.PublishSingle(state.expansion.AvailabilityTopic, []byte(target), true); err != nil {
		b.log.WithField("disk", state.identity.SerialNumber).WithError(err).Error("failed to publish availability")
		return
	}
	state.availability = target
	b.recordAvailability(state)
}

// drain publishes offline for every registered disk. The idempotence
// check is bypassed: the process is exiting and the retained state on
// the bus must reflect that. Per-disk errors never stop the walk.
func (b *Bridge) drain() {
	for _, serial := range b.order {
		state := b.disks[serial]
		b.log.WithField("disk", serial).Info("publishing offline status")

		if err := b.transport.PublishSingle(state.expansion.AvailabilityTopic, []byte(AvailabilityOffline), true); err != nil {
			b.log.WithField("disk", serial).WithError(err).Error("failed to publish offline status")
			continue
		}
		state.availability = AvailabilityOffline
		b.recordAvailability(state)
	}
}

func (b *Bridge) recordAvailability(state *diskState) {
	if b.store == nil {
		return
	}
	if err := b.store.SetAvailability(state.alias, string(state.availability)); err != nil {
		b.log.WithField("disk", state.identity.SerialNumber).WithError(err).Warn("failed to record availability")
	}
}

func (b *Bridge) snapshot(ctx context.Context) (hdsentinel.Snapshot, error) {
	if b.opts.SnapshotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.SnapshotTimeout)
		defer cancel()
	}
	return b.source.Snapshot(ctx)
}
