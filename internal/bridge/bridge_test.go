package bridge

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdsentinelmqtt/internal/hdsentinel"
	"hdsentinelmqtt/internal/mqtt"
	"hdsentinelmqtt/internal/sensor"
)

const bridgeTestTemplates = `
sensor:
  temperature:
    _type: int
    device_class: temperature
  health:
    _key: hard_disk_health
    _type: int
`

// fakeSource replays a queue of snapshots; the last entry repeats.
type fakeSource struct {
	snapshots []hdsentinel.Snapshot
	errs      []error
	calls     int
}

func (f *fakeSource) Snapshot(context.Context) (hdsentinel.Snapshot, error) {
	i := f.calls
	f.calls++
	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.snapshots[i], err
}

type publishRecord struct {
	topic   string
	payload string
	retain  bool
}

// fakeTransport records every publish and can fail selected topics.
type fakeTransport struct {
	published  []publishRecord
	failTopics map[string]error
}

func (f *fakeTransport) PublishSingle(topic string, payload []byte, retain bool) error {
	if err := f.failTopics[topic]; err != nil {
		return err
	}
	f.published = append(f.published, publishRecord{topic: topic, payload: string(payload), retain: retain})
	return nil
}

func (f *fakeTransport) PublishMultiple(msgs []mqtt.Message) error {
	for _, msg := range msgs {
		if err := f.PublishSingle(msg.Topic, msg.Payload, msg.Retain); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTransport) count(topic, payload string) int {
	var n int
	for _, rec := range f.published {
		if rec.topic == topic && (payload == "" || rec.payload == payload) {
			n++
		}
	}
	return n
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func diskAttrs(model, serial, temp string) hdsentinel.Attributes {
	return hdsentinel.Attributes{
		hdsentinel.AttrModelID:          model,
		hdsentinel.AttrSerialNumber:     serial,
		hdsentinel.AttrFirmwareRevision: "1AA01113",
		"Temperature":                   temp,
		"Hard_Disk_Health":              "100%",
		"Power_On_Time":                 "1234 days",
	}
}

func twoDiskSnapshot() hdsentinel.Snapshot {
	return hdsentinel.Snapshot{
		"S13PJ90S113060": diskAttrs("SAMSUNG HD103UJ", "S13PJ90S113060", "38 C"),
		"S13PJ90S113054": diskAttrs("SAMSUNG HD103UJ", "S13PJ90S113054", "41 C"),
	}
}

func newTestBridge(t *testing.T, source *fakeSource, transport *fakeTransport) *Bridge {
	t.Helper()
	templates, err := sensor.ParseStore([]byte(bridgeTestTemplates))
	require.NoError(t, err)

	return New(source, transport, templates, nil, testLogger(), Options{
		BaseTopic: "hdsentinel",
		Interval:  600 * time.Second,
	})
}

func TestBootstrapEmptySnapshotFails(t *testing.T) {
	source := &fakeSource{snapshots: []hdsentinel.Snapshot{{}}}
	b := newTestBridge(t, source, &fakeTransport{})

	err := b.Bootstrap(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no disks found")
}

func TestBootstrapPublishesDiscoveryPerDisk(t *testing.T) {
	source := &fakeSource{snapshots: []hdsentinel.Snapshot{twoDiskSnapshot()}}
	transport := &fakeTransport{}
	b := newTestBridge(t, source, transport)

	require.NoError(t, b.Bootstrap(context.Background()))

	// Two disks sharing a model, two templates each, no topic collisions.
	require.Len(t, transport.published, 4)
	topics := make(map[string]bool)
	for _, rec := range transport.published {
		assert.True(t, rec.retain, "discovery messages must be retained")
		assert.False(t, topics[rec.topic], "topic collision: %s", rec.topic)
		topics[rec.topic] = true
	}
	assert.True(t, topics["homeassistant/sensor/hdsentinel_samsung_hd103_uj_s13pj90s113060/temperature/config"])
	assert.True(t, topics["homeassistant/sensor/hdsentinel_samsung_hd103_uj_s13pj90s113054/temperature/config"])
}

func TestSteadyPublishesCoercedState(t *testing.T) {
	source := &fakeSource{snapshots: []hdsentinel.Snapshot{twoDiskSnapshot()}}
	transport := &fakeTransport{}
	b := newTestBridge(t, source, transport)

	require.NoError(t, b.Bootstrap(context.Background()))
	transport.published = nil

	b.cycle(context.Background())

	stateTopic := "hdsentinel/samsung_hd103_uj_s13pj90s113060/hdsentinel"
	require.Equal(t, 1, transport.count(stateTopic, ""))

	var state map[string]interface{}
	for _, rec := range transport.published {
		if rec.topic == stateTopic {
			assert.False(t, rec.retain, "state must not be retained")
			require.NoError(t, json.Unmarshal([]byte(rec.payload), &state))
		}
	}

	// Keys lowercased, declared types coerced, the rest passed through.
	assert.Equal(t, float64(38), state["temperature"])
	assert.Equal(t, float64(100), state["hard_disk_health"])
	assert.Equal(t, "1234 days", state["power_on_time"])
	assert.Equal(t, "SAMSUNG HD103UJ", state["hard_disk_model_id"])
}

func TestAvailabilityPublishedOnceWhileOnline(t *testing.T) {
	source := &fakeSource{snapshots: []hdsentinel.Snapshot{twoDiskSnapshot()}}
	transport := &fakeTransport{}
	b := newTestBridge(t, source, transport)

	require.NoError(t, b.Bootstrap(context.Background()))

	availTopic := "hdsentinel/samsung_hd103_uj_s13pj90s113060/availability"
	b.cycle(context.Background())
	b.cycle(context.Background())
	b.cycle(context.Background())

	assert.Equal(t, 1, transport.count(availTopic, "online"))
	assert.Equal(t, 0, transport.count(availTopic, "offline"))
}

func TestVanishedDiskGoesOfflineOnce(t *testing.T) {
	full := twoDiskSnapshot()
	partial := hdsentinel.Snapshot{
		"S13PJ90S113054": full["S13PJ90S113054"],
	}
	source := &fakeSource{snapshots: []hdsentinel.Snapshot{full, full, partial}}
	transport := &fakeTransport{}
	b := newTestBridge(t, source, transport)

	require.NoError(t, b.Bootstrap(context.Background()))
	b.cycle(context.Background()) // both online

	transport.published = nil
	b.cycle(context.Background()) // first disk vanished
	b.cycle(context.Background()) // still gone

	goneAvail := "hdsentinel/samsung_hd103_uj_s13pj90s113060/availability"
	goneState := "hdsentinel/samsung_hd103_uj_s13pj90s113060/hdsentinel"

	// Exactly one offline transition, no online, state topic untouched.
	assert.Equal(t, 1, transport.count(goneAvail, "offline"))
	assert.Equal(t, 0, transport.count(goneAvail, "online"))
	assert.Equal(t, 0, transport.count(goneState, ""))

	// The surviving disk keeps publishing state without re-announcing.
	assert.Equal(t, 2, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113054/hdsentinel", ""))
	assert.Equal(t, 0, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113054/availability", ""))
}

func TestUnknownDiskAtRuntimeIsIgnored(t *testing.T) {
	initial := twoDiskSnapshot()
	withNew := twoDiskSnapshot()
	withNew["NEWDISK123"] = diskAttrs("WDC WD10EZEX-00WN4A0", "NEWDISK123", "35 C")
	source := &fakeSource{snapshots: []hdsentinel.Snapshot{initial, withNew}}
	transport := &fakeTransport{}
	b := newTestBridge(t, source, transport)

	require.NoError(t, b.Bootstrap(context.Background()))
	transport.published = nil

	b.cycle(context.Background())

	for _, rec := range transport.published {
		assert.NotContains(t, rec.topic, "newdisk123")
		assert.NotContains(t, rec.topic, "wdc_wd10_ezex")
	}
}

func TestSnapshotFailureSkipsCycle(t *testing.T) {
	source := &fakeSource{
		snapshots: []hdsentinel.Snapshot{twoDiskSnapshot(), nil},
		errs:      []error{nil, context.DeadlineExceeded},
	}
	transport := &fakeTransport{}
	b := newTestBridge(t, source, transport)

	require.NoError(t, b.Bootstrap(context.Background()))
	transport.published = nil

	b.cycle(context.Background())

	// Nothing published, nothing transitioned offline.
	assert.Empty(t, transport.published)
}

func TestPerDiskErrorDoesNotAbortCycle(t *testing.T) {
	source := &fakeSource{snapshots: []hdsentinel.Snapshot{twoDiskSnapshot()}}
	transport := &fakeTransport{
		failTopics: map[string]error{
			"hdsentinel/samsung_hd103_uj_s13pj90s113054/hdsentinel": context.DeadlineExceeded,
		},
	}
	b := newTestBridge(t, source, transport)

	require.NoError(t, b.Bootstrap(context.Background()))
	transport.published = nil

	b.cycle(context.Background())

	// The failing disk is skipped for the cycle and stays unannounced.
	assert.Equal(t, 0, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113054/availability", ""))

	// Its sibling publishes state and comes online normally.
	assert.Equal(t, 1, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113060/hdsentinel", ""))
	assert.Equal(t, 1, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113060/availability", "online"))
}

func TestDrainPublishesOfflineForEveryDisk(t *testing.T) {
	source := &fakeSource{snapshots: []hdsentinel.Snapshot{twoDiskSnapshot()}}
	transport := &fakeTransport{}
	b := newTestBridge(t, source, transport)

	require.NoError(t, b.Bootstrap(context.Background()))
	b.cycle(context.Background())
	transport.published = nil

	b.drain()

	// Offline goes out unconditionally, bypassing the transition check.
	assert.Equal(t, 1, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113060/availability", "offline"))
	assert.Equal(t, 1, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113054/availability", "offline"))
	for _, rec := range transport.published {
		assert.True(t, rec.retain)
	}
}

func TestDrainContinuesPastErrors(t *testing.T) {
	source := &fakeSource{snapshots: []hdsentinel.Snapshot{twoDiskSnapshot()}}
	transport := &fakeTransport{
		failTopics: map[string]error{
			"hdsentinel/samsung_hd103_uj_s13pj90s113054/availability": context.DeadlineExceeded,
		},
	}
	b := newTestBridge(t, source, transport)

	require.NoError(t, b.Bootstrap(context.Background()))
	transport.published = nil

	b.drain()

	assert.Equal(t, 1, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113060/availability", "offline"))
}

func TestRunOnceCyclesThenDrains(t *testing.T) {
	source := &fakeSource{snapshots: []hdsentinel.Snapshot{twoDiskSnapshot()}}
	transport := &fakeTransport{}

	templates, err := sensor.ParseStore([]byte(bridgeTestTemplates))
	require.NoError(t, err)
	b := New(source, transport, templates, nil, testLogger(), Options{
		BaseTopic: "hdsentinel",
		Interval:  600 * time.Second,
		Once:      true,
	})

	require.NoError(t, b.Bootstrap(context.Background()))
	transport.published = nil

	b.Run(context.Background())

	avail := "hdsentinel/samsung_hd103_uj_s13pj90s113060/availability"
	assert.Equal(t, 1, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113060/hdsentinel", ""))
	assert.Equal(t, 1, transport.count(avail, "online"))
	assert.Equal(t, 1, transport.count(avail, "offline"))
}

func TestRunWithCancelledContextDrainsImmediately(t *testing.T) {
	source := &fakeSource{snapshots: []hdsentinel.Snapshot{twoDiskSnapshot()}}
	transport := &fakeTransport{}
	b := newTestBridge(t, source, transport)

	require.NoError(t, b.Bootstrap(context.Background()))
	transport.published = nil

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	// No steady cycle ran, only the offline drain.
	assert.Equal(t, 0, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113060/hdsentinel", ""))
	assert.Equal(t, 1, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113060/availability", "offline"))
	assert.Equal(t, 1, transport.count("hdsentinel/samsung_hd103_uj_s13pj90s113054/availability", "offline"))
}
