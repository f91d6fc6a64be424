package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(alias string) DiskRecord {
	return DiskRecord{
		Serial:       "S13PJ90S113060",
		Alias:        alias,
		Model:        "SAMSUNG HD103UJ",
		Firmware:     "1AA01113",
		Availability: "online",
		UpdatedAt:    time.Now(),
	}
}

func TestSaveAndGetDisk(t *testing.T) {
	store := testStore(t)
	rec := testRecord("samsung_hd103_uj_s13pj90s113060")

	require.NoError(t, store.SaveDisk(rec))

	got, err := store.GetDisk(rec.Alias)
	require.NoError(t, err)
	assert.Equal(t, rec.Serial, got.Serial)
	assert.Equal(t, rec.Model, got.Model)
	assert.Equal(t, rec.Availability, got.Availability)
}

func TestGetDiskNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetDisk("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDisksSortedByAlias(t *testing.T) {
	store := testStore(t)
	for _, alias := range []string{"zeta_disk", "alpha_disk", "mid_disk"} {
		require.NoError(t, store.SaveDisk(testRecord(alias)))
	}

	records, err := store.ListDisks()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alpha_disk", records[0].Alias)
	assert.Equal(t, "mid_disk", records[1].Alias)
	assert.Equal(t, "zeta_disk", records[2].Alias)
}

func TestSetAvailability(t *testing.T) {
	store := testStore(t)
	rec := testRecord("samsung_hd103_uj_s13pj90s113060")
	require.NoError(t, store.SaveDisk(rec))

	require.NoError(t, store.SetAvailability(rec.Alias, "offline"))

	got, err := store.GetDisk(rec.Alias)
	require.NoError(t, err)
	assert.Equal(t, "offline", got.Availability)

	assert.ErrorIs(t, store.SetAvailability("missing", "online"), ErrNotFound)
}

func TestSaveAndLatestReading(t *testing.T) {
	store := testStore(t)
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	state := json.RawMessage(`{"temperature":38}`)

	require.NoError(t, store.SaveReading("disk", state, at))

	entry, err := store.LatestReading("disk")
	require.NoError(t, err)
	assert.True(t, entry.At.Equal(at))
	assert.JSONEq(t, `{"temperature":38}`, string(entry.State))

	_, err = store.LatestReading("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadingHistory(t *testing.T) {
	store := testStore(t)
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		state := json.RawMessage(fmt.Sprintf(`{"temperature":%d}`, 30+i))
		require.NoError(t, store.SaveReading("disk", state, base.Add(time.Duration(i)*time.Minute)))
	}

	entries, err := store.ReadingHistory("disk", 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.JSONEq(t, `{"temperature":30}`, string(entries[0].State))
	assert.JSONEq(t, `{"temperature":34}`, string(entries[4].State))

	// limit keeps the newest entries, still oldest first.
	entries, err = store.ReadingHistory("disk", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.JSONEq(t, `{"temperature":33}`, string(entries[0].State))
	assert.JSONEq(t, `{"temperature":34}`, string(entries[1].State))

	entries, err = store.ReadingHistory("missing", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHistoryTrim(t *testing.T) {
	store := testStore(t)
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	for i := 0; i < maxHistory+10; i++ {
		state := json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
		require.NoError(t, store.SaveReading("disk", state, base.Add(time.Duration(i)*time.Second)))
	}

	entries, err := store.ReadingHistory("disk", 0)
	require.NoError(t, err)
	require.Len(t, entries, maxHistory)

	// The oldest ten entries were dropped.
	assert.JSONEq(t, `{"n":10}`, string(entries[0].State))
	assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, maxHistory+9), string(entries[len(entries)-1].State))
}
