package hdsentinel

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// TextSource queries each disk individually with "hdsentinel -dev" and
// scrapes the plain-text report. Devices are enumerated from /sys/block
// and queried in parallel; workers only return values, a single
// collector assembles the shared snapshot.
type TextSource struct {
	Binary   string // hdsentinel executable
	SysBlock string // block device directory, defaults to /sys/block
	Log      *logrus.Logger
}

// textField maps one scraped report line onto a canonical attribute.
type textField struct {
	attr    string
	pattern *regexp.Regexp
}

var textFields = []textField{
	{AttrModelID, regexp.MustCompile(`(?m)^HDD Model ID\s*:\s*(.*)$`)},
	{AttrSerialNumber, regexp.MustCompile(`(?m)^HDD Serial No\s*:\s*(.*)$`)},
	{AttrFirmwareRevision, regexp.MustCompile(`(?m)^HDD Revision\s*:\s*(.*)$`)},
	{"Hard_Disk_Size", regexp.MustCompile(`(?m)^HDD Size\s*:\s*(.*)$`)},
	{"Interface", regexp.MustCompile(`(?m)^Interface\s*:\s*(.*)$`)},
	{"Temperature", regexp.MustCompile(`(?m)^Temperature\s*:\s*(.*)$`)},
	{"Highest_Temperature", regexp.MustCompile(`(?m)^Highest Temp\.\s*:\s*(.*)$`)},
	{"Hard_Disk_Health", regexp.MustCompile(`(?m)^Health\s*:\s*(.*)$`)},
	{"Performance", regexp.MustCompile(`(?m)^Performance\s*:\s*(.*)$`)},
	{"Power_On_Time", regexp.MustCompile(`(?m)^Power on time\s*:\s*(.*)$`)},
	{"Estimated_Lifetime", regexp.MustCompile(`(?m)^Est\. lifetime\s*:\s*(.*)$`)},
	{"Total_Written", regexp.MustCompile(`(?m)^Total written\s*:\s*(.*)$`)},
}

// skipPrefixes excludes virtual and removable-media block devices.
var skipPrefixes = []string{"loop", "ram", "zram", "dm-", "md", "sr"}

// Snapshot implements Source.
func (s *TextSource) Snapshot(ctx context.Context) (Snapshot, error) {
	devices, err := s.listDisks()
	if err != nil {
		return nil, err
	}

	type result struct {
		device string
		serial string
		attrs  Attributes
		err    error
	}

	results := make(chan result, len(devices))
	var wg sync.WaitGroup
	for _, dev := range devices {
		wg.Add(1)
		go func(dev string) {
			defer wg.Done()
			serial, attrs, err := s.queryDevice(ctx, dev)
			results <- result{device: dev, serial: serial, attrs: attrs, err: err}
		}(dev)
	}
	wg.Wait()
	close(results)

	snapshot := make(Snapshot, len(devices))
	for r := range results {
		if r.err != nil {
			s.Log.WithField("device", r.device).WithError(r.err).Error("failed to query disk")
			continue
		}
		if r.serial == "" {
			s.Log.WithField("device", r.device).Warn("disk reported no serial number, skipping")
			continue
		}
		snapshot[r.serial] = r.attrs
	}
	return snapshot, nil
}

func (s *TextSource) listDisks() ([]string, error) {
	dir := s.SysBlock
	if dir == "" {
		dir = "/sys/block"
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list block devices: %w", err)
	}

	var devices []string
	for _, entry := range entries {
		name := entry.Name()
		if skipDevice(name) {
			continue
		}
		devices = append(devices, name)
	}
	return devices, nil
}

func skipDevice(name string) bool {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (s *TextSource) queryDevice(ctx context.Context, dev string) (string, Attributes, error) {
	cmd := exec.CommandContext(ctx, s.Binary, "-dev", "/dev/"+dev)
	out, err := cmd.Output()
	if err != nil {
		return "", nil, fmt.Errorf("failed to run %s -dev /dev/%s: %w", s.Binary, dev, err)
	}
	serial, attrs := parseDeviceReport(string(out))
	return serial, attrs, nil
}

// parseDeviceReport scrapes the recognized fields from one -dev report.
func parseDeviceReport(report string) (string, Attributes) {
	attrs := make(Attributes, len(textFields))
	for _, field := range textFields {
		m := field.pattern.FindStringSubmatch(report)
		if m == nil {
			continue
		}
		if value := strings.TrimSpace(m[1]); value != "" {
			attrs[field.attr] = value
		}
	}
	return attrs[AttrSerialNumber], attrs
}
