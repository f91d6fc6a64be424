package hdsentinel

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// XMLSource reads the bulk XML report. When ReportPath is set the
// report is read from that file (typically written by an external
// scheduler); otherwise the hdsentinel binary is invoked to generate
// a fresh one.
type XMLSource struct {
	Binary     string // hdsentinel executable
	ReportPath string // pre-generated report, skips running the binary
	Log        *logrus.Logger
}

// Snapshot implements Source.
func (s *XMLSource) Snapshot(ctx context.Context) (Snapshot, error) {
	path := s.ReportPath
	if path == "" {
		path = filepath.Join(os.TempDir(), "hdsentinel_output.xml")
		s.Log.Debug("generating XML report with hdsentinel")

		cmd := exec.CommandContext(ctx, s.Binary, "-solid", "-xml", "-r", path)
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("failed to run %s: %w (output: %s)", s.Binary, err, strings.TrimSpace(string(out)))
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read XML report: %w", err)
	}
	return s.parseReport(data)
}

// diskSummary captures one Hard_Disk_Summary block. Attribute elements
// vary between disk types and hdsentinel versions, so every child is
// collected generically.
type diskSummary struct {
	Fields []summaryField `xml:",any"`
}

type summaryField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func (s *XMLSource) parseReport(data []byte) (Snapshot, error) {
	snapshot := make(Snapshot)
	decoder := xml.NewDecoder(bytes.NewReader(data))

	for {
		tok, err := decoder.Token()
		if err != nil {
			break // io.EOF or malformed tail, either way we keep what parsed
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Hard_Disk_Summary" {
			continue
		}

		var summary diskSummary
		if err := decoder.DecodeElement(&summary, &start); err != nil {
			s.Log.WithError(err).Error("failed to decode disk summary, skipping")
			continue
		}

		attrs := make(Attributes, len(summary.Fields))
		for _, field := range summary.Fields {
			attrs[field.XMLName.Local] = cleanValue(field.Value)
		}

		serial := attrs[AttrSerialNumber]
		if serial == "" {
			s.Log.Warn("found disk without serial number, skipping")
			continue
		}
		snapshot[serial] = attrs
	}

	if len(snapshot) == 0 {
		return nil, fmt.Errorf("no disk summaries found in XML report")
	}
	return snapshot, nil
}

// cleanValue strips the stray line endings hdsentinel embeds in some
// XML values and trims surrounding whitespace.
func cleanValue(v string) string {
	v = strings.ReplaceAll(v, "\r", "")
	v = strings.ReplaceAll(v, "\n", "")
	return strings.TrimSpace(v)
}
