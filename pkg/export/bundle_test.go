package export

import (
	"strings"
	"testing"
	"time"

	"github.com/cachedeck/cachedeck/pkg/core"
)

func exportRequest(redaction core.RedactionProfile) core.IncidentExportRequest {
	return core.IncidentExportRequest{
		From:      time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		To:        time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		Redaction: redaction,
	}
}

func sampleCollection() *Collection {
	ts := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	event := &core.HistoryEvent{
		ID:           "evt-1",
		ConnectionID: "conn-1",
		Action:       "deleteKey",
		KeyOrPattern: "session:1",
		Status:       core.HistoryStatusError,
		Detail:       "deleted value (ttl 60s): hello",
		Timestamp:    ts,
	}
	return &Collection{
		Timeline: []*core.HistoryEvent{event},
		Logs: []*core.AlertEvent{{
			ID:        "alert-1",
			CreatedAt: ts,
			Severity:  core.SeverityWarning,
			Title:     "Workflow blocked",
			Message:   strings.Repeat("x", 80),
			Source:    core.AlertSourcePolicy,
		}},
		Diagnostics: []Diagnostic{{
			ID:    "diag-evt-1",
			Event: event,
		}},
		Metrics: []*core.OperationSnapshot{{
			ID:           "snap-1",
			ConnectionID: "conn-1",
			CreatedAt:    ts,
		}},
	}
}

func TestBuildArtifactStrictRedaction(t *testing.T) {
	collection := sampleCollection()
	artifact, err := BuildArtifact(exportRequest(core.RedactionStrict), collection, time.Now())
	if err != nil {
		t.Fatalf("BuildArtifact: %v", err)
	}

	if artifact.Timeline[0].Detail != "" {
		t.Errorf("timeline detail = %q, want stripped", artifact.Timeline[0].Detail)
	}
	if artifact.Diagnostics[0].Event.Detail != "" {
		t.Errorf("diagnostic detail = %q, want stripped", artifact.Diagnostics[0].Event.Detail)
	}

	message := artifact.Logs[0].Message
	if !strings.HasSuffix(message, " [redacted]") {
		t.Errorf("redacted message = %q, want [redacted] suffix", message)
	}
	if got := len([]rune(strings.TrimSuffix(message, " [redacted]"))); got != redactedMessageWidth {
		t.Errorf("redacted message width = %d, want %d", got, redactedMessageWidth)
	}

	// The collection's own records stay intact for later stages.
	if collection.Timeline[0].Detail == "" {
		t.Error("redaction must not mutate the collected event")
	}
	if len([]rune(collection.Logs[0].Message)) != 80 {
		t.Error("redaction must not mutate the collected alert")
	}
}

func TestBuildArtifactNoRedactionKeepsDetail(t *testing.T) {
	artifact, err := BuildArtifact(exportRequest(""), sampleCollection(), time.Now())
	if err != nil {
		t.Fatalf("BuildArtifact: %v", err)
	}
	if artifact.Metadata.Redaction != core.RedactionNone {
		t.Errorf("redaction = %q, want none", artifact.Metadata.Redaction)
	}
	if artifact.Timeline[0].Detail == "" {
		t.Error("detail should survive an unredacted export")
	}
	if len([]rune(artifact.Logs[0].Message)) != 80 {
		t.Error("messages should survive an unredacted export")
	}
}

func TestRedactMessageShortUnchanged(t *testing.T) {
	if got := redactMessage("short message"); got != "short message" {
		t.Errorf("redactMessage = %q, want unchanged", got)
	}
}

func TestContentChecksumVerifiable(t *testing.T) {
	artifact, err := BuildArtifact(exportRequest(core.RedactionNone), sampleCollection(), time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatalf("BuildArtifact: %v", err)
	}
	if artifact.Metadata.Checksum == "" {
		t.Fatal("artifact has no checksum")
	}

	recomputed, err := contentChecksum(artifact)
	if err != nil {
		t.Fatalf("contentChecksum: %v", err)
	}
	if recomputed != artifact.Metadata.Checksum {
		t.Errorf("recomputed checksum %s != stored %s", recomputed, artifact.Metadata.Checksum)
	}
}

func TestBuildArtifactManifest(t *testing.T) {
	artifact, err := BuildArtifact(exportRequest(core.RedactionNone), sampleCollection(), time.Now())
	if err != nil {
		t.Fatalf("BuildArtifact: %v", err)
	}

	manifest := artifact.Metadata.Manifest
	if manifest == nil {
		t.Fatal("artifact has no manifest")
	}
	if len(manifest.TimelineIDs) != 1 || manifest.TimelineIDs[0] != "evt-1" {
		t.Errorf("timeline ids = %v", manifest.TimelineIDs)
	}
	if len(manifest.LogIDs) != 1 || manifest.LogIDs[0] != "alert-1" {
		t.Errorf("log ids = %v", manifest.LogIDs)
	}
	if len(manifest.DiagnosticIDs) != 1 || manifest.DiagnosticIDs[0] != "diag-evt-1" {
		t.Errorf("diagnostic ids = %v", manifest.DiagnosticIDs)
	}
	if len(manifest.MetricIDs) != 1 || manifest.MetricIDs[0] != "snap-1" {
		t.Errorf("metric ids = %v", manifest.MetricIDs)
	}
}

func TestPreviewChecksumDetectsDrift(t *testing.T) {
	req := exportRequest(core.RedactionStrict)
	collection := sampleCollection()

	first := PreviewChecksum(req, collection)
	if second := PreviewChecksum(req, collection); second != first {
		t.Fatal("preview checksum must be stable for identical inputs")
	}

	collection.Timeline = append(collection.Timeline, &core.HistoryEvent{ID: "evt-2"})
	if drifted := PreviewChecksum(req, collection); drifted == first {
		t.Error("preview checksum must change when counts change")
	}

	other := req
	other.ConnectionIDs = []string{"conn-9"}
	if scoped := PreviewChecksum(other, sampleCollection()); scoped == first {
		t.Error("preview checksum must change with the connection scope")
	}
}
