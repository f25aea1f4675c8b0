package export

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// redactedMessageWidth is the fixed width strict redaction truncates
// alert messages to.
const redactedMessageWidth = 48

// Metadata is the artifact header: checksum, manifest, and the request
// parameters the export was scoped by.
type Metadata struct {
	GeneratedAt   time.Time             `json:"generated_at"`
	From          time.Time             `json:"from"`
	To            time.Time             `json:"to"`
	ConnectionIDs []string              `json:"connection_ids,omitempty"`
	Redaction     core.RedactionProfile `json:"redaction"`

	// Checksum is the hex sha256 of the artifact serialized with this
	// field empty.
	Checksum string `json:"checksum"`

	Manifest  *core.ExportManifest `json:"manifest"`
	Truncated bool                 `json:"truncated"`
}

// Artifact is the persisted incident bundle document.
type Artifact struct {
	Metadata    Metadata                  `json:"metadata"`
	Timeline    []*core.HistoryEvent      `json:"timeline"`
	Logs        []*core.AlertEvent        `json:"logs"`
	Diagnostics []Diagnostic              `json:"diagnostics"`
	Metrics     []*core.OperationSnapshot `json:"metrics"`
}

// BuildArtifact assembles the artifact for a collection: redaction,
// manifest, and content checksum.
func BuildArtifact(req core.IncidentExportRequest, collection *Collection, at time.Time) (*Artifact, error) {
	redaction := req.Redaction
	if redaction == "" {
		redaction = core.RedactionNone
	}

	artifact := &Artifact{
		Metadata: Metadata{
			GeneratedAt:   at,
			From:          req.From,
			To:            req.To,
			ConnectionIDs: req.ConnectionIDs,
			Redaction:     redaction,
			Manifest:      buildManifest(collection),
			Truncated:     collection.Truncated,
		},
		Timeline:    collection.Timeline,
		Logs:        collection.Logs,
		Diagnostics: collection.Diagnostics,
		Metrics:     collection.Metrics,
	}

	if redaction == core.RedactionStrict {
		redactArtifact(artifact)
	}

	checksum, err := contentChecksum(artifact)
	if err != nil {
		return nil, err
	}
	artifact.Metadata.Checksum = checksum
	return artifact, nil
}

// Encode serializes the artifact as indented UTF-8 JSON.
func (a *Artifact) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, core.NewInternalFailure("failed to serialize incident bundle", err)
	}
	return data, nil
}

func buildManifest(collection *Collection) *core.ExportManifest {
	manifest := &core.ExportManifest{
		TimelineIDs:   make([]string, 0, len(collection.Timeline)),
		LogIDs:        make([]string, 0, len(collection.Logs)),
		DiagnosticIDs: make([]string, 0, len(collection.Diagnostics)),
		MetricIDs:     make([]string, 0, len(collection.Metrics)),
		Truncated:     collection.Truncated,
	}
	for _, e := range collection.Timeline {
		manifest.TimelineIDs = append(manifest.TimelineIDs, e.ID)
	}
	for _, e := range collection.Logs {
		manifest.LogIDs = append(manifest.LogIDs, e.ID)
	}
	for _, d := range collection.Diagnostics {
		manifest.DiagnosticIDs = append(manifest.DiagnosticIDs, d.ID)
	}
	for _, s := range collection.Metrics {
		manifest.MetricIDs = append(manifest.MetricIDs, s.ID)
	}
	return manifest
}

// redactArtifact strips free-text detail fields from timeline and
// diagnostic events and truncates alert messages. Events are copied so
// the collection's records stay untouched.
func redactArtifact(artifact *Artifact) {
	redactEvent := func(event *core.HistoryEvent) *core.HistoryEvent {
		clone := *event
		clone.Detail = ""
		return &clone
	}

	for i, event := range artifact.Timeline {
		artifact.Timeline[i] = redactEvent(event)
	}
	for i, diag := range artifact.Diagnostics {
		diag.Event = redactEvent(diag.Event)
		related := make([]*core.HistoryEvent, len(diag.RelatedEvents))
		for j, event := range diag.RelatedEvents {
			related[j] = redactEvent(event)
		}
		diag.RelatedEvents = related
		artifact.Diagnostics[i] = diag
	}
	for i, alert := range artifact.Logs {
		clone := *alert
		clone.Message = redactMessage(clone.Message)
		artifact.Logs[i] = &clone
	}
}

func redactMessage(message string) string {
	runes := []rune(message)
	if len(runes) <= redactedMessageWidth {
		return message
	}
	return string(runes[:redactedMessageWidth]) + " [redacted]"
}

// contentChecksum hashes the artifact serialized with an empty checksum
// field, so the stored checksum can be verified by re-serializing.
func contentChecksum(artifact *Artifact) (string, error) {
	clone := *artifact
	clone.Metadata.Checksum = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return "", core.NewInternalFailure("failed to hash incident bundle", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// PreviewChecksum hashes record counts and identifying parameters only.
// Comparing two previews detects data drift without building the bundle.
func PreviewChecksum(req core.IncidentExportRequest, collection *Collection) string {
	h := sha256.New()
	fmt.Fprintf(h, "from=%d\nto=%d\nredaction=%s\n",
		req.From.UnixMilli(), req.To.UnixMilli(), req.Redaction)
	for _, id := range req.ConnectionIDs {
		fmt.Fprintf(h, "connection=%s\n", id)
	}
	fmt.Fprintf(h, "timeline=%d\nlogs=%d\ndiagnostics=%d\nmetrics=%d\ntruncated=%t\n",
		len(collection.Timeline), len(collection.Logs),
		len(collection.Diagnostics), len(collection.Metrics), collection.Truncated)
	return hex.EncodeToString(h.Sum(nil))
}
