package delivery

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/verity-group/appraisal-api/internal/model"
)

// ComposeReport assembles a rendering-ready report from whatever artifacts a
// coordinator run produced. Missing stages leave their section nil; when no
// stage output exists at all the report is a marked placeholder rather than
// a failure.
func ComposeReport(res *model.RunResult, now time.Time) *model.Report {
	report := &model.Report{
		SessionID:   res.SessionID,
		GeneratedAt: now.UTC(),
	}

	var meta model.Metadata
	if raw := res.Artifact(model.ArtifactMetadata); raw != nil {
		if err := json.Unmarshal(raw, &meta); err == nil {
			report.ImageURL = meta.ImageURL
		}
	}

	sections := 0
	if raw := res.Artifact(model.ArtifactAnalysis); raw != nil {
		var a model.AnalysisResult
		if err := json.Unmarshal(raw, &a); err == nil {
			report.Analysis = &a
			sections++
		}
	}
	if raw := res.Artifact(model.ArtifactOrigin); raw != nil {
		var o model.OriginResult
		if err := json.Unmarshal(raw, &o); err == nil {
			report.Origin = &o
			sections++
		}
	}
	if raw := res.Artifact(model.ArtifactDetailed); raw != nil {
		var d model.DetailedResult
		if err := json.Unmarshal(raw, &d); err == nil {
			report.Detailed = &d
			sections++
		}
	}
	if raw := res.Artifact(model.ArtifactValue); raw != nil {
		var v model.ValueResult
		if err := json.Unmarshal(raw, &v); err == nil {
			report.Value = &v
			sections++
		}
	}

	report.Placeholder = sections == 0
	return report
}

// RenderFreeReport renders the free-tier report email body. Template layers
// live outside this service; this is the plain fallback rendering.
func RenderFreeReport(r *model.Report) string {
	var b strings.Builder
	b.WriteString("Your appraisal report\n\n")

	if r.Placeholder {
		b.WriteString("Your item is still being analyzed. We will follow up with the full report shortly.\n")
		return b.String()
	}

	if r.Analysis != nil && r.Analysis.Summary != "" {
		b.WriteString("What we found: " + r.Analysis.Summary + "\n\n")
	}
	if r.Origin != nil && r.Origin.LikelyOrigin != "" {
		b.WriteString("Likely origin: " + r.Origin.LikelyOrigin)
		if r.Origin.Period != "" {
			b.WriteString(" (" + r.Origin.Period + ")")
		}
		b.WriteString("\n\n")
	}
	if r.Detailed != nil && r.Detailed.Description != "" {
		b.WriteString(r.Detailed.Description + "\n\n")
	}
	if r.Value != nil && r.Value.EstimateHigh > 0 {
		currency := r.Value.Currency
		if currency == "" {
			currency = "USD"
		}
		fmt.Fprintf(&b, "Estimated market value: %.0f-%.0f %s\n", r.Value.EstimateLow, r.Value.EstimateHigh, currency)
	}
	return b.String()
}
