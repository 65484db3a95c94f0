package model

import (
	"time"
)

// ArtifactName identifies one named JSON document owned by a session.
type ArtifactName string

const (
	ArtifactMetadata    ArtifactName = "metadata"
	ArtifactAnalysis    ArtifactName = "analysis"
	ArtifactOrigin      ArtifactName = "origin"
	ArtifactDetailed    ArtifactName = "detailed"
	ArtifactValue       ArtifactName = "value"
	ArtifactPremiumData ArtifactName = "premium-data"
	ArtifactReport      ArtifactName = "report"
)

// StageArtifacts lists the artifacts produced by analysis stages, in the
// order they are reported by the status view.
var StageArtifacts = []ArtifactName{
	ArtifactAnalysis,
	ArtifactOrigin,
	ArtifactDetailed,
	ArtifactValue,
}

// RequiredArtifacts are the artifacts that must exist for a session to be
// considered complete. The metadata artifact is the session root; premium
// data and the report are delivery-side extras.
var RequiredArtifacts = []ArtifactName{
	ArtifactMetadata,
	ArtifactAnalysis,
	ArtifactOrigin,
	ArtifactDetailed,
}

// Metadata is the root document of a session, written once by the upload
// step. Stage completion is carried by each stage's own artifact, never by
// mutating this document.
type Metadata struct {
	SessionID    string    `json:"sessionId"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	ImageURL     string    `json:"imageUrl"`
	Email        string    `json:"email,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// StageState describes how far a stage has progressed, derived purely from
// artifact existence.
type StageState string

const (
	StagePending    StageState = "pending"
	StageProcessing StageState = "processing"
	StageComplete   StageState = "complete"
)

// SessionState is the aggregate status of a session.
type SessionState string

const (
	SessionStarting   SessionState = "starting"
	SessionProcessing SessionState = "processing"
	SessionComplete   SessionState = "complete"
)

// StageStatus is one entry in the per-stage status view. Percent is coarse:
// 100 when the artifact exists, a fixed 50 while assumed in progress, 0 when
// the stage is still gated on an upstream artifact.
type StageStatus struct {
	State   StageState `json:"state" yaml:"state"`
	Percent int        `json:"percent" yaml:"percent"`
}

// SessionStatus is the synchronous polling view of a session.
type SessionStatus struct {
	SessionID string                 `json:"sessionId" yaml:"session_id"`
	Overall   SessionState           `json:"status" yaml:"status"`
	Stages    map[string]StageStatus `json:"stages" yaml:"stages"`
}
