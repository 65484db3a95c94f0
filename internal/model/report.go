package model

import "time"

// AnalysisResult is the visual similarity search output.
type AnalysisResult struct {
	Summary      string    `json:"summary"`
	Category     string    `json:"category,omitempty"`
	SimilarItems []string  `json:"similarItems,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// OriginResult is the origin/authenticity analysis output.
type OriginResult struct {
	LikelyOrigin string    `json:"likelyOrigin"`
	Period       string    `json:"period,omitempty"`
	Authenticity string    `json:"authenticity,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DetailedResult is the detailed description output. Its fields feed the
// personal-offer prompt, so every one of them is optional.
type DetailedResult struct {
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Materials   string    `json:"materials,omitempty"`
	Condition   string    `json:"condition,omitempty"`
	Maker       string    `json:"maker,omitempty"`
	Era         string    `json:"era,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ValueResult is the market value lookup output.
type ValueResult struct {
	EstimateLow  float64   `json:"estimateLow,omitempty"`
	EstimateHigh float64   `json:"estimateHigh,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	Basis        string    `json:"basis,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Report is the rendering-ready appraisal report assembled by the delivery
// pipeline from whatever artifacts exist. Missing sections stay nil.
type Report struct {
	SessionID   string          `json:"sessionId"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Analysis    *AnalysisResult `json:"analysis,omitempty"`
	Origin      *OriginResult   `json:"origin,omitempty"`
	Detailed    *DetailedResult `json:"detailed,omitempty"`
	Value       *ValueResult    `json:"value,omitempty"`
	Placeholder bool            `json:"placeholder,omitempty"`
	GeneratedAt time.Time       `json:"generatedAt"`
}
