// Package advisory runs the background LLM pipelines that cross-check
// reported symptoms against the patient's medication list and fetch
// practical usage recommendations per drug.
package advisory

import (
	"encoding/json"
	"fmt"
	"strings"

	"git.0xdad.com/tblyler/dosetime/store"
	"github.com/google/uuid"
)

// Category of a warning produced by analysis
type Category string

const (
	// CategorySideEffect documented adverse reaction
	CategorySideEffect Category = "SideEffect"
	// CategoryAllergy immune-mediated reaction
	CategoryAllergy Category = "Allergy"
	// CategoryInteraction drug-drug interaction
	CategoryInteraction Category = "Interaction"
	// CategoryUnknown unclassifiable
	CategoryUnknown Category = "Unknown"
)

// AnalysisRequest describes a reported symptom and the patient context it
// is analyzed against
type AnalysisRequest struct {
	ReportID           uuid.UUID
	Description        string
	Medications        []string
	ChronicDiseases    []string
	Allergies          []string
	CurrentMedications []string
	Gender             string
}

// AnalysisResult of one symptom analysis. DrugPossibleCause is empty when
// no causative drug could be identified; Confidence is nil when the model
// did not report one.
type AnalysisResult struct {
	DrugPossibleCause string
	Category          Category
	Severity          store.Severity
	Confidence        *float64
	Reasoning         string
	Recommendations   []string
}

// ParseSeverity normalizes free-form model severity text
func ParseSeverity(s string) store.Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW", "MILD":
		return store.SeverityLow
	case "HIGH", "SEVERE", "CRITICAL":
		return store.SeverityHigh
	default:
		return store.SeverityMedium
	}
}

// ParseCategory normalizes free-form model category text
func ParseCategory(s string) Category {
	switch Category(strings.TrimSpace(s)) {
	case CategorySideEffect, CategoryAllergy, CategoryInteraction:
		return Category(strings.TrimSpace(s))
	default:
		return CategoryUnknown
	}
}

// sliceJSON locates the first '{' and last '}' so responses with leading or
// trailing prose still parse
func sliceJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}

	return raw[start : end+1], nil
}

func unmarshalJSONObject(raw string, out interface{}) error {
	sliced, err := sliceJSON(raw)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(sliced), out); err != nil {
		return fmt.Errorf("failed to unmarshal response JSON: %w", err)
	}

	return nil
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}

	return strings.Join(items, ", ")
}
