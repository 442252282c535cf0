package advisory

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"git.0xdad.com/tblyler/dosetime/llm"
	"git.0xdad.com/tblyler/dosetime/store"
	"github.com/sirupsen/logrus"
)

const (
	analyzerMaxRetries   = 3
	analyzerRetryDelay   = 2 * time.Second
	analyzerCacheEntries = 100
)

// allergyKeywords drive the deterministic fallback when the model is
// unavailable
var allergyKeywords = []string{"rash", "itching", "swelling", "difficulty breathing"}

// Analyzer cross-checks a reported symptom against the patient's medication
// context through the text engine, with bounded retries and a deterministic
// keyword fallback: the caller always gets a result.
type Analyzer struct {
	gate  *llm.Gate
	log   logrus.FieldLogger
	sleep func(time.Duration)

	cacheMu sync.Mutex
	cache   map[string]*AnalysisResult
}

// NewAnalyzer over the given engine gate
func NewAnalyzer(gate *llm.Gate, log logrus.FieldLogger) *Analyzer {
	return &Analyzer{
		gate:  gate,
		log:   log,
		sleep: time.Sleep,
		cache: map[string]*AnalysisResult{},
	}
}

// Analyze a symptom report. Transient failures retry up to three times with
// linear backoff; after exhaustion the deterministic heuristic answers
// instead, so this never returns nothing.
func (a *Analyzer) Analyze(ctx context.Context, req *AnalysisRequest) *AnalysisResult {
	key := a.cacheKey(req)

	a.cacheMu.Lock()
	cached := a.cache[key]
	a.cacheMu.Unlock()
	if cached != nil {
		return cached
	}

	for attempt := 0; attempt <= analyzerMaxRetries; attempt++ {
		if attempt > 0 {
			a.sleep(analyzerRetryDelay * time.Duration(attempt))
		}

		result, err := a.analyzeOnce(ctx, req)
		if err != nil {
			a.log.WithError(err).WithField("attempt", attempt+1).Warn("symptom analysis attempt failed")
			continue
		}

		a.cachePut(key, result)

		return result
	}

	a.log.WithField("report", req.ReportID).Warn("symptom analysis exhausted retries, using heuristic fallback")

	return a.heuristic(req)
}

func (a *Analyzer) analyzeOnce(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error) {
	eng, release, err := a.gate.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire engine: %w", err)
	}

	defer release()

	raw, err := eng.Generate(ctx, a.buildPrompt(req), false)
	if err != nil {
		return nil, fmt.Errorf("analysis generation failed: %w", err)
	}

	return parseAnalysis(raw)
}

type analysisJSON struct {
	DrugPossibleCause *string  `json:"drugPossibleCause"`
	WarningType       string   `json:"warningType"`
	Severity          string   `json:"severity"`
	Confidence        *float64 `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
	Recommendations   []string `json:"recommendations"`
}

func parseAnalysis(raw string) (*AnalysisResult, error) {
	parsed := analysisJSON{}
	if err := unmarshalJSONObject(raw, &parsed); err != nil {
		return nil, err
	}

	if parsed.WarningType == "" || parsed.Severity == "" {
		return nil, fmt.Errorf("analysis response missing warningType or severity")
	}

	result := &AnalysisResult{
		Category:        ParseCategory(parsed.WarningType),
		Severity:        ParseSeverity(parsed.Severity),
		Confidence:      parsed.Confidence,
		Reasoning:       parsed.Reasoning,
		Recommendations: parsed.Recommendations,
	}

	if parsed.DrugPossibleCause != nil && !strings.EqualFold(*parsed.DrugPossibleCause, "null") {
		result.DrugPossibleCause = *parsed.DrugPossibleCause
	}

	return result, nil
}

// heuristic is the deterministic local fallback: allergy keywords raise an
// Allergy/HIGH warning, everything else a SideEffect/MEDIUM one
func (a *Analyzer) heuristic(req *AnalysisRequest) *AnalysisResult {
	allergic := false
	desc := strings.ToLower(req.Description)
	for _, kw := range allergyKeywords {
		if strings.Contains(desc, kw) {
			allergic = true
			break
		}
	}

	result := &AnalysisResult{
		Category: CategorySideEffect,
		Severity: store.SeverityMedium,
	}
	if allergic {
		result.Category = CategoryAllergy
		result.Severity = store.SeverityHigh
	}

	if len(req.CurrentMedications) > 0 {
		result.DrugPossibleCause = req.CurrentMedications[0]
	}

	return result
}

func (a *Analyzer) cacheKey(req *AnalysisRequest) string {
	h := fnv.New64a()
	h.Write([]byte(req.Description))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(req.CurrentMedications, "|")))

	return fmt.Sprintf("%x", h.Sum64())
}

func (a *Analyzer) cachePut(key string, result *AnalysisResult) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()

	// full clear on overflow, a deliberate simplicity tradeoff over LRU
	if len(a.cache) >= analyzerCacheEntries {
		a.cache = map[string]*AnalysisResult{}
	}

	a.cache[key] = result
}

func (a *Analyzer) buildPrompt(req *AnalysisRequest) string {
	return fmt.Sprintf(`You are a clinical pharmacist AI assistant analyzing a potential adverse drug reaction.

PATIENT PROFILE:
- Gender: %s
- Chronic Conditions: %s
- Known Allergies: %s

MEDICATION HISTORY:
- Current Medications: %s
- All Database Medications: %s

REPORTED SIDE EFFECT:
"%s"

ANALYSIS FRAMEWORK:
1. Temporal relationship: Could timing align with medication start/dose changes?
2. Known side effect profile: Is this a documented reaction for any current medications?
3. Dose-response relationship: Does severity correlate with dosage?
4. Alternative explanations: Could this be disease progression or other causes?
5. Allergic vs non-allergic: Signs of immune-mediated reaction?

SEVERITY CRITERIA:
- LOW: Mild discomfort, no functional impairment, self-limiting
- MEDIUM: Moderate symptoms, some functional impact, monitoring needed
- HIGH: Severe symptoms, significant impairment, immediate attention required

CONFIDENCE ASSESSMENT:
Rate your confidence in the analysis (0.0-1.0) based on:
- Clarity of temporal relationship
- Known pharmacological mechanisms
- Specificity of symptoms

OUTPUT FORMAT (JSON only):
{
    "drugPossibleCause": "medication_name_or_null",
    "warningType": "SideEffect_or_Allergy_or_Unknown",
    "severity": "LOW_or_MEDIUM_or_HIGH",
    "confidence": 0.0_to_1.0,
    "reasoning": "brief_clinical_rationale",
    "recommendations": ["action1", "action2"]
}`,
		req.Gender,
		joinOrNone(req.ChronicDiseases),
		joinOrNone(req.Allergies),
		joinOrNone(req.CurrentMedications),
		joinOrNone(req.Medications),
		req.Description,
	)
}
