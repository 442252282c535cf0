package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"git.0xdad.com/tblyler/dosetime/llm"
	"github.com/sirupsen/logrus"
)

const (
	recommenderMaxRetries   = 3
	recommenderRetryDelay   = 2 * time.Second
	recommenderCacheEntries = 200
)

// Recommender fetches brief, practical usage recommendations for a single
// drug. Unlike symptom analysis there is no local fallback: after the retry
// budget the unit of work fails and may be retried later.
type Recommender struct {
	gate  *llm.Gate
	log   logrus.FieldLogger
	sleep func(time.Duration)

	cacheMu sync.Mutex
	cache   map[string][]string
}

// NewRecommender over the given engine gate
func NewRecommender(gate *llm.Gate, log logrus.FieldLogger) *Recommender {
	return &Recommender{
		gate:  gate,
		log:   log,
		sleep: time.Sleep,
		cache: map[string][]string{},
	}
}

// Fetch recommendations for a drug, retrying transient failures with linear
// backoff
func (r *Recommender) Fetch(ctx context.Context, drug string) ([]string, error) {
	key := strings.ToLower(strings.TrimSpace(drug))

	r.cacheMu.Lock()
	cached := r.cache[key]
	r.cacheMu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var lastErr error
	for attempt := 0; attempt <= recommenderMaxRetries; attempt++ {
		if attempt > 0 {
			r.sleep(recommenderRetryDelay * time.Duration(attempt))
		}

		list, err := r.fetchOnce(ctx, drug)
		if err != nil {
			lastErr = err
			r.log.WithError(err).WithFields(logrus.Fields{
				"drug":    drug,
				"attempt": attempt + 1,
			}).Warn("recommendation fetch attempt failed")
			continue
		}

		r.cachePut(key, list)

		return list, nil
	}

	return nil, fmt.Errorf("recommendation fetch for %s exhausted retries: %w", drug, lastErr)
}

// EncodeRecommendations to the JSON shape cached on the prescription row
func EncodeRecommendations(drug string, list []string) (string, error) {
	data, err := json.Marshal(struct {
		Drug            string   `json:"drug"`
		Recommendations []string `json:"recommendations"`
	}{
		Drug:            drug,
		Recommendations: list,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	return string(data), nil
}

// DecodeRecommendations from the prescription row, nil when unset or
// unreadable
func DecodeRecommendations(cached string) []string {
	if strings.TrimSpace(cached) == "" {
		return nil
	}

	parsed := struct {
		Recommendations []string `json:"recommendations"`
	}{}
	if err := json.Unmarshal([]byte(cached), &parsed); err != nil {
		return nil
	}

	var out []string
	for _, item := range parsed.Recommendations {
		if strings.TrimSpace(item) != "" {
			out = append(out, item)
		}
	}

	return out
}

func (r *Recommender) fetchOnce(ctx context.Context, drug string) ([]string, error) {
	eng, release, err := r.gate.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire engine: %w", err)
	}

	defer release()

	raw, err := eng.Generate(ctx, r.buildPrompt(drug), false)
	if err != nil {
		return nil, fmt.Errorf("recommendation generation failed: %w", err)
	}

	return parseRecommendations(raw)
}

func parseRecommendations(raw string) ([]string, error) {
	parsed := struct {
		Recommendations []string `json:"recommendations"`
	}{}
	if err := unmarshalJSONObject(raw, &parsed); err != nil {
		return nil, err
	}

	var list []string
	for _, item := range parsed.Recommendations {
		if strings.TrimSpace(item) != "" {
			list = append(list, strings.TrimSpace(item))
		}
	}

	if len(list) == 0 {
		return nil, fmt.Errorf("response contained no recommendations")
	}

	return list, nil
}

func (r *Recommender) cachePut(key string, list []string) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if len(r.cache) >= recommenderCacheEntries {
		r.cache = map[string][]string{}
	}

	r.cache[key] = list
}

func (r *Recommender) buildPrompt(drug string) string {
	return fmt.Sprintf(`You are a clinical pharmacist assistant. The user will give a single medication name.
Return ONLY JSON with short, practical recommendations for taking/using it.

Medication: "%s"

RULES:
- Output valid JSON only. No prose.
- Keep each recommendation concise (max ~8 words).
- Focus on general-use, safe, common-sense guidance.
- Do not include side-effects, warnings, or dosing changes.
- Prefer items like: "take after food", "take at night",
  "drink plenty of water", "avoid alcohol", "do not crush",
  "stay consistent daily time", "store at room temperature".
- Provide 3-8 recommendations.

JSON FORMAT:
{
  "drug": "string",
  "recommendations": ["string", "string", "string"]
}`, drug)
}
