package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"git.0xdad.com/tblyler/dosetime/llm"
	"github.com/sirupsen/logrus"
)

// DefaultShortlistSize of fuzzy-matched candidates offered per line
const DefaultShortlistSize = 3

// Normalizer corrects noisy drug names by fuzzy-matching a shortlist of
// candidates locally and letting the text engine pick among them in a
// single deterministic batched call
type Normalizer struct {
	gate  *llm.Gate
	vocab []string
	topN  int
	log   logrus.FieldLogger
}

// NewNormalizer over the given drug name vocabulary
func NewNormalizer(gate *llm.Gate, vocab []string, log logrus.FieldLogger) *Normalizer {
	return &Normalizer{
		gate:  gate,
		vocab: vocab,
		topN:  DefaultShortlistSize,
		log:   log,
	}
}

// LoadDrugList reads a newline-delimited drug name vocabulary
func LoadDrugList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read drug list %s: %w", path, err)
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}

	return names, nil
}

// Normalize returns the input with drug names corrected where the engine
// picked a candidate. Normalization failure never drops data: on an empty
// or malformed response, or an engine error, every line passes through
// unchanged.
func (n *Normalizer) Normalize(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	var inputs []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			inputs = append(inputs, line)
		}
	}

	if len(inputs) == 0 {
		return ""
	}

	prompt := n.buildPrompt(inputs)

	eng, release, err := n.gate.Acquire(ctx)
	if err != nil {
		n.log.WithError(err).Warn("normalizer could not acquire engine, passing text through")
		return strings.Join(inputs, "\n")
	}

	raw, err := eng.Generate(ctx, prompt, true)
	release()
	if err != nil {
		n.log.WithError(err).Warn("normalizer generation failed, passing text through")
		return strings.Join(inputs, "\n")
	}

	replacements := parseReplacements(raw)

	out := make([]string, 0, len(inputs))
	for _, line := range inputs {
		if corrected, ok := replacements[line]; ok {
			out = append(out, corrected)
		} else {
			out = append(out, line)
		}
	}

	return strings.Join(out, "\n")
}

// parseReplacements reads tab-separated "original<TAB>corrected" lines.
// Anything that does not split into exactly two parts is ignored, so a
// malformed response yields an empty map and no replacements.
func parseReplacements(raw string) map[string]string {
	replacements := map[string]string{}

	for _, line := range strings.Split(llm.StripSentinel(raw), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) != 2 {
			continue
		}

		original := stripLineTags(parts[0])
		corrected := stripLineTags(parts[1])
		if original == "" || corrected == "" {
			continue
		}

		replacements[original] = corrected
	}

	return replacements
}

func stripLineTags(s string) string {
	s = strings.TrimSpace(s)
	for _, tag := range []string{"<l>", "</l>", "<l_correct>", "</l_correct>"} {
		s = strings.ReplaceAll(s, tag, "")
	}

	return strings.TrimSpace(s)
}

func (n *Normalizer) buildPrompt(inputs []string) string {
	var b strings.Builder

	b.WriteString(`You are a clinical assistant who ONLY corrects drug names.

For every <l>…</l> line choose the SINGLE closest name from the candidate list and output a tab-separated line:
<l>original</l>	<l_correct>corrected</l_correct>

Do NOT change strength/dose/frequency text.
End your answer with the token ` + llm.Sentinel + `.

<l>Paracitamol 500 mg TID</l>      # candidates: Paracetamol, Panadol, Propranolol
<l_correct>Paracetamol 500 mg TID</l_correct>

`)

	for _, line := range inputs {
		noisy := line
		if i := strings.IndexFunc(line, func(r rune) bool { return r == ' ' || r == '\t' }); i >= 0 {
			noisy = line[:i]
		}

		candidates := Closest(noisy, n.vocab, n.topN)
		fmt.Fprintf(&b, "<l>%s</l>\t# candidates: %s\n", line, strings.Join(candidates, ", "))
	}

	b.WriteString("\n" + llm.Sentinel + "\n")

	return b.String()
}
