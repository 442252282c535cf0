package llm

import "strings"

// Sentinel terminates every model response; callers strip it before parsing
const Sentinel = "###END###"

// StripSentinel cuts the response at the termination sentinel and trims it
func StripSentinel(s string) string {
	if i := strings.Index(s, Sentinel); i >= 0 {
		s = s[:i]
	}

	return strings.TrimSpace(s)
}

// ExtractionPrompt instructs the vision engine to transcribe only clearly
// readable prescription lines into the pipe-delimited format the parser
// accepts
const ExtractionPrompt = `You are a clinical assistant. Your task is to extract structured data ONLY from visible, clearly readable prescription lines.

Each output line MUST follow this exact format:
<name>|<strength_and_unit>|<dose (number)>|<frequency_in_hours>

Rules:
- Do NOT guess or assume drug names, strengths, doses, or frequencies.
- Only extract data if fully readable and clearly structured.
- Extract the dose as a numeric value (e.g., "1 tab" → "1", "2 tablets" → "2")
- Convert frequency abbreviations to hours between doses:
  - BID → 12
  - TID → 8
  - QID → 6
  - QD → 24
  - BIW → 84
  - TIW → 56
  - QOD → 48
  - Once weekly → 168
- Omit any drug line if parts are illegible or uncertain.
- Separate each line with a line break.
- Output ONLY valid lines in this format.
- End response with this literal text: ###END###

DO NOT invent or complete missing data. If unclear, SKIP the line entirely.`
