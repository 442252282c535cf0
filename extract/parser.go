package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"git.0xdad.com/tblyler/dosetime/store"
	"github.com/google/uuid"
)

// lineRe matches one extracted prescription line:
// name | strength+unit | dose | frequencyHours [| packAmount packUnit]
var lineRe = regexp.MustCompile(
	`(?i)^(.+?)\s*\|\s*(\d+(?:\.\d+)?(?:mg|mcg|g|ml|IU))\s*\|\s*(\d+)\s*\|\s*(\d+(?:\.\d+)?)(?:\s*\|\s*(\d+)\s*(p|ml))?\s*$`,
)

// ParsePrescriptions turns free-form extracted text into validated
// prescription records. Lines that do not match are silently dropped;
// partial extraction is expected and tolerated. An empty result means
// nothing was extracted, not an error.
func ParsePrescriptions(raw string) []*store.Prescription {
	var prescriptions []*store.Prescription

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		dose, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}

		frequency, err := strconv.ParseFloat(m[4], 64)
		if err != nil || frequency <= 0 {
			continue
		}

		p := &store.Prescription{
			ID:             uuid.New(),
			Medicine:       strings.TrimSpace(m[1]),
			StrengthUnit:   strings.TrimSpace(m[2]),
			Dose:           dose,
			FrequencyHours: frequency,
			CreatedAt:      time.Now(),
		}

		if m[5] != "" {
			amount, err := strconv.Atoi(m[5])
			if err == nil {
				p.PackAmount = &amount
				p.PackUnit = strings.ToLower(m[6])
			}
		}

		prescriptions = append(prescriptions, p)
	}

	return prescriptions
}
