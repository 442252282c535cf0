package store

import "time"

// Patient profile, a singleton record used as context for advisory prompts
type Patient struct {
	Name            string    `json:"name"`
	Gender          string    `json:"gender,omitempty"`
	ChronicDiseases []string  `json:"chronic_diseases,omitempty"`
	Allergies       []string  `json:"allergies,omitempty"`
	Medications     []string  `json:"medications,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func badgerKeyForPatient() []byte {
	return []byte("patient")
}

func badgerKeyForSetting(name string) []byte {
	return append([]byte("setting:"), []byte(name)...)
}
