package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

const (
	// BadgerPathEnv name
	BadgerPathEnv = "BADGER_PATH"
	// PushoverAPITokenEnv name
	PushoverAPITokenEnv = "PUSHOVER_API_TOKEN"
	// PushoverDeviceTokenEnv name
	PushoverDeviceTokenEnv = "PUSHOVER_DEVICE_TOKEN"
	// InferenceURLEnv name
	InferenceURLEnv = "INFERENCE_URL"
	// ModelURLEnv name
	ModelURLEnv = "MODEL_URL"
	// ModelPathEnv name
	ModelPathEnv = "MODEL_PATH"
	// ModelAuthTokenEnv name
	ModelAuthTokenEnv = "MODEL_AUTH_TOKEN"
	// DrugListPathEnv name
	DrugListPathEnv = "DRUG_LIST_PATH"
	// HorizonDaysEnv name
	HorizonDaysEnv = "HORIZON_DAYS"
)

// DefaultHorizonDays of dose events generated ahead for open-ended courses
const DefaultHorizonDays = 14

var (
	// ErrEnvVariableNotSet occurs when an environment variable is not set
	ErrEnvVariableNotSet = errors.New("environment variable is not set")
)

// Env variable Config implementation
type Env struct {
}

// BadgerPath for the database directory
func (e *Env) BadgerPath() (string, error) {
	val, ok := os.LookupEnv(BadgerPathEnv)
	if !ok {
		return "", fmt.Errorf(
			"unable to get badger path from env variable %s: %w",
			BadgerPathEnv,
			ErrEnvVariableNotSet,
		)
	}

	return val, nil
}

// PushoverAPIToken getter
func (e *Env) PushoverAPIToken() (string, error) {
	val, ok := os.LookupEnv(PushoverAPITokenEnv)
	if !ok {
		return "", fmt.Errorf(
			"unable to get pushover API token from env variable %s: %w",
			PushoverAPITokenEnv,
			ErrEnvVariableNotSet,
		)
	}

	return val, nil
}

// PushoverDeviceToken getter
func (e *Env) PushoverDeviceToken() (string, error) {
	val, ok := os.LookupEnv(PushoverDeviceTokenEnv)
	if !ok {
		return "", fmt.Errorf(
			"unable to get pushover device token from env variable %s: %w",
			PushoverDeviceTokenEnv,
			ErrEnvVariableNotSet,
		)
	}

	return val, nil
}

// InferenceURL for the text generation endpoint, empty when not configured
func (e *Env) InferenceURL() string {
	return os.Getenv(InferenceURLEnv)
}

// ModelURL for the model artifact download, empty when not configured
func (e *Env) ModelURL() string {
	return os.Getenv(ModelURLEnv)
}

// ModelPath for the local model artifact, empty when not configured
func (e *Env) ModelPath() string {
	return os.Getenv(ModelPathEnv)
}

// ModelAuthToken for the model artifact download, empty when not configured
func (e *Env) ModelAuthToken() string {
	return os.Getenv(ModelAuthTokenEnv)
}

// DrugListPath to the drug name vocabulary file, empty when not configured
func (e *Env) DrugListPath() string {
	return os.Getenv(DrugListPathEnv)
}

// HorizonDays of dose events generated ahead for open-ended courses
func (e *Env) HorizonDays() int {
	val, err := strconv.Atoi(os.Getenv(HorizonDaysEnv))
	if err != nil || val <= 0 {
		return DefaultHorizonDays
	}

	return val
}
