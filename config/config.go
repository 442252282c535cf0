package config

// Config for application setup
type Config interface {
	BadgerPath() (string, error)
	PushoverAPIToken() (string, error)
	PushoverDeviceToken() (string, error)
	InferenceURL() string
	ModelURL() string
	ModelPath() string
	ModelAuthToken() string
	DrugListPath() string
	HorizonDays() int
}
