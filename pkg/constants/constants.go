package constants

const (
	AppName      = "carebook"
	ConfigName   = "config"
	ConfigFormat = "yaml"
	EnvPrefix    = "CAREBOOK"
)

