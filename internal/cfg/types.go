package cfg

type Cfg struct {
	ConfigPath string

	// Overrides; empty or false means the file value is used
	StateDriver string
	StatePath   string
	LogLevel    string
	LogJSON     bool

	DryRun              bool
	FailOnDeliveryError bool
	ShowState           bool
	ShowVersion         bool
	UserAgent           string
	Version             string
}
