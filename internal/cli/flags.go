package cli

// Flags holds all command-line flag values
type Flags struct {
	// General flags
	CfgFile       string
	LogLevel      string
	MetricsListen string

	// Translation flags
	Provider   string
	SourceLang string
	TargetLang string
	Via        string

	// Model install flags
	Preset   string
	EnJaURL  string
	JaEnURL  string
	EnJaSHA  string
	JaEnSHA  string
	ModelDir string
}

// NewFlags creates a new Flags instance with default values
func NewFlags() *Flags {
	return &Flags{
		LogLevel:   "info",
		SourceLang: "en",
		TargetLang: "ja",
		Via:        "ja",
	}
}
