package types

// CLIArgs represents the command-line arguments.
type CLIArgs struct {
	ConfigFile   string
	Account      string
	ReportType   string
	GroupBy      string
	TagKey       string
	Days         int
	Periods      int
	ForceRefresh bool
	ReportName   string
	Export       []string
	Dir          string
	LogLevel     string
	LogFormat    string
	All          bool
	Addr         string
}
