package constants

const (
	RunModeTrain = "train"
	RunModeVal   = "val"
)

// SupportedRunModes lists the run modes an input pipeline may be built for
var SupportedRunModes = []string{RunModeTrain, RunModeVal}
