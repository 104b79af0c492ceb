package types

import (
	"fmt"
	"slices"
	"strings"

	"github.com/turbot/shardpipe/constants"
)

// RunMode is the mode an input pipeline is built for - this determines shuffle, repeat and batching policy
type RunMode string

func (m RunMode) Validate() error {
	if !slices.Contains(constants.SupportedRunModes, string(m)) {
		return fmt.Errorf("unsupported run mode '%s', available run modes: %s", m, strings.Join(constants.SupportedRunModes, ", "))
	}
	return nil
}

func (m RunMode) IsTraining() bool {
	return m == constants.RunModeTrain
}
