package main

import (
	"fmt"
	"os"

	"github.com/turbot/go-kit/helpers"

	"github.com/turbot/shardpipe/constants"
	"github.com/turbot/shardpipe/logging"
)

func main() {
	logging.Initialize(constants.AppName)

	exitCode := 0
	func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", helpers.ToError(r).Error())
				exitCode = 1
			}
		}()
		exitCode = Execute()
	}()
	os.Exit(exitCode)
}
