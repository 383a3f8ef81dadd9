package main

import (
	"os"

	"github.com/saeid-a/StudioScheduleBack/internal/dashcli"
)

func main() {
	if err := dashcli.Execute(); err != nil {
		os.Exit(1)
	}
}
