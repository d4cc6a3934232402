package main

import (
	"os"
	"time"
	_ "time/tzdata" // bundles timezone data for hosts without it
)

func main() {
	// Timestamps in logs and tool output are UTC regardless of the host.
	if err := os.Setenv("TZ", "UTC"); err != nil {
		panic(err)
	}
	time.Local = time.UTC

	execute()
}
