package main

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// setupLog routes logging away from the terminal the TUI owns. Logs go
// to the file named by VOCALIS_LOGFILE, or nowhere.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)

	path := os.Getenv("VOCALIS_LOGFILE")
	if path == "" {
		return func() error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, err
	}

	log.SetOutput(f)
	log.SetLevel(log.DebugLevel)
	log.SetTimeFormat(time.Kitchen)
	return f.Close, nil
}
