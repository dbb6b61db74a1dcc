package main

import (
	"fmt"
	"log/slog"
	"os"

	cmdcalculate "booking-stats/command/calculate"
	cmdsummary "booking-stats/command/summary"
	cmdweb "booking-stats/command/web"
	cconfig "booking-stats/connectors/config"
)

// Weekly booking statistics for course and event exports.
// Usage:
//   booking-stats calculate [-anchor monday] [-k 1] [-out ./data] SRM22.csv D19.csv
//   booking-stats summary SRM22.csv
//   booking-stats web [-addr :8080] [-data ./data]
// Notes:
// - Exports carry a title line before the header; dates are read day-first (DD/MM/YYYY).
// - Every week from the anchor to the last booking is reported, including weeks with no bookings.

const usage = `usage: booking-stats calculate [flags] <export.csv> [...] | summary [flags] <export.csv> [...] | web [-addr :8080] [-data ./data] [-ui ./ui/dist]
ENV: set CONFIG_PATH to point to a YAML config file (default ./config.yml)`

func main() {
	args := os.Args
	// Initialize slog logger (text to stderr, level from config.yml)
	level := slog.LevelInfo
	if cfg, err := cconfig.FromEnv(); err == nil {
		level = cconfig.Level(cfg.Logging.Level)
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))

	if len(args) > 1 {
		sub := args[1]
		rest := append([]string{}, args[2:]...)
		var run func([]string) error
		switch sub {
		case "calculate":
			run = cmdcalculate.Run
		case "summary":
			run = cmdsummary.Run
		case "web":
			run = cmdweb.Run
		}
		if run != nil {
			if err := run(rest); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			return
		}
	}
	fmt.Fprintln(os.Stderr, usage)
	os.Exit(2)
}
