// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hamed0406/downdetector/internal/config"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	admin := strings.TrimSpace(os.Getenv("ADMIN_API_KEYS"))
	pub := strings.TrimSpace(os.Getenv("PUBLIC_API_KEYS"))
	allowed := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS"))
	cfg := config.FromEnv()

	if admin == "" {
		fail("ADMIN_API_KEYS is empty (POST /api/cycle would be open).")
	}
	if pub == "" {
		warn("PUBLIC_API_KEYS is empty; read routes accept admin keys only.")
	}

	// Normalize and sanity-check lists (no spaces around commas).
	for name, v := range map[string]string{"ADMIN_API_KEYS": admin, "PUBLIC_API_KEYS": pub} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	targets, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		fail("targets catalog " + cfg.TargetsFile + ": " + err.Error())
	}
	if len(targets) == 0 {
		warn("targets catalog is empty; cycles will have nothing to check.")
	} else {
		ok(fmt.Sprintf("%d targets in %s", len(targets), cfg.TargetsFile))
	}

	ok("ADDR=" + cfg.Addr)

	if cfg.DatabaseURL == "" {
		warn("DATABASE_URL empty; snapshots, history and rate limiter state are lost on restart.")
	} else {
		ok("DATABASE_URL present")
	}

	if cfg.MaxWritesPerHour > 0 && cfg.CheckInterval > 0 {
		perHour := int(3600 / cfg.CheckInterval.Seconds())
		if perHour > cfg.MaxWritesPerHour {
			warn(fmt.Sprintf("CHECK_INTERVAL_MS allows %d cycles/hour but MAX_WRITES_PER_HOUR is %d; later cycles will be dropped.", perHour, cfg.MaxWritesPerHour))
		}
	}

	if cfg.SlackWebhookURL == "" {
		warn("SLACK_WEBHOOK_URL empty; alerts go to the log only.")
	} else {
		ok("SLACK_WEBHOOK_URL present")
	}

	if allowed == "" {
		warn("ALLOWED_ORIGINS empty; any origin may call the API and open /ws.")
	} else {
		ok("ALLOWED_ORIGINS=" + allowed)
	}

	ok("preflight passed")
}
