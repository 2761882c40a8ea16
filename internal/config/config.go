// Package config loads vizier's own CLI-level settings — output format,
// verbosity, the repo root override, and scheduling defaults like GC
// retention — from flags, environment variables, and an optional
// ".vizier/config.toml" (or .json) file, in that order of precedence. This
// is deliberately an ambient, CLI-side concern: nothing in internal/jobstore
// or internal/scheduler imports this package, matching the scheduler's own
// data model (dependencies, locks, artifacts) staying config-free.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JTan2231/vizier/internal/layout"
)

// Snapshot is the resolved, immutable configuration for one process
// invocation. Once built it is never re-read; a long-running background
// loop restarts to pick up edited config.
type Snapshot struct {
	Output   string
	Verbose  bool
	RepoRoot string

	// GCRetentionDays is how long a terminal job's directory survives
	// before "jobs gc" removes it. Zero means sweep every terminal job.
	GCRetentionDays int

	// TickPollInterval is loaded from "tick_poll_interval" and recorded in a
	// job's config_snapshot; no command in this repository re-ticks on it.
	TickPollInterval time.Duration

	// ApprovalRequiredByDefault is loaded from
	// "approval_required_by_default" and recorded in a job's
	// config_snapshot; enqueueing does not consult it, and approval gating
	// comes only from a command's --require-approval flag.
	ApprovalRequiredByDefault bool
}

// setDefaults holds the same values as Default() below, as plain
// viper.SetDefault calls; the two sets of values are kept in step by hand.
func setDefaults(v *viper.Viper) {
	v.SetDefault("output", "table")
	v.SetDefault("verbose", false)
	v.SetDefault("gc_retention_days", 7)
	v.SetDefault("tick_poll_interval", "5s")
	v.SetDefault("approval_required_by_default", false)
}

// Default returns the configuration vizier uses with no config file, no
// environment variables, and no flags set.
func Default() *Snapshot {
	return &Snapshot{
		Output:                    "table",
		GCRetentionDays:           7,
		TickPollInterval:          5 * time.Second,
		ApprovalRequiredByDefault: false,
	}
}

// Load builds a Snapshot for repoRoot: an explicit --config path if given,
// else config.toml/json under "<repoRoot>/.vizier/", then environment
// variables prefixed VIZIER_, then flagOutput/flagVerbose overrides from
// cobra persistent flags, in ascending precedence.
func Load(repoRoot string, flagOutput string, flagVerboseSet, flagVerbose bool, configPath ...string) (*Snapshot, error) {
	v := viper.New()
	setDefaults(v)

	if len(configPath) > 0 && configPath[0] != "" {
		v.SetConfigFile(configPath[0])
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(repoRoot + "/" + layout.RootDir)
	}
	v.SetEnvPrefix("VIZIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	snap := &Snapshot{
		Output:                    v.GetString("output"),
		Verbose:                   v.GetBool("verbose"),
		RepoRoot:                  repoRoot,
		GCRetentionDays:           v.GetInt("gc_retention_days"),
		TickPollInterval:          v.GetDuration("tick_poll_interval"),
		ApprovalRequiredByDefault: v.GetBool("approval_required_by_default"),
	}

	if flagOutput != "" {
		snap.Output = flagOutput
	}
	if flagVerboseSet {
		snap.Verbose = flagVerbose
	}
	return snap, nil
}

// ToMap flattens the Snapshot into the string map a job record's
// config_snapshot field carries: an immutable view of the config values the
// job was enqueued under, independent of whatever the operator's config file
// says by the time the job actually runs.
func (s *Snapshot) ToMap() map[string]string {
	return map[string]string{
		"output":                       s.Output,
		"verbose":                      strconv.FormatBool(s.Verbose),
		"gc_retention_days":            strconv.Itoa(s.GCRetentionDays),
		"tick_poll_interval":           s.TickPollInterval.String(),
		"approval_required_by_default": strconv.FormatBool(s.ApprovalRequiredByDefault),
	}
}
