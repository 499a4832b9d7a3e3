// Package config centralizes the substrate's limits, paths, and input
// validators. Config is immutable once Load returns; nothing in the rest of
// the tree mutates a *Config after startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agentmem/substrate/internal/errs"
	"gopkg.in/yaml.v3"
)

// Limits bounds every section of working memory and every suspension point.
type Limits struct {
	MaxObservations     int           `yaml:"max_observations"`
	MaxDecisions        int           `yaml:"max_decisions"`
	MaxBlockers         int           `yaml:"max_blockers"`
	MaxKeyFacts         int           `yaml:"max_key_facts"`
	MaxCompletedTasks   int           `yaml:"max_completed_tasks"`
	MaxTextLen          int           `yaml:"max_text_len"`
	MaxAgentNameLen     int           `yaml:"max_agent_name_len"`
	MaxAgeHours         float64       `yaml:"max_age_hours"`
	FileLockTimeout     time.Duration `yaml:"file_lock_timeout"`
	FileAccessTimeout   time.Duration `yaml:"file_access_timeout"`
	VectorTimeout       time.Duration `yaml:"vector_timeout"`
	VectorHealthInterval time.Duration `yaml:"vector_health_interval"`

	// RunOnMemoryThreshold is the per-section fullness ratio (count/limit)
	// that triggers hygiene archival (spec §4.5).
	RunOnMemoryThreshold float64 `yaml:"run_on_memory_threshold"`
	// MinimumEntriesBeforeCleanup: sections at or below this count are never
	// touched by a cleanup pass, regardless of ratio.
	MinimumEntriesBeforeCleanup int `yaml:"minimum_entries_before_cleanup"`
}

// HygieneRules gates the Hygiene Engine's per-section cleanup policies
// (spec §4.5 archivalRules).
type HygieneRules struct {
	// SummarizeBeforeDelete: when true, every section a cleanup pass
	// evicts from, except completedTasks, contributes a long-term
	// "archived-<section>" record in the same run (P4). When false, entries are evicted without being
	// archived.
	SummarizeBeforeDelete bool `yaml:"summarize_before_delete"`
	// RetainCriticalFacts: when true, keyFacts marked critical/high are
	// never evicted by a cleanup pass.
	RetainCriticalFacts bool `yaml:"retain_critical_facts"`
	// PreserveActiveBlockers: when true, cleanup only ever archives
	// blockers with Resolved=true; unresolved blockers are never touched.
	// When false, the recency rule applies to all blockers alike.
	PreserveActiveBlockers bool `yaml:"preserve_active_blockers"`
	// AlwaysSummarize: when true, every cleanup pass emits a
	// session-summary record of the document as it stood before the pass,
	// regardless of SummarizeBeforeDelete
	// (spec §9 open question a).
	AlwaysSummarize bool `yaml:"always_summarize"`
}

// Paths locates every file the substrate reads or writes.
type Paths struct {
	BaseDir           string `yaml:"base_dir"`
	ArchiveDir        string `yaml:"archive_dir"`
	BackupsDir        string `yaml:"backups_dir"`
	ValidationLogsDir string `yaml:"validation_logs_dir"`
	VectorDBPath      string `yaml:"vector_db_path"`
}

// WorkingMemoryPath returns the per-agent document path.
func (p Paths) WorkingMemoryPath(agent string) string {
	return filepath.Join(p.BaseDir, fmt.Sprintf("working_memory_%s.json", agent))
}

// ValidationLogPath returns today's append-only audit log path.
func (p Paths) ValidationLogPath(now time.Time) string {
	return filepath.Join(p.ValidationLogsDir, now.Format("2006-01-02")+".log")
}

// Config is the full, immutable configuration surface.
type Config struct {
	Limits Limits       `yaml:"limits"`
	Paths  Paths        `yaml:"paths"`
	Hygiene HygieneRules `yaml:"hygiene"`

	VectorHost       string `yaml:"vector_host"`
	VectorPort       int    `yaml:"vector_port"`
	VectorCollection string `yaml:"vector_collection"`
	VectorSize       int    `yaml:"vector_size"`
	EmbeddingProvider string `yaml:"embedding_provider"` // "model" or "hash"
	EmbeddingModelURL string `yaml:"embedding_model_url"`

	EnableInputValidation bool `yaml:"enable_input_validation"`

	ArchiveRetentionDays int `yaml:"archive_retention_days"`
	MaxTrackedAgents     int `yaml:"max_tracked_agents"`
	MaxBackupsPerFile    int `yaml:"max_backups_per_file"`
	MaxFallbackRecords   int `yaml:"max_fallback_records"`

	EventBusEnabled              bool `yaml:"eventbus_enabled"`
	EventBusPort                 int  `yaml:"eventbus_port"`
	DesktopNotificationsEnabled  bool `yaml:"desktop_notifications_enabled"`

	// explicitlySet tracks which env vars were present during Load, so a
	// YAML overlay never clobbers an operator's explicit env choice.
	explicitlySet map[string]bool
}

// Default returns the documented defaults before any environment or file
// overlay is applied.
func Default() *Config {
	return &Config{
		Limits: Limits{
			MaxObservations:      50,
			MaxDecisions:         30,
			MaxBlockers:          20,
			MaxKeyFacts:          100,
			MaxCompletedTasks:    50,
			MaxTextLen:           4000,
			MaxAgentNameLen:      64,
			MaxAgeHours:          72,
			FileLockTimeout:      5 * time.Second,
			FileAccessTimeout:    5 * time.Second,
			VectorTimeout:        3 * time.Second,
			VectorHealthInterval: 30 * time.Second,
			RunOnMemoryThreshold: 0.8,
			MinimumEntriesBeforeCleanup: 5,
		},
		Hygiene: HygieneRules{
			SummarizeBeforeDelete:  true,
			RetainCriticalFacts:    true,
			PreserveActiveBlockers: true,
			AlwaysSummarize:        false,
		},
		Paths: Paths{
			BaseDir:           "data/memory",
			ArchiveDir:        "data/memory/archive",
			BackupsDir:        "data/memory/backups",
			ValidationLogsDir: "data/memory/validation-logs",
			VectorDBPath:      "data/memory/vectorstore.db",
		},
		VectorHost:            "localhost",
		VectorPort:            0,
		VectorCollection:      "agent_memory",
		VectorSize:            256,
		EmbeddingProvider:     "hash",
		EmbeddingModelURL:     "",
		EnableInputValidation: true,
		ArchiveRetentionDays:  90,
		MaxTrackedAgents:      256,
		MaxBackupsPerFile:     5,
		MaxFallbackRecords:    10000,
		EventBusEnabled:       false,
		EventBusPort:          4222,
		DesktopNotificationsEnabled: false,
	}
}

// Load builds a Config from documented environment variables, then
// optionally overlays a YAML file (whose values never clobber an
// explicitly-set environment variable). Only the fields handled by
// mergeUnset are taken from the YAML file (section caps, max text length,
// hygiene threshold and minimum, base dir, vector collection and size,
// embedding provider); other YAML keys are ignored. Invalid inputs fail with
// InvalidArgument-class errors via Validate.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()
	cfg.applyEnv()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			var overlay Config
			if err := yaml.Unmarshal(data, &overlay); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
			cfg.mergeUnset(&overlay)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeUnset copies fields from overlay into c only where the env pass left
// the default untouched (env explicitly tracked below via explicitlySet).
func (c *Config) mergeUnset(overlay *Config) {
	set := c.explicitlySet
	if overlay.Limits.MaxObservations != 0 && !set["MAX_OBSERVATIONS"] {
		c.Limits.MaxObservations = overlay.Limits.MaxObservations
	}
	if overlay.Limits.MaxDecisions != 0 && !set["MAX_DECISIONS"] {
		c.Limits.MaxDecisions = overlay.Limits.MaxDecisions
	}
	if overlay.Limits.MaxBlockers != 0 && !set["MAX_BLOCKERS"] {
		c.Limits.MaxBlockers = overlay.Limits.MaxBlockers
	}
	if overlay.Limits.MaxKeyFacts != 0 && !set["MAX_KEY_FACTS"] {
		c.Limits.MaxKeyFacts = overlay.Limits.MaxKeyFacts
	}
	if overlay.Limits.MaxCompletedTasks != 0 && !set["MAX_COMPLETED_TASKS"] {
		c.Limits.MaxCompletedTasks = overlay.Limits.MaxCompletedTasks
	}
	if overlay.Limits.MaxTextLen != 0 && !set["MAX_TEXT_LEN"] {
		c.Limits.MaxTextLen = overlay.Limits.MaxTextLen
	}
	if overlay.Limits.RunOnMemoryThreshold != 0 && !set["RUN_ON_MEMORY_THRESHOLD"] {
		c.Limits.RunOnMemoryThreshold = overlay.Limits.RunOnMemoryThreshold
	}
	if overlay.Limits.MinimumEntriesBeforeCleanup != 0 && !set["MINIMUM_ENTRIES_BEFORE_CLEANUP"] {
		c.Limits.MinimumEntriesBeforeCleanup = overlay.Limits.MinimumEntriesBeforeCleanup
	}
	if overlay.Paths.BaseDir != "" && !set["BASE_DIR"] {
		c.Paths.BaseDir = overlay.Paths.BaseDir
		c.Paths.ArchiveDir = filepath.Join(overlay.Paths.BaseDir, "archive")
		c.Paths.BackupsDir = filepath.Join(overlay.Paths.BaseDir, "backups")
		c.Paths.ValidationLogsDir = filepath.Join(overlay.Paths.BaseDir, "validation-logs")
		c.Paths.VectorDBPath = filepath.Join(overlay.Paths.BaseDir, "vectorstore.db")
	}
	if overlay.VectorCollection != "" && !set["VECTOR_COLLECTION"] {
		c.VectorCollection = overlay.VectorCollection
	}
	if overlay.VectorSize != 0 && !set["VECTOR_SIZE"] {
		c.VectorSize = overlay.VectorSize
	}
	if overlay.EmbeddingProvider != "" && !set["EMBEDDING_PROVIDER"] {
		c.EmbeddingProvider = overlay.EmbeddingProvider
	}
}

func (c *Config) applyEnv() {
	c.explicitlySet = map[string]bool{}
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
			c.explicitlySet[key] = true
		}
	}
	intv := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				c.explicitlySet[key] = true
			}
		}
	}
	floatv := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = n
				c.explicitlySet[key] = true
			}
		}
	}
	durv := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := time.ParseDuration(v); err == nil {
				*dst = n
				c.explicitlySet[key] = true
			}
		}
	}
	boolv := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v == "1" || strings.EqualFold(v, "true")
			c.explicitlySet[key] = true
		}
	}

	intv("MAX_OBSERVATIONS", &c.Limits.MaxObservations)
	intv("MAX_DECISIONS", &c.Limits.MaxDecisions)
	intv("MAX_BLOCKERS", &c.Limits.MaxBlockers)
	intv("MAX_KEY_FACTS", &c.Limits.MaxKeyFacts)
	intv("MAX_COMPLETED_TASKS", &c.Limits.MaxCompletedTasks)
	intv("MAX_TEXT_LEN", &c.Limits.MaxTextLen)
	intv("MAX_AGENT_NAME_LEN", &c.Limits.MaxAgentNameLen)
	floatv("MAX_AGE_HOURS", &c.Limits.MaxAgeHours)
	durv("FILE_LOCK_TIMEOUT", &c.Limits.FileLockTimeout)
	durv("FILE_ACCESS_TIMEOUT", &c.Limits.FileAccessTimeout)
	durv("VECTOR_TIMEOUT", &c.Limits.VectorTimeout)
	durv("VECTOR_HEALTH_INTERVAL", &c.Limits.VectorHealthInterval)
	floatv("RUN_ON_MEMORY_THRESHOLD", &c.Limits.RunOnMemoryThreshold)
	intv("MINIMUM_ENTRIES_BEFORE_CLEANUP", &c.Limits.MinimumEntriesBeforeCleanup)

	boolv("SUMMARIZE_BEFORE_DELETE", &c.Hygiene.SummarizeBeforeDelete)
	boolv("RETAIN_CRITICAL_FACTS", &c.Hygiene.RetainCriticalFacts)
	boolv("PRESERVE_ACTIVE_BLOCKERS", &c.Hygiene.PreserveActiveBlockers)
	boolv("ALWAYS_SUMMARIZE", &c.Hygiene.AlwaysSummarize)

	str("BASE_DIR", &c.Paths.BaseDir)
	if c.explicitlySet["BASE_DIR"] {
		c.Paths.ArchiveDir = filepath.Join(c.Paths.BaseDir, "archive")
		c.Paths.BackupsDir = filepath.Join(c.Paths.BaseDir, "backups")
		c.Paths.ValidationLogsDir = filepath.Join(c.Paths.BaseDir, "validation-logs")
		c.Paths.VectorDBPath = filepath.Join(c.Paths.BaseDir, "vectorstore.db")
	}

	str("VECTOR_HOST", &c.VectorHost)
	intv("VECTOR_PORT", &c.VectorPort)
	str("VECTOR_COLLECTION", &c.VectorCollection)
	intv("VECTOR_SIZE", &c.VectorSize)
	str("EMBEDDING_PROVIDER", &c.EmbeddingProvider)
	str("EMBEDDING_MODEL_URL", &c.EmbeddingModelURL)
	boolv("ENABLE_INPUT_VALIDATION", &c.EnableInputValidation)

	intv("ARCHIVE_RETENTION_DAYS", &c.ArchiveRetentionDays)
	intv("MAX_TRACKED_AGENTS", &c.MaxTrackedAgents)
	intv("MAX_BACKUPS_PER_FILE", &c.MaxBackupsPerFile)
	intv("MAX_FALLBACK_RECORDS", &c.MaxFallbackRecords)
	boolv("EVENTBUS_ENABLED", &c.EventBusEnabled)
	intv("EVENTBUS_PORT", &c.EventBusPort)
	boolv("DESKTOP_NOTIFICATIONS_ENABLED", &c.DesktopNotificationsEnabled)
}

// Validate checks every limit and path for sane values, aggregating all
// problems into a single InvalidArgument-wrapped error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Limits.MaxObservations < 1 {
		add("max_observations must be >= 1")
	}
	if c.Limits.MaxDecisions < 1 {
		add("max_decisions must be >= 1")
	}
	if c.Limits.MaxBlockers < 1 {
		add("max_blockers must be >= 1")
	}
	if c.Limits.MaxKeyFacts < 1 {
		add("max_key_facts must be >= 1")
	}
	if c.Limits.MaxCompletedTasks < 1 {
		add("max_completed_tasks must be >= 1")
	}
	if c.Limits.MaxTextLen < 16 {
		add("max_text_len must be >= 16")
	}
	if c.Limits.MaxAgentNameLen < 1 || c.Limits.MaxAgentNameLen > 256 {
		add("max_agent_name_len must be between 1 and 256")
	}
	if c.Limits.MaxAgeHours <= 0 {
		add("max_age_hours must be > 0")
	}
	if c.Limits.RunOnMemoryThreshold <= 0 || c.Limits.RunOnMemoryThreshold > 1 {
		add("run_on_memory_threshold must be in (0, 1]")
	}
	if c.Limits.MinimumEntriesBeforeCleanup < 0 {
		add("minimum_entries_before_cleanup must be >= 0")
	}
	if c.Limits.FileLockTimeout <= 0 {
		add("file_lock_timeout must be > 0")
	}
	if c.Paths.BaseDir == "" {
		add("base_dir must be set")
	}
	if c.VectorSize < 2 {
		add("vector_size must be >= 2")
	}
	if c.EmbeddingProvider != "model" && c.EmbeddingProvider != "hash" {
		add("embedding_provider must be 'model' or 'hash'")
	}
	if c.ArchiveRetentionDays < 1 {
		add("archive_retention_days must be >= 1")
	}
	if c.MaxTrackedAgents < 1 {
		add("max_tracked_agents must be >= 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s: %w", strings.Join(problems, "; "), errs.InvalidArgument)
	}
	return nil
}
