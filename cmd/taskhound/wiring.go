package main

import (
	"fmt"
	"os"
	"path/filepath"

	"taskhound/internal/agent"
	"taskhound/internal/config"
	"taskhound/internal/convo"
	"taskhound/internal/discovery"
	"taskhound/internal/feedback"
	"taskhound/internal/llm"
	"taskhound/internal/logging"
	"taskhound/internal/queue"
	"taskhound/internal/scheduler"
	"taskhound/internal/tracker"
)

// system is the assembled runtime: every component the commands need,
// plus the handles to close on exit.
type system struct {
	cfg      *config.Config
	queue    *queue.Queue
	feedback *feedback.Store
	session  *convo.Manager
	sched    *scheduler.Scheduler

	errorLogs *discovery.ErrorLogSource
}

// buildSystem wires the full pipeline from configuration.
func buildSystem(cfg *config.Config, singleCycle bool) (*system, error) {
	logging.Boot("Assembling taskhound for workspace %s", cfg.Workspace)

	q, err := queue.Open(cfg.ResolvePath(cfg.Queue.DatabasePath))
	if err != nil {
		return nil, err
	}

	fb, err := feedback.Open(cfg.ResolvePath(filepath.Join(filepath.Dir(cfg.Queue.DatabasePath), "effectiveness.db")))
	if err != nil {
		q.Close()
		return nil, err
	}

	// Discovery sources. The issue tracker falls back to a local file
	// adapter when nothing else is configured.
	issues := tracker.NewFileClient(cfg.ResolvePath(filepath.Join(".taskhound", "issues.json")))
	errorLogs := discovery.NewErrorLogSource(cfg.ResolvePath(cfg.Discovery.LogDir))
	sources := []discovery.Source{
		errorLogs,
		discovery.NewIssueSource(issues),
		discovery.NewQualitySource(cfg.ResolvePath(cfg.Discovery.QualityReport)),
		discovery.NewCoverageSource(cfg.ResolvePath(cfg.Discovery.CoverageSummary), cfg.Discovery.CoverageThreshold),
	}
	agg := discovery.NewAggregator(q, sources...)
	logging.Boot("Discovery sources: %v", agg.SourceNames())

	// Summarization client is optional; without an API key the
	// conversation manager uses its extractive fallback.
	var summarizer llm.Client
	if cfg.LLM.APIKey != "" {
		summarizer = llm.NewHTTPClient(llm.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: config.Duration(cfg.LLM.Timeout, 0),
		})
	}
	session := convo.NewManager(convo.Options{
		TokenThreshold: cfg.Convo.TokenThreshold,
		PreserveRecent: cfg.Convo.PreserveRecent,
	}, summarizer)
	restoreSession(cfg, session)

	executor := agent.NewCLIExecutor(
		cfg.Agent.Binary,
		cfg.Agent.Model,
		config.Duration(cfg.Agent.Timeout, 0),
		cfg.ResolvePath(cfg.Agent.Workdir),
	)

	schedCfg := scheduler.Config{
		MaxConcurrent:   cfg.Scheduler.MaxConcurrent,
		CycleInterval:   config.Duration(cfg.Scheduler.CycleInterval, 0),
		DispatchTimeout: config.Duration(cfg.Agent.Timeout, 0),
		MaxRetries:      cfg.Queue.MaxRetries,
		DispatchRetries: cfg.Scheduler.DispatchRetries,
		RetryBaseDelay:  config.Duration(cfg.Scheduler.RetryBaseDelay, 0),
		RetryMaxDelay:   config.Duration(cfg.Scheduler.RetryMaxDelay, 0),
		ShutdownGrace:   config.Duration(cfg.Scheduler.ShutdownGrace, 0),
		SingleCycle:     singleCycle,
	}
	dispatcher := scheduler.NewDispatcher(executor, schedCfg)
	sched := scheduler.New(schedCfg, q, agg, dispatcher, fb, session)
	sched.SetTerminalHook(notifyTracker(issues))

	return &system{
		cfg:       cfg,
		queue:     q,
		feedback:  fb,
		session:   session,
		sched:     sched,
		errorLogs: errorLogs,
	}, nil
}

// close tears the system down, persisting the session first.
func (s *system) close() {
	persistSession(s.cfg, s.session)
	if s.errorLogs != nil {
		if err := s.errorLogs.Close(); err != nil {
			logging.Boot("Error closing log watcher: %v", err)
		}
	}
	if err := s.feedback.Close(); err != nil {
		logging.Boot("Error closing effectiveness store: %v", err)
	}
	if err := s.queue.Close(); err != nil {
		logging.Boot("Error closing queue: %v", err)
	}
}

// restoreSession loads the persisted conversation, if any.
func restoreSession(cfg *config.Config, session *convo.Manager) {
	path := cfg.ResolvePath(cfg.Convo.StatePath)
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Boot("Could not read session state: %v", err)
		}
		return
	}
	if err := session.ImportState(data); err != nil {
		logging.Boot("Could not restore session state: %v", err)
		return
	}
	stats := session.Stats()
	logging.Boot("Restored session: %d message(s), %d summaries", stats.LiveMessages, stats.Summaries)
}

// persistSession writes the conversation for the next run.
func persistSession(cfg *config.Config, session *convo.Manager) {
	path := cfg.ResolvePath(cfg.Convo.StatePath)
	if path == "" {
		return
	}
	data, err := session.ExportState()
	if err != nil {
		logging.Boot("Could not export session state: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logging.Boot("Could not create session directory: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logging.Boot("Could not persist session state: %v", err)
	}
}

// requireSystem builds the runtime for a command.
func requireSystem(singleCycle bool) (*system, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return buildSystem(cfg, singleCycle)
}
