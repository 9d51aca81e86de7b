// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/boxrules/internal/metrics/collector"
	"github.com/autobrr/boxrules/internal/models"
)

var (
	ErrSchedulerNotRunning     = errors.New("automation scheduler is not running")
	ErrSchedulerAlreadyRunning = errors.New("automation scheduler is already running")
)

const logWriteTimeout = 10 * time.Second

type Config struct {
	ExecutionTimeout     time.Duration
	LogRetention         time.Duration
	HousekeepingInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ExecutionTimeout:     5 * time.Minute,
		LogRetention:         30 * 24 * time.Hour,
		HousekeepingInterval: time.Hour,
	}
}

type RuleSource interface {
	ListEnabled(ctx context.Context) ([]*models.AutomationRule, error)
}

type LogSink interface {
	Create(ctx context.Context, entry *models.ExecutionLog) (int64, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type CredentialSource interface {
	GetAPIKey(ctx context.Context, ownerHash string) (string, error)
}

// Service keeps one cron job per enabled rule and records every run.
//
// Lock order is registryMu, then schedMu.
type Service struct {
	cfg         Config
	rules       RuleSource
	logs        LogSink
	credentials CredentialSource
	newClient   ClientFactory
	executor    *RuleExecutor
	metrics     *collector.AutomationCollector

	registryMu sync.Mutex
	registry   map[int64]cron.EntryID

	schedMu          sync.Mutex
	cron             *cron.Cron
	running          bool
	stopHousekeeping context.CancelFunc
	housekeepingDone chan struct{}

	runLocksMu sync.Mutex
	runLocks   map[int64]*runLock
}

// runLock serializes runs of one rule. refs counts holders and waiters so
// the entry can be dropped once nobody uses it.
type runLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(cfg Config, rules RuleSource, logs LogSink, credentials CredentialSource, newClient ClientFactory, metrics *collector.AutomationCollector) *Service {
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultConfig().ExecutionTimeout
	}
	if cfg.HousekeepingInterval <= 0 {
		cfg.HousekeepingInterval = DefaultConfig().HousekeepingInterval
	}
	return &Service{
		cfg:         cfg,
		rules:       rules,
		logs:        logs,
		credentials: credentials,
		newClient:   newClient,
		executor:    NewRuleExecutor(metrics),
		metrics:     metrics,
		registry:    make(map[int64]cron.EntryID),
		runLocks:    make(map[int64]*runLock),
	}
}

// Start loads the enabled rules and starts the scheduling loop. Rules that
// cannot be scheduled are logged and skipped.
func (s *Service) Start(ctx context.Context) error {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}

	rules, err := s.rules.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled rules: %w", err)
	}

	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cronLogger{logger: log.Logger})),
	)

	if err := s.registerLocked(rules); err != nil {
		log.Error().Err(err).Msg("automations: some rules could not be scheduled")
	}

	s.cron.Start()
	s.running = true

	hkCtx, cancel := context.WithCancel(context.Background())
	s.stopHousekeeping = cancel
	s.housekeepingDone = make(chan struct{})
	go s.housekeeping(hkCtx, s.housekeepingDone)

	log.Info().Int("jobs", len(s.registry)).Msg("automations: scheduler started")
	return nil
}

// Reload replaces every registered job with jobs built from the current set
// of enabled rules. Runs already in progress are not interrupted.
func (s *Service) Reload(ctx context.Context) error {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if !s.running {
		return ErrSchedulerNotRunning
	}

	rules, err := s.rules.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled rules: %w", err)
	}

	for ruleID, entryID := range s.registry {
		s.cron.Remove(entryID)
		delete(s.registry, ruleID)
	}

	err = s.registerLocked(rules)
	log.Debug().Int("jobs", len(s.registry)).Msg("automations: scheduler reloaded")
	return err
}

// registerLocked schedules one job per rule. Both locks must be held.
func (s *Service) registerLocked(rules []*models.AutomationRule) error {
	var errs []error
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		schedule, expr, err := ParseSchedule(rule.Trigger)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", rule.ID, err))
			continue
		}

		snapshot := cloneRule(rule)
		s.registry[rule.ID] = s.cron.Schedule(schedule, cron.FuncJob(func() {
			s.runScheduled(snapshot)
		}))
		log.Trace().Int64("ruleID", rule.ID).Str("schedule", expr).Msg("automations: job registered")
	}

	s.metrics.SetScheduledJobs(len(s.registry))
	return errors.Join(errs...)
}

func cloneRule(rule *models.AutomationRule) *models.AutomationRule {
	c := *rule
	c.Conditions = append([]models.Condition(nil), rule.Conditions...)
	return &c
}

// NextRunTime returns when the rule's job fires next. The second value is
// false when the rule has no registered job.
func (s *Service) NextRunTime(ruleID int64) (time.Time, bool) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	entryID, ok := s.registry[ruleID]
	if !ok {
		return time.Time{}, false
	}

	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if s.cron == nil {
		return time.Time{}, false
	}
	entry := s.cron.Entry(entryID)
	if !entry.Valid() || entry.Next.IsZero() {
		return time.Time{}, false
	}
	return entry.Next, true
}

func (s *Service) JobCount() int {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	return len(s.registry)
}

func (s *Service) Running() bool {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	return s.running
}

// Shutdown removes all jobs and stops the loop, then waits for in-flight runs
// until ctx is done. Calling it again is a no-op.
func (s *Service) Shutdown(ctx context.Context) error {
	s.registryMu.Lock()
	s.schedMu.Lock()

	if !s.running {
		s.schedMu.Unlock()
		s.registryMu.Unlock()
		return nil
	}

	for ruleID, entryID := range s.registry {
		s.cron.Remove(entryID)
		delete(s.registry, ruleID)
	}
	s.metrics.SetScheduledJobs(0)

	stopped := s.cron.Stop()
	s.running = false
	s.stopHousekeeping()
	housekeepingDone := s.housekeepingDone

	s.schedMu.Unlock()
	s.registryMu.Unlock()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return fmt.Errorf("waiting for running rules: %w", ctx.Err())
	}

	select {
	case <-housekeepingDone:
	case <-ctx.Done():
		return fmt.Errorf("waiting for housekeeping: %w", ctx.Err())
	}

	log.Info().Msg("automations: scheduler stopped")
	return nil
}

// ForceRun executes the rule immediately, outside of its schedule. The run
// is not tied to the caller's cancellation so the log is always written.
// It waits for an in-flight run of the same rule to finish.
func (s *Service) ForceRun(ctx context.Context, rule *models.AutomationRule, apiKey string) *ExecutionResult {
	unlock, _ := s.acquireRun(rule.ID, true)
	defer unlock()

	return s.execute(context.WithoutCancel(ctx), rule, models.TriggerKindManual, func(context.Context) (string, error) {
		return apiKey, nil
	})
}

// runScheduled drops the tick when the rule is still running.
func (s *Service) runScheduled(rule *models.AutomationRule) {
	unlock, ok := s.acquireRun(rule.ID, false)
	if !ok {
		log.Debug().Int64("ruleID", rule.ID).Msg("automations: previous run still in progress, skipping tick")
		return
	}
	defer unlock()

	s.execute(context.Background(), rule, models.TriggerKindScheduled, func(ctx context.Context) (string, error) {
		return s.credentials.GetAPIKey(ctx, rule.OwnerHash)
	})
}

func (s *Service) acquireRun(ruleID int64, wait bool) (func(), bool) {
	s.runLocksMu.Lock()
	l, ok := s.runLocks[ruleID]
	if !ok {
		l = &runLock{}
		s.runLocks[ruleID] = l
	}
	l.refs++
	s.runLocksMu.Unlock()

	if wait {
		l.mu.Lock()
	} else if !l.mu.TryLock() {
		s.releaseRun(ruleID, l)
		return nil, false
	}

	return func() {
		l.mu.Unlock()
		s.releaseRun(ruleID, l)
	}, true
}

func (s *Service) releaseRun(ruleID int64, l *runLock) {
	s.runLocksMu.Lock()
	defer s.runLocksMu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(s.runLocks, ruleID)
	}
}

// execute runs the rule under the execution timeout. The caller holds the
// rule's run lock.
func (s *Service) execute(parent context.Context, rule *models.AutomationRule, kind models.TriggerKind, apiKey func(context.Context) (string, error)) *ExecutionResult {
	ctx, cancel := context.WithTimeout(parent, s.cfg.ExecutionTimeout)
	defer cancel()

	started := time.Now()
	result, err := s.runRule(ctx, rule, apiKey)
	if err != nil {
		result = failedResult(rule.ID, started, time.Since(started), err)
	}

	outcome := s.classify(rule, kind, result, err)
	s.metrics.ObserveRun(string(kind), outcome, result.ItemsMatched, time.Since(started).Seconds())
	s.writeLog(ctx, rule, kind, result)

	return result
}

func (s *Service) runRule(ctx context.Context, rule *models.AutomationRule, apiKey func(context.Context) (string, error)) (*ExecutionResult, error) {
	key, err := apiKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load api key: %w", err)
	}
	return s.executor.Execute(ctx, rule, s.newClient(key))
}

// classify logs the run and returns its metrics outcome. No outcome
// unschedules the rule.
func (s *Service) classify(rule *models.AutomationRule, kind models.TriggerKind, result *ExecutionResult, err error) string {
	l := log.With().Int64("ruleID", rule.ID).Str("rule", rule.Name).Str("trigger", string(kind)).Logger()

	if result.Success {
		l.Debug().Int("matched", result.ItemsMatched).Int("total", result.TotalItems).Msg("automations: rule executed")
		return collector.OutcomeSuccess
	}

	// Only a failed fetch is transient; action failures never are.
	if IsTransientError(err) {
		l.Warn().Err(err).Msg("automations: transient failure, retrying on next run")
		return collector.OutcomeTransient
	}

	event := l.Error()
	if err != nil {
		event = event.Err(err)
	} else if result.ErrorMessage != nil {
		event = event.Str("error", *result.ErrorMessage)
	}
	event.Msg("automations: rule execution failed")
	return collector.OutcomeFailed
}

func (s *Service) writeLog(ctx context.Context, rule *models.AutomationRule, kind models.TriggerKind, result *ExecutionResult) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
		defer cancel()
	}

	entry := &models.ExecutionLog{
		RuleID:         rule.ID,
		OwnerHash:      rule.OwnerHash,
		RuleName:       rule.Name,
		TriggerKind:    kind,
		ItemsMatched:   result.ItemsMatched,
		ItemsProcessed: result.ItemsProcessed,
		TotalItems:     result.TotalItems,
		Success:        result.Success,
		ErrorMessage:   result.ErrorMessage,
		PartialSuccess: result.PartialSuccess,
		ProcessedItems: result.ProcessedItems,
		StartedAt:      result.StartedAt,
		DurationMs:     result.DurationMs,
	}

	if _, err := s.logs.Create(ctx, entry); err != nil {
		log.Error().Err(err).Int64("ruleID", rule.ID).Msg("automations: failed to write execution log")
	}
}

// PruneLogs deletes execution logs older than the retention window.
func (s *Service) PruneLogs(ctx context.Context) (int64, error) {
	if s.cfg.LogRetention <= 0 {
		return 0, nil
	}
	return s.logs.Prune(ctx, time.Now().Add(-s.cfg.LogRetention))
}

func (s *Service) housekeeping(ctx context.Context, done chan struct{}) {
	defer close(done)

	prune := func() {
		if pruned, err := s.PruneLogs(ctx); err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("automations: failed to prune execution logs")
			}
		} else if pruned > 0 {
			log.Info().Int64("count", pruned).Msg("automations: pruned old execution logs")
		}
	}

	prune()

	ticker := time.NewTicker(s.cfg.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg("automations: cron " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("automations: cron " + msg)
}
