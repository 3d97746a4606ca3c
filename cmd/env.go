package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-clinical/triage-cli/internal/pipeline"
	"github.com/meridian-clinical/triage-cli/internal/recorder"
	"github.com/meridian-clinical/triage-cli/internal/store"
	"github.com/meridian-clinical/triage-cli/internal/triage"
	anthropicpkg "github.com/meridian-clinical/triage-cli/pkg/anthropic"
)

// initStore opens the configured record store.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// recorderEnv holds the store, journal, and recorders needed by the review,
// serve, and extract commands.
type recorderEnv struct {
	Store    store.Store
	Journal  *store.Journal
	Recorder *recorder.DecisionRecorder
	Reviewer *recorder.HumanReviewRecorder
}

// Close releases resources held by the environment.
func (e *recorderEnv) Close() {
	if e.Journal != nil {
		_ = e.Journal.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initRecorders sets up the store, audit journal, and both recorders.
// Callers should defer env.Close().
func initRecorders(ctx context.Context, mode string) (*recorderEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var journal *store.Journal
	if cfg.Store.JournalPath != "" {
		journal, err = store.OpenJournal(cfg.Store.JournalPath)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	dec := recorder.NewDecisionRecorder(st, journal)
	return &recorderEnv{
		Store:    st,
		Journal:  journal,
		Recorder: dec,
		Reviewer: recorder.NewHumanReviewRecorder(dec),
	}, nil
}

// pipelineEnv extends recorderEnv with the classification pipeline.
type pipelineEnv struct {
	*recorderEnv
	Pipeline *pipeline.Pipeline
}

// initPipeline sets up the recorders, the Anthropic client, both
// classifiers, and the escalation policy. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	env, err := initRecorders(ctx, "extract")
	if err != nil {
		return nil, err
	}

	set := triage.DefaultTriggerSet()
	if cfg.Triage.TriggersFile != "" {
		set, err = triage.LoadTriggerSet(cfg.Triage.TriggersFile)
		if err != nil {
			env.Close()
			return nil, err
		}
		zap.L().Info("loaded trigger set",
			zap.String("path", cfg.Triage.TriggersFile),
			zap.Strings("triggers", set.Names()),
		)
	}

	var opts []anthropicpkg.Option
	if cfg.Anthropic.RateRPS > 0 {
		opts = append(opts, anthropicpkg.WithRateLimit(cfg.Anthropic.RateRPS, cfg.Anthropic.RateBurst))
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, opts...)

	retry := cfg.Retry.ToRetry()
	tc := triage.NewTriageClassifier(client, triage.ClassifierConfig{
		Model:        cfg.Anthropic.TriageModel,
		Timeout:      cfg.Triage.TriageTimeout(),
		ContextChars: cfg.Triage.ContextChars,
		MaxTokens:    cfg.Triage.TriageMaxTokens,
		Retry:        retry,
	})
	fc := triage.NewFullClassifier(client, triage.ClassifierConfig{
		Model:        cfg.Anthropic.FullModel,
		Timeout:      cfg.Triage.FullTimeout(),
		ContextChars: cfg.Triage.ContextChars,
		MaxTokens:    cfg.Triage.FullMaxTokens,
		Retry:        retry,
	})

	p := pipeline.New(tc, fc, triage.NewPolicy(set), env.Recorder, cfg.Batch.MaxConcurrentCases)
	return &pipelineEnv{recorderEnv: env, Pipeline: p}, nil
}
