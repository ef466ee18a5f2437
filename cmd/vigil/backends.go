package main

import (
	"context"
	"fmt"
	"os"

	"vigil/pkg/config"
	"vigil/pkg/executor"
	"vigil/pkg/health"
	"vigil/pkg/protocol"
	"vigil/pkg/reasoner"
)

// backendSet is every configured backend, grouped by what drives it.
type backendSet struct {
	reasoners []reasoner.Backend
	executors []executor.Backend
}

// targets registers every backend with the health monitor.
func (b *backendSet) targets() []health.Target {
	out := make([]health.Target, 0, len(b.reasoners)+len(b.executors))
	for _, r := range b.reasoners {
		out = append(out, health.Target{Backend: r, Role: protocol.RoleReasoner})
	}
	for _, e := range b.executors {
		out = append(out, health.Target{Backend: e, Role: protocol.RoleExecutor})
	}
	return out
}

// buildBackends instantiates the four backend slots. Disabled slots are
// skipped.
func buildBackends(ctx context.Context, cfg *config.Config) (*backendSet, error) {
	set := &backendSet{}

	for _, slot := range []config.BackendConfig{cfg.Backends.Primary, cfg.Backends.Secondary} {
		if !slot.Enabled() {
			continue
		}
		r, err := newReasoningBackend(ctx, slot)
		if err != nil {
			return nil, err
		}
		set.reasoners = append(set.reasoners, r)
	}

	for _, slot := range []config.BackendConfig{cfg.Backends.Direct, cfg.Backends.Delegate} {
		if !slot.Enabled() {
			continue
		}
		e, err := newExecutionBackend(slot, cfg.KBRoot)
		if err != nil {
			return nil, err
		}
		set.executors = append(set.executors, e)
	}

	return set, nil
}

func newReasoningBackend(ctx context.Context, slot config.BackendConfig) (reasoner.Backend, error) {
	switch slot.Kind {
	case config.KindOllama:
		return reasoner.NewLocalBackend(slot.ID, slot.URL, slot.Model), nil
	case config.KindGemini:
		b, err := reasoner.NewGeminiBackend(ctx, slot.ID, slot.Model, os.Getenv(slot.APIKeyEnv))
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", slot.ID, err)
		}
		return b, nil
	case config.KindStatic:
		return reasoner.NewStaticBackend(slot.ID), nil
	default:
		return nil, &protocol.ConfigurationError{Field: "backends", Reason: fmt.Sprintf("%s: %q is not a reasoning backend", slot.ID, slot.Kind)}
	}
}

func newExecutionBackend(slot config.BackendConfig, kbRoot string) (executor.Backend, error) {
	switch slot.Kind {
	case config.KindDirect:
		return executor.NewDirectBackend(slot.ID, kbRoot), nil
	case config.KindClaude:
		return executor.NewDelegateBackend(slot.ID, slot.Binary, slot.Model, kbRoot,
			&executor.ExecSpawner{}, &executor.ExecCommandRunner{}), nil
	default:
		return nil, &protocol.ConfigurationError{Field: "backends", Reason: fmt.Sprintf("%s: %q is not an execution backend", slot.ID, slot.Kind)}
	}
}
