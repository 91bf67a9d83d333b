package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quillengine/quill/internal/agent"
	"github.com/quillengine/quill/internal/config"
	"github.com/quillengine/quill/internal/llm"
	"github.com/quillengine/quill/internal/rpc"
	"github.com/quillengine/quill/internal/session"
	"github.com/quillengine/quill/internal/tasks"
	"github.com/quillengine/quill/internal/tools"
)

// engine wires the RPC methods to the executor, session, and ledger.
// Handlers run on the single request-serving loop, so run invocations
// against the shared session are naturally serialized.
type engine struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *tools.Registry
	ledger   *tasks.Ledger
	session  *session.Session

	providerMu sync.Mutex
	provider   *llm.Client
	providerID config.ProviderID
	model      string

	cancelRequested atomic.Bool
}

func (e *engine) registerMethods(server *rpc.Server) {
	server.Register("run", e.handleRun(server))
	server.Register("list_tasks", e.handleListTasks)
	server.Register("list_models", e.handleListModels)
	server.Register("clear_session", e.handleClearSession)
	server.Register("summarize_session", e.handleSummarizeSession)
	server.Register("cancel", e.handleCancel)
}

type runParams struct {
	Prompt     string `json:"prompt"`
	ModelIndex *int   `json:"model_index,omitempty"`
}

func (e *engine) handleRun(server *rpc.Server) rpc.Handler {
	return func(params json.RawMessage) (any, error) {
		var p runParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid run params: %w", err)
		}
		if p.Prompt == "" {
			return nil, fmt.Errorf("run requires a prompt")
		}

		provider, err := e.selectProvider(p.ModelIndex)
		if err != nil {
			return nil, err
		}

		e.cancelRequested.Store(false)
		task := e.ledger.Begin(p.Prompt)
		e.session.AddUser(p.Prompt)

		executor, err := agent.New(agent.Options{
			Provider: provider,
			Registry: e.registry,
			Session:  e.session,
			Ledger:   e.ledger,
			TaskID:   task.ID,
			MaxLoops: e.cfg.MaxLoops,
			Logger:   e.logger,
			Progress: func(msg string) {
				server.Notify("progress", map[string]any{"task_id": task.ID, "message": msg})
			},
			Notify:    server.Notify,
			Cancelled: e.cancelRequested.Load,
		})
		if err != nil {
			_ = e.ledger.Fail(task.ID, err.Error())
			return nil, err
		}

		start := time.Now()
		finalText, err := executor.Execute(context.Background())
		usage := executor.Usage()
		if err != nil {
			if ferr := e.ledger.Fail(task.ID, err.Error()); ferr != nil {
				e.logger.Warn("failed to mark task failed", "task_id", task.ID, "error", ferr)
			}
			return nil, err
		}

		if cerr := e.ledger.Complete(task.ID, time.Since(start), usage.ToolUses, usage.InputTokens, usage.OutputTokens); cerr != nil {
			e.logger.Warn("failed to mark task completed", "task_id", task.ID, "error", cerr)
		}

		return map[string]any{
			"task_id":    task.ID,
			"final_text": finalText,
		}, nil
	}
}

func (e *engine) handleListTasks(json.RawMessage) (any, error) {
	return e.ledger.List(), nil
}

func (e *engine) handleListModels(json.RawMessage) (any, error) {
	catalog := config.StaticModels()

	// Live local models, best effort: a stopped Ollama server must not
	// stall the frontend.
	ctx, cancel := context.WithTimeout(context.Background(), config.OllamaListTimeout)
	defer cancel()
	client := llm.NewOllamaClient(llm.OllamaConfig{BaseURL: e.cfg.OllamaBase})
	local, err := client.ListModels(ctx)
	if err != nil {
		e.logger.Debug("ollama model enumeration failed", "error", err)
		return catalog, nil
	}
	for _, info := range local {
		catalog = append(catalog, config.ModelInfo{
			Name:          info.Name + " (local)",
			Model:         info.Name,
			Provider:      config.ProviderOllama,
			Description:   info.Name + " running locally via Ollama",
			SupportsAgent: true,
		})
	}
	return catalog, nil
}

func (e *engine) handleClearSession(json.RawMessage) (any, error) {
	e.session.Clear()
	return true, nil
}

func (e *engine) handleSummarizeSession(json.RawMessage) (any, error) {
	provider, err := e.selectProvider(nil)
	if err != nil {
		return nil, err
	}
	manager := session.NewHistoryManager(provider, session.HistoryConfig{
		CountThreshold: e.cfg.Summarize.CountThreshold,
		CharThreshold:  e.cfg.Summarize.CharThreshold,
		KeepRecent:     e.cfg.Summarize.KeepRecent,
	}, e.logger)
	if err := manager.Summarize(context.Background(), e.session); err != nil {
		return nil, err
	}
	return true, nil
}

func (e *engine) handleCancel(json.RawMessage) (any, error) {
	e.cancelRequested.Store(true)
	return true, nil
}

// selectProvider resolves the provider for a run: the configured default,
// or the catalog entry at model_index. Clients are cached per selection.
func (e *engine) selectProvider(modelIndex *int) (*llm.Client, error) {
	providerID := e.cfg.Provider
	model := e.cfg.Model

	if modelIndex != nil {
		catalog, _ := e.handleListModels(nil)
		infos := catalog.([]config.ModelInfo)
		if *modelIndex < 0 || *modelIndex >= len(infos) {
			return nil, fmt.Errorf("model_index %d out of range (%d models)", *modelIndex, len(infos))
		}
		providerID = infos[*modelIndex].Provider
		model = infos[*modelIndex].Model
	}
	if model == "" {
		model = config.DefaultModel(providerID)
	}

	e.providerMu.Lock()
	defer e.providerMu.Unlock()
	if e.provider != nil && e.providerID == providerID && e.model == model {
		return e.provider, nil
	}

	client, err := e.buildProvider(providerID, model)
	if err != nil {
		return nil, err
	}
	e.provider = client
	e.providerID = providerID
	e.model = model
	return client, nil
}

func (e *engine) buildProvider(id config.ProviderID, model string) (*llm.Client, error) {
	key, ok := e.cfg.APIKey(id)
	if !ok {
		return nil, fmt.Errorf("%s environment variable not set", config.APIKeyEnv(id))
	}

	switch id {
	case config.ProviderAnthropic:
		c, err := llm.NewAnthropicClient(llm.AnthropicConfig{APIKey: key, DefaultModel: model})
		if err != nil {
			return nil, err
		}
		return llm.NewAnthropic(c), nil
	case config.ProviderOpenAI:
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{APIKey: key, DefaultModel: model})
		if err != nil {
			return nil, err
		}
		return llm.NewOpenAI(c), nil
	case config.ProviderGemini:
		c, err := llm.NewGeminiClient(llm.GeminiConfig{APIKey: key, DefaultModel: model})
		if err != nil {
			return nil, err
		}
		return llm.NewGemini(c), nil
	case config.ProviderOllama:
		return llm.NewOllama(llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:      e.cfg.OllamaBase,
			DefaultModel: model,
		})), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", id)
	}
}
