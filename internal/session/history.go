package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quillengine/quill/internal/llm"
	"github.com/quillengine/quill/pkg/models"
)

// Summarization thresholds. A session becomes eligible when either is
// exceeded; the most recent messages are always kept verbatim.
const (
	DefaultSummarizeCountThreshold = 200
	DefaultSummarizeCharThreshold  = 200_000
	DefaultKeepRecentCount         = 20
)

const summarizationPrompt = `You're assisting with summarizing the conversation history. Please create a CONCISE summary of the following conversation, focusing on:
- Key questions and tasks the user asked about
- Important code changes, file edits, or information discovered
- Main concepts discussed and solutions provided

The summary should maintain coherence for future context while being as brief as possible. Focus on capturing essential context needed for continuing the conversation.

CONVERSATION TO SUMMARIZE:
`

// HistoryManager watches a session's growth and compacts old history into a
// summary produced by the provider. It is separate from the executor: the
// executor never triggers summarization itself.
type HistoryManager struct {
	provider *llm.Client
	logger   *slog.Logger

	countThreshold int
	charThreshold  int
	keepRecent     int
}

// HistoryConfig tunes the summarization thresholds; zero values use the
// defaults above.
type HistoryConfig struct {
	CountThreshold int
	CharThreshold  int
	KeepRecent     int
}

// NewHistoryManager creates a history manager over the given provider.
func NewHistoryManager(provider *llm.Client, cfg HistoryConfig, logger *slog.Logger) *HistoryManager {
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = DefaultSummarizeCountThreshold
	}
	if cfg.CharThreshold <= 0 {
		cfg.CharThreshold = DefaultSummarizeCharThreshold
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecentCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryManager{
		provider:       provider,
		logger:         logger,
		countThreshold: cfg.CountThreshold,
		charThreshold:  cfg.CharThreshold,
		keepRecent:     cfg.KeepRecent,
	}
}

// ShouldSummarize reports whether the session exceeds either threshold.
func (h *HistoryManager) ShouldSummarize(s *Session) bool {
	return s.MessageCount() > h.countThreshold || s.CharCount() > h.charThreshold
}

// Summarize compacts the oldest messages into a single summary system
// message, keeping the most recent messages verbatim. No-op when there is
// nothing old enough to fold.
func (h *HistoryManager) Summarize(ctx context.Context, s *Session) error {
	messages := s.Messages()
	keep := h.keepRecent
	if keep > len(messages) {
		keep = len(messages)
	}
	toSummarize := len(messages) - keep
	if toSummarize <= 0 {
		return nil
	}

	var transcript strings.Builder
	for _, msg := range messages[:toSummarize] {
		fmt.Fprintf(&transcript, "[%s] %s\n", msg.Role, msg.Content)
	}

	summary, err := h.provider.Complete(ctx,
		[]models.Message{models.UserMessage(summarizationPrompt + transcript.String())},
		models.CompletionOptions{
			Temperature: models.Float(0.3),
			MaxTokens:   models.Int(1024),
		})
	if err != nil {
		return fmt.Errorf("summarize history: %w", err)
	}

	compacted := make([]models.Message, 0, keep+1)
	compacted = append(compacted, models.SystemMessage("Previous conversation summary: "+summary))
	compacted = append(compacted, messages[toSummarize:]...)
	s.Splice(compacted)

	h.logger.Info("summarized conversation history",
		"summarized_messages", toSummarize,
		"kept_messages", keep,
		"summary_chars", len(summary))
	return nil
}
