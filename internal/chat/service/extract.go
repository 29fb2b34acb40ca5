package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/intent"

	"go.uber.org/zap"
)

// Selector resolves a reply to a numbered list into a 1-based position.
// ok is false when the text holds no selection; a number outside the list
// is still returned with ok true so the caller can name the valid range.
type Selector interface {
	Select(ctx context.Context, text string, count int) (n int, ok bool)
}

func newSelector(mode string, k *kit) Selector {
	if mode == SelectionLLM {
		return &llmSelector{kit: k}
	}
	return patternSelector{}
}

// patternSelector is the keyword and regex detector from package intent.
type patternSelector struct{}

func (patternSelector) Select(_ context.Context, text string, _ int) (int, bool) {
	return intent.DetectNumericSelection(text)
}

// llmSelector asks the model when the patterns find nothing, e.g. for
// "el rojo de la segunda foto". LLM failures count as no selection.
type llmSelector struct {
	kit *kit
}

func (s *llmSelector) Select(ctx context.Context, text string, count int) (int, bool) {
	if n, ok := intent.DetectNumericSelection(text); ok {
		return n, true
	}
	if count <= 0 {
		return 0, false
	}
	out, err := s.kit.complete(ctx, &domain.CompletionRequest{
		SystemPrompt: selectorSystemPrompt,
		UserText:     selectionPrompt(text, count),
		MaxTokens:    5,
		Temperature:  0,
	})
	if err != nil {
		s.kit.logger.Warn("llm selection failed", zap.Error(err))
		return 0, false
	}
	return parseSelectionAnswer(out)
}

func parseSelectionAnswer(out string) (int, bool) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.Trim(fields[0], ".,)\"'"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// extractProductName asks the model for the product named in text. An
// empty result means the customer named none.
func (k *kit) extractProductName(ctx context.Context, text string) (string, error) {
	out, err := k.complete(ctx, &domain.CompletionRequest{
		SystemPrompt: extractorSystemPrompt,
		UserText:     extractPrompt(text),
		MaxTokens:    50,
		Temperature:  0,
	})
	if err != nil {
		return "", err
	}
	name := strings.Trim(out, " \t\n\"'.")
	if name == "" || strings.EqualFold(name, noProductAnswer) {
		return "", nil
	}
	return name, nil
}
