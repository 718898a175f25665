package agents

import (
	"context"
	"sync"

	"github.com/unifyinbox/unifyinbox/pkg/llm"
	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// Runner fans one message out to the three enrichment agents and merges
// their partial results. Each agent owns its own fields of the merged
// Enrichment; an agent failure degrades to that agent's fallback and never
// erases another agent's output.
type Runner struct {
	contextBuilder *ContextBuilder
	classifier     *Classifier
	sentiment      *SentimentAnalyzer
}

// NewRunner wires the three agents onto one LLM client.
func NewRunner(completer llm.Completer) *Runner {
	return &Runner{
		contextBuilder: NewContextBuilder(completer),
		classifier:     NewClassifier(completer),
		sentiment:      NewSentimentAnalyzer(completer),
	}
}

// Enrich runs the agents concurrently and returns the merged enrichment
// after all three have finished. The classifier needs the context result,
// so context and sentiment start together and classification follows
// context on the same goroutine.
func (r *Runner) Enrich(ctx context.Context, msg *models.Message, stats *models.SenderStats) models.Enrichment {
	var (
		wg        sync.WaitGroup
		contextR  ContextResult
		classifyR ClassifyResult
		sentR     SentimentResult
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		contextR = r.contextBuilder.Build(ctx, msg, stats)
		classifyR = r.classifier.Classify(ctx, msg, contextR)
	}()
	go func() {
		defer wg.Done()
		sentR = r.sentiment.Analyze(ctx, msg)
	}()
	wg.Wait()

	return models.Enrichment{
		Relationship:   contextR.Relationship,
		ReplyRate:      contextR.ReplyRate,
		ContextSummary: contextR.ContextSummary,
		IsVIP:          contextR.IsVIP,

		PriorityLabel:           classifyR.PriorityLabel,
		PriorityScore:           classifyR.PriorityScore,
		TimeSensitive:           classifyR.TimeSensitive,
		ClassificationReasoning: classifyR.Reasoning,

		Sentiment:            sentR.Sentiment,
		IsComplaint:          sentR.IsComplaint,
		NeedsCarefulResponse: sentR.NeedsCarefulResponse,
		SuggestedApproach:    sentR.SuggestedApproach,
	}
}
