// Package agents implements the LLM-backed enrichment agents and their
// deterministic fallbacks: context builder, classifier, sentiment, draft
// reply, and thread summarizer.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/unifyinbox/unifyinbox/pkg/llm"
)

// Content truncation budgets keep prompt sizes bounded.
const (
	classifyTruncateAt = 2000
	draftTruncateAt    = 3000
)

// Max token budgets per agent call.
const (
	contextMaxTokens    = 256
	classifyMaxTokens   = 512
	sentimentMaxTokens  = 256
	draftMaxTokens      = 512
	summarizerMaxTokens = 512
)

// completeJSON runs one completion and unmarshals the response into dest.
// Models occasionally wrap JSON in a markdown fence or leading prose; the
// parser extracts the first top-level JSON object before unmarshaling.
// Any failure (API, parse, schema) surfaces as an error so the caller can
// take its fallback path.
func completeJSON(ctx context.Context, completer llm.Completer, req llm.Request, dest any) error {
	raw, err := completer.Complete(ctx, req)
	if err != nil {
		return fmt.Errorf("completion failed: %w", err)
	}
	payload := extractJSON(raw)
	if payload == "" {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}

// extractJSON returns the first balanced top-level JSON object in s, or "".
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// truncate bounds content to n bytes, trimming any rune split at the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size > 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
