package interactive

import (
	"encoding/json"
	"regexp"
	"strings"
)

// extractedCode is the result of parsing one model response for executable
// code, per spec.md §4.8 step c.
type extractedCode struct {
	Reasoning string
	Code      string
	Found     bool
}

// matcher finds every occurrence of one code-block form in a response and
// returns, for each occurrence, the code it extracts plus the span it
// consumed (so reasoning text can be recovered from what's left).
type matcher struct {
	name    string
	pattern *regexp.Regexp
	extract func(match []string) string
}

// codeBlockMatchers is the fixed, ordered table spec.md §8 requires in
// place of conditional dispatch: fenced repl, fenced python/py, <repl>,
// <rlm_query>, <llm_query>, then the structured tool-call forms.
var codeBlockMatchers = []matcher{
	{
		name:    "fenced_repl",
		pattern: regexp.MustCompile("(?s)```repl\\s*\\n(.*?)```"),
		extract: func(m []string) string { return m[1] },
	},
	{
		name:    "fenced_python",
		pattern: regexp.MustCompile("(?s)```(?:python|py)\\s*\\n(.*?)```"),
		extract: func(m []string) string { return m[1] },
	},
	{
		name:    "repl_tag",
		pattern: regexp.MustCompile("(?s)<repl>(.*?)</repl>"),
		extract: func(m []string) string { return m[1] },
	},
	{
		name:    "rlm_query_tag",
		pattern: regexp.MustCompile("(?s)<rlm_query>(.*?)</rlm_query>"),
		extract: func(m []string) string { return rewriteAsCall("rlm_query", m[1]) },
	},
	{
		name:    "llm_query_tag",
		pattern: regexp.MustCompile("(?s)<llm_query>(.*?)</llm_query>"),
		extract: func(m []string) string { return rewriteAsCall("llm_query", m[1]) },
	},
	{
		name:    "tool_call",
		pattern: regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`),
		extract: extractToolCallBody,
	},
	{
		name:    "invoke",
		pattern: regexp.MustCompile(`(?s)<invoke[^>]*>(.*?)</invoke>`),
		extract: extractToolCallBody,
	},
}

// extractCode scans response for every recognized code-block form, in
// table order, and concatenates the extracted code with blank-line
// separators. Prose outside any matched span becomes reasoning.
func extractCode(response string) extractedCode {
	type span struct {
		start, end int
		code       string
	}
	var spans []span

	for _, m := range codeBlockMatchers {
		for _, idx := range m.pattern.FindAllStringSubmatchIndex(response, -1) {
			groups := make([]string, len(idx)/2)
			for i := 0; i < len(idx)/2; i++ {
				if idx[2*i] < 0 {
					continue
				}
				groups[i] = response[idx[2*i]:idx[2*i+1]]
			}
			code := strings.TrimSpace(m.extract(groups))
			if code == "" {
				continue
			}
			spans = append(spans, span{start: idx[0], end: idx[1], code: code})
		}
	}

	if len(spans) == 0 {
		return extractedCode{Reasoning: strings.TrimSpace(response), Found: false}
	}

	// Sort by position so concatenation follows source order, and so
	// reasoning extraction below sees monotonically increasing spans.
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].start < spans[j-1].start; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}

	var code strings.Builder
	var reasoning strings.Builder
	cursor := 0
	for i, s := range spans {
		reasoning.WriteString(response[cursor:s.start])
		if i > 0 {
			code.WriteString("\n\n")
		}
		code.WriteString(s.code)
		cursor = s.end
	}
	reasoning.WriteString(response[cursor:])

	return extractedCode{
		Reasoning: strings.TrimSpace(reasoning.String()),
		Code:      code.String(),
		Found:     true,
	}
}

// rewriteAsCall turns the bare prompt text inside an <rlm_query>/<llm_query>
// tag into an equivalent helper call, per spec.md §4.8 step c.
func rewriteAsCall(fn, prompt string) string {
	prompt = strings.TrimSpace(prompt)
	encoded, err := json.Marshal(prompt)
	if err != nil {
		encoded = []byte(`""`)
	}
	return fn + "(" + string(encoded) + ")"
}

// toolCallBody is the subset of a structured tool-call payload this engine
// understands: a single prompt, or a batch of prompts.
type toolCallBody struct {
	Name      string   `json:"name"`
	Prompt    string   `json:"prompt"`
	Prompts   []string `json:"prompts"`
	Arguments *struct {
		Prompt  string   `json:"prompt"`
		Prompts []string `json:"prompts"`
	} `json:"arguments"`
}

// extractToolCallBody rewrites a <tool_call>/<invoke> JSON payload carrying
// a prompt or prompts parameter into llm_query(...)/llm_query_batched(...).
// Payloads without a recognizable prompt parameter are dropped.
func extractToolCallBody(m []string) string {
	raw := strings.TrimSpace(m[1])

	var body toolCallBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return ""
	}

	prompt := body.Prompt
	prompts := body.Prompts
	if body.Arguments != nil {
		if prompt == "" {
			prompt = body.Arguments.Prompt
		}
		if len(prompts) == 0 {
			prompts = body.Arguments.Prompts
		}
	}

	if len(prompts) > 0 {
		encoded, err := json.Marshal(prompts)
		if err != nil {
			return ""
		}
		return "llm_query_batched(" + string(encoded) + ")"
	}
	if prompt != "" {
		return rewriteAsCall("llm_query", prompt)
	}
	return ""
}
