package classifier

import (
	"regexp"
	"strings"

	"github.com/mcowger/plexus/internal/unified"
)

// features is the extracted view of a request the scorers run against.
// Building it once keeps each scorer a pure table lookup.
type features struct {
	lastUser     string
	lastUserLow  string
	allTextLow   string
	tokens       int
	messageCount int
	hasTools     bool
	toolCount    int
	toolChoice   bool
	format       *unified.ResponseFormat
}

func extractFeatures(req *unified.Request) *features {
	lastUser := req.LastUserText()
	all := req.AllText()
	return &features{
		lastUser:     lastUser,
		lastUserLow:  strings.ToLower(lastUser),
		allTextLow:   strings.ToLower(all),
		tokens:       EstimateTokens(all),
		messageCount: len(req.Messages),
		hasTools:     len(req.Tools) > 0,
		toolCount:    len(req.Tools),
		toolChoice:   req.ToolChoice != nil,
		format:       req.ResponseFormat,
	}
}

// EstimateTokens is the 4-characters-per-token heuristic the tier
// boundaries are calibrated against.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// dimScore is the outcome of one dimension scorer.
type dimScore struct {
	score  float64
	signal string

	// side channels
	agenticDelta     int     // raw agentic pattern hits (agenticTask)
	agenticBaseline  float64 // floor contributed by tool presence
	reasoningMatches int     // raw reasoning marker hits (reasoningMarkers)
	structuredOutput bool    // set by outputFormat
}

type dimension struct {
	name  string
	score func(f *features) dimScore
}

var (
	reCodeFence    = regexp.MustCompile("```")
	reCodeTokens   = regexp.MustCompile(`(?i)\b(func|def|class|import|return|struct|var|const|public|private|=>|println|printf)\b`)
	reStepNumbered = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)
	reQuestion     = regexp.MustCompile(`\?`)
)

var reasoningMarkers = []string{
	"step by step", "step-by-step", "prove", "derive", "theorem", "lemma",
	"explain why", "why does", "reason about", "chain of thought",
	"think through", "rigorous", "formally",
}

var multiStepMarkers = []string{
	"first", "then", "next", "after that", "finally", "subsequently",
}

var simpleMarkers = []string{
	"what is", "what's", "who is", "who was", "define", "definition of",
	"translate", "capital of", "how many", "when was", "meaning of",
}

var technicalTerms = []string{
	"kubernetes", "database", "concurrency", "algorithm", "compiler",
	"microservice", "architecture", "monolith", "latency", "throughput",
	"encryption", "distributed", "scalab", "cache", "protocol", "api",
	"schema", "index", "replication", "transaction", "goroutine", "thread",
}

var agenticMarkers = []string{
	"create a file", "write a file", "edit the file", "run the", "execute",
	"deploy", "install", "browse", "search the web", "fetch the", "use the tool",
	"call the", "open the repo", "clone", "commit", "make a pull request",
}

var creativeMarkers = []string{
	"write a story", "write a poem", "write a song", "brainstorm", "imagine",
	"creative", "fictional", "roleplay", "slogan",
}

var constraintMarkers = []string{
	"must ", "should ", "at least", "at most", "no more than", "exactly",
	"between ", "limited to", "within ", "not exceed",
}

var imperativeVerbs = []string{
	"implement", "build", "design", "refactor", "optimize", "debug",
	"migrate", "integrate", "analyze", "compare", "summarize", "list",
}

var referenceMarkers = []string{
	"the above", "as mentioned", "previous", "earlier", "aforementioned",
	"the same as", "like before",
}

var negationMarkers = []string{
	" not ", "without", "except", "unless", "avoid", "never ", "don't", "do not",
}

func countContains(text string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(text, m) {
			n++
		}
	}
	return n
}

// dimensions holds the sixteen scorers in their documented order.
var dimensions = []dimension{
	{"tokenCount", func(f *features) dimScore {
		switch {
		case f.tokens < 50:
			return dimScore{score: -0.3}
		case f.tokens < 200:
			return dimScore{score: 0}
		case f.tokens < 1000:
			return dimScore{score: 0.3, signal: "tokens:moderate"}
		case f.tokens < 4000:
			return dimScore{score: 0.6, signal: "tokens:large"}
		default:
			return dimScore{score: 1.0, signal: "tokens:huge"}
		}
	}},
	{"codePresence", func(f *features) dimScore {
		n := len(reCodeFence.FindAllString(f.lastUser, -1))/2 + len(reCodeTokens.FindAllString(f.lastUser, -1))
		switch {
		case n == 0:
			return dimScore{}
		case n <= 2:
			return dimScore{score: 0.5, signal: "code:light"}
		default:
			return dimScore{score: 1.0, signal: "code:heavy"}
		}
	}},
	{"reasoningMarkers", func(f *features) dimScore {
		n := countContains(f.lastUserLow, reasoningMarkers)
		ds := dimScore{reasoningMatches: n}
		switch {
		case n == 0:
		case n == 1:
			ds.score, ds.signal = 0.4, "reasoning:light"
		case n == 2:
			ds.score, ds.signal = 0.7, "reasoning:moderate"
		default:
			ds.score, ds.signal = 1.0, "reasoning:heavy"
		}
		return ds
	}},
	{"multiStepPatterns", func(f *features) dimScore {
		n := countContains(f.lastUserLow, multiStepMarkers)
		n += len(reStepNumbered.FindAllString(f.lastUser, -1))
		switch {
		case n == 0:
			return dimScore{}
		case n == 1:
			return dimScore{score: 0.4}
		case n == 2:
			return dimScore{score: 0.8, signal: "multistep"}
		default:
			return dimScore{score: 1.0, signal: "multistep:heavy"}
		}
	}},
	{"simpleIndicators", func(f *features) dimScore {
		n := countContains(f.lastUserLow, simpleMarkers)
		if n == 0 {
			return dimScore{}
		}
		score := -0.2 * float64(n)
		if score < -1.0 {
			score = -1.0
		}
		return dimScore{score: score, signal: "simple"}
	}},
	{"technicalTerms", func(f *features) dimScore {
		n := countContains(f.lastUserLow, technicalTerms)
		switch {
		case n == 0:
			return dimScore{}
		case n == 1:
			return dimScore{score: 0.3}
		case n == 2:
			return dimScore{score: 0.6, signal: "technical"}
		default:
			return dimScore{score: 1.0, signal: "technical:heavy"}
		}
	}},
	{"agenticTask", func(f *features) dimScore {
		n := countContains(f.lastUserLow, agenticMarkers)
		ds := dimScore{agenticDelta: n}
		switch {
		case n == 0:
		case n == 1:
			ds.score, ds.signal = 0.4, "agentic"
		case n == 2:
			ds.score, ds.signal = 0.7, "agentic:moderate"
		default:
			ds.score, ds.signal = 1.0, "agentic:heavy"
		}
		return ds
	}},
	{"toolPresence", func(f *features) dimScore {
		if !f.hasTools {
			return dimScore{}
		}
		ds := dimScore{score: 0.5, signal: "tools", agenticBaseline: 0.4}
		if f.toolChoice {
			ds.score += 0.3
		}
		return ds
	}},
	{"questionComplexity", func(f *features) dimScore {
		q := len(reQuestion.FindAllString(f.lastUser, -1))
		score := 0.0
		switch {
		case q == 0:
		case q == 1:
			score = 0.1
		case q <= 3:
			score = 0.4
		default:
			score = 0.8
		}
		if strings.HasPrefix(f.lastUserLow, "why") || strings.HasPrefix(f.lastUserLow, "how") {
			score += 0.2
		}
		ds := dimScore{score: score}
		if score >= 0.4 {
			ds.signal = "questions:multi"
		}
		return ds
	}},
	{"creativeMarkers", func(f *features) dimScore {
		n := countContains(f.lastUserLow, creativeMarkers)
		switch {
		case n == 0:
			return dimScore{}
		case n == 1:
			return dimScore{score: 0.3, signal: "creative"}
		default:
			return dimScore{score: 0.8, signal: "creative:heavy"}
		}
	}},
	{"constraintCount", func(f *features) dimScore {
		n := countContains(f.lastUserLow, constraintMarkers)
		switch {
		case n == 0:
			return dimScore{}
		case n == 1:
			return dimScore{score: 0.3}
		case n == 2:
			return dimScore{score: 0.6, signal: "constraints"}
		default:
			return dimScore{score: 1.0, signal: "constraints:heavy"}
		}
	}},
	{"outputFormat", func(f *features) dimScore {
		ds := dimScore{}
		if f.format != nil && f.format.Type != unified.FormatText {
			ds.structuredOutput = true
			ds.score += 0.4
			ds.signal = "structured-output"
		}
		if strings.Contains(f.lastUserLow, "as json") || strings.Contains(f.lastUserLow, "in json") ||
			strings.Contains(f.lastUserLow, "as a table") || strings.Contains(f.lastUserLow, "as csv") ||
			strings.Contains(f.lastUserLow, "as yaml") || strings.Contains(f.lastUserLow, "as markdown") {
			ds.score += 0.3
			if ds.signal == "" {
				ds.signal = "format-request"
			}
		}
		if ds.score > 1.0 {
			ds.score = 1.0
		}
		return ds
	}},
	{"conversationDepth", func(f *features) dimScore {
		switch {
		case f.messageCount <= 2:
			return dimScore{score: -0.2}
		case f.messageCount <= 6:
			return dimScore{}
		case f.messageCount <= 12:
			return dimScore{score: 0.3, signal: "depth"}
		default:
			return dimScore{score: 0.5, signal: "depth:deep"}
		}
	}},
	{"imperativeVerbs", func(f *features) dimScore {
		n := countContains(f.lastUserLow, imperativeVerbs)
		switch {
		case n == 0:
			return dimScore{}
		case n == 1:
			return dimScore{score: 0.3}
		case n == 2:
			return dimScore{score: 0.6, signal: "imperative"}
		default:
			return dimScore{score: 1.0, signal: "imperative:heavy"}
		}
	}},
	{"referenceComplexity", func(f *features) dimScore {
		n := countContains(f.lastUserLow, referenceMarkers)
		switch {
		case n == 0:
			return dimScore{}
		case n == 1:
			return dimScore{score: 0.3}
		default:
			return dimScore{score: 0.6, signal: "references"}
		}
	}},
	{"negationComplexity", func(f *features) dimScore {
		n := countContains(f.lastUserLow, negationMarkers)
		switch {
		case n == 0:
			return dimScore{}
		case n == 1:
			return dimScore{score: 0.2}
		default:
			return dimScore{score: 0.5, signal: "negations"}
		}
	}},
}

// Architecture override vocabulary (phase 3).
var architectureNouns = []string{
	"architecture", "microservice", "monolith", "system design",
	"infrastructure", "topology",
}

var architectureVerbs = []string{
	"design", "architect", "structure", "compare", "plan", "evaluate",
}
