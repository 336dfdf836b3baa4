// Package classifier implements C6: pure, pattern-based query analysis,
// grounded on original_source/src/services/intelligent_query_router.py's
// QueryClassifier (pattern-vote type classification, length-bucket plus
// keyword-vote complexity, the CJK token/response-budget formula).
package classifier

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// QueryType is one of the twelve classification buckets (spec §4.3).
type QueryType string

const (
	SimpleQA         QueryType = "simple_qa"
	ComplexReasoning QueryType = "complex_reasoning"
	CodeGeneration   QueryType = "code_generation"
	CreativeWriting  QueryType = "creative_writing"
	DataAnalysis     QueryType = "data_analysis"
	Translation      QueryType = "translation"
	Summarization    QueryType = "summarization"
	Research         QueryType = "research"
	ChineseContent   QueryType = "chinese_content"
	Multimodal       QueryType = "multimodal"
	Automation       QueryType = "automation"
	General          QueryType = "general"
)

// Complexity is the five-level scale from spec §4.3.
type Complexity int

const (
	VeryLow  Complexity = 1
	Low      Complexity = 2
	Medium   Complexity = 3
	High     Complexity = 4
	VeryHigh Complexity = 5
)

// RequirementFlags mirror the original's requires_* booleans.
type RequirementFlags struct {
	Code       bool
	Reasoning  bool
	Creativity bool
	DataAnalysis bool
	Automation bool
}

// Analysis is the Classifier's output (spec §4.3's QueryAnalysis).
type Analysis struct {
	QueryID         string
	QueryType       QueryType
	Complexity      Complexity
	Language        string
	EstimatedTokens int
	Requirements    RequirementFlags
	Confidence      float64
	ProcessingMS    float64
}

var cjkPattern = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)

// typeOrder fixes the argmax scan order over typePatterns' keys (plus
// ChineseContent, which is scored separately below) so that a tie between
// two types resolves the same way on every call, regardless of Go's
// randomized map iteration order (spec P4: repeated Classify calls on the
// same input must yield the same QueryType).
var typeOrder = []QueryType{
	CodeGeneration,
	Translation,
	DataAnalysis,
	CreativeWriting,
	Summarization,
	Research,
	Automation,
	ChineseContent,
}

var typePatterns = map[QueryType][]*regexp.Regexp{
	CodeGeneration: {
		regexp.MustCompile(`(?i)\b(code|program|function|script|algorithm|debug)\b`),
		regexp.MustCompile(`(?i)\b(python|java|javascript|cpp|html|css)\b`),
		regexp.MustCompile(`(?i)\b(for|while|def|class|import)\b`),
		regexp.MustCompile(`(?i)\b(write.*code|create.*function|implement)\b`),
	},
	Translation: {
		regexp.MustCompile(`(?i)\b(translate|translation)\b`),
		regexp.MustCompile(`翻译|译成`),
		regexp.MustCompile(`(?i)\b(from.*to|in.*language)\b`),
	},
	DataAnalysis: {
		regexp.MustCompile(`(?i)\b(analyze|calculate|compute|statistics|graph)\b`),
		regexp.MustCompile(`(?i)\b(data|numbers|percentage|average)\b`),
		regexp.MustCompile(`(?i)\b(chart|plot|visualize)\b`),
	},
	CreativeWriting: {
		regexp.MustCompile(`(?i)\b(write|create|story|poem|creative)\b`),
		regexp.MustCompile(`(?i)\b(imagine|design|compose|draft)\b`),
	},
	Summarization: {
		regexp.MustCompile(`(?i)\b(summarize|summary|brief|concise)\b`),
		regexp.MustCompile(`(?i)\b(key.*points|overview)\b`),
	},
	Research: {
		regexp.MustCompile(`(?i)\b(research|study|investigate)\b`),
		regexp.MustCompile(`(?i)\b(recent|latest|survey)\b`),
	},
	Automation: {
		regexp.MustCompile(`(?i)\b(automation|adb|android)\b`),
		regexp.MustCompile(`(?i)\b(tap|swipe|click|scroll|screenshot)\b`),
	},
}

// Classify is the C6 entry point; it is a pure function of text and the
// static pattern set (spec P4: idempotent given fixed input).
func Classify(text string) Analysis {
	start := time.Now()

	qType := classifyType(text)
	complexity := classifyComplexity(text)
	tokens := estimateTokens(text)
	language := detectLanguage(text)
	confidence := confidenceFor(qType, text)

	return Analysis{
		QueryID:         uuid.NewString(),
		QueryType:       qType,
		Complexity:      complexity,
		Language:        language,
		EstimatedTokens: tokens,
		Requirements:    requirementsFor(text, qType, complexity),
		Confidence:      confidence,
		ProcessingMS:    float64(time.Since(start).Microseconds()) / 1000,
	}
}

func classifyType(text string) QueryType {
	scores := make(map[QueryType]int)
	for qType, patterns := range typePatterns {
		for _, p := range patterns {
			scores[qType] += len(p.FindAllString(text, -1))
		}
	}

	// CJK detection adds a flat +2 to ChineseContent before argmax (Open
	// Question decision: Chinese wins over Translation when both fire).
	if cjkPattern.MatchString(text) {
		scores[ChineseContent] += 2
	}

	best := General
	bestScore := 0
	for _, qType := range typeOrder {
		if score := scores[qType]; score > bestScore {
			best = qType
			bestScore = score
		}
	}
	if bestScore < 1 {
		return General
	}
	return best
}

var (
	whyHowPattern    = regexp.MustCompile(`(?i)\b(why|how)\b`)
	highComplexWords = regexp.MustCompile(`(?i)\b(analyze|evaluate|compare|synthesize)\b`)
)

// complexityOrder fixes the argmax scan order for classifyComplexity, for
// the same reason typeOrder does above.
var complexityOrder = []Complexity{VeryLow, Low, Medium, High, VeryHigh}

func classifyComplexity(text string) Complexity {
	scores := make(map[Complexity]int)

	// Length buckets use byte length, not rune count: a CJK-heavy short
	// query (few runes, many bytes) buckets the way spec.md's worked
	// example expects (scenario 5: 9 CJK runes, Low not VeryLow).
	length := len(text)
	switch {
	case length <= 20:
		scores[VeryLow]++
	case length <= 100:
		scores[Low]++
	case length <= 300:
		scores[Medium]++
	case length <= 600:
		scores[High]++
	default:
		scores[VeryHigh]++
	}

	if whyHowPattern.MatchString(text) {
		scores[Medium]++
	}
	if highComplexWords.MatchString(text) {
		scores[High] += 2
	}

	best := Medium
	bestScore := 0
	for _, c := range complexityOrder {
		if score := scores[c]; score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best
}

func estimateTokens(text string) int {
	cjkChars := len(cjkPattern.FindAllString(text, -1))
	englishChars := utf8.RuneCountInString(text) - cjkChars
	if englishChars < 0 {
		englishChars = 0
	}
	base := math.Ceil(float64(englishChars)/4 + float64(cjkChars)/1.5)
	withBuffer := int(base * 2.5)
	if withBuffer < 50 {
		return 50
	}
	return withBuffer
}

func detectLanguage(text string) string {
	cjkChars := len(cjkPattern.FindAllString(text, -1))
	totalChars := utf8.RuneCountInString(strings.ReplaceAll(text, " ", ""))
	if totalChars == 0 {
		totalChars = 1
	}
	if float64(cjkChars)/float64(totalChars) > 0.3 {
		return "chinese"
	}
	return "english"
}

func confidenceFor(qType QueryType, text string) float64 {
	confidence := 0.7
	if qType != General {
		confidence += 0.2
	}
	if utf8.RuneCountInString(text) > 50 {
		confidence += 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

var (
	codeHint = regexp.MustCompile(`(?i)\b(code|program|function|script)\b`)
	reasonHint = regexp.MustCompile(`(?i)\b(analyze|evaluate|compare|why|how)\b`)
	createHint = regexp.MustCompile(`(?i)\b(create|design|imagine|story|poem)\b`)
	dataHint   = regexp.MustCompile(`(?i)\b(analyze|calculate|statistics|data)\b`)
	autoHint   = regexp.MustCompile(`(?i)\b(automation|adb|android|tap|swipe)\b`)
)

func requirementsFor(text string, qType QueryType, complexity Complexity) RequirementFlags {
	return RequirementFlags{
		Code:       qType == CodeGeneration || codeHint.MatchString(text),
		Reasoning:  complexity >= Medium || qType == ComplexReasoning || qType == Research || reasonHint.MatchString(text),
		Creativity: qType == CreativeWriting || createHint.MatchString(text),
		DataAnalysis: qType == DataAnalysis || dataHint.MatchString(text),
		Automation: qType == Automation || autoHint.MatchString(text),
	}
}
