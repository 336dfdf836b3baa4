package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_ChineseContentBeatsTranslation(t *testing.T) {
	// Arrange: scenario 5.
	query := "请帮我翻译这段文字"

	// Act
	a := Classify(query)

	// Assert
	assert.Equal(t, ChineseContent, a.QueryType)
	assert.Equal(t, "chinese", a.Language)
	assert.Equal(t, Low, a.Complexity)
	assert.GreaterOrEqual(t, a.EstimatedTokens, 50)
}

func TestClassify_CodeGenerationFromKeywords(t *testing.T) {
	a := Classify("Can you write a python function to sort a list?")
	assert.Equal(t, CodeGeneration, a.QueryType)
	assert.True(t, a.Requirements.Code)
}

func TestClassify_CreativeWritingFromKeywords(t *testing.T) {
	a := Classify("Write a short creative story about a robot")
	assert.Equal(t, CreativeWriting, a.QueryType)
	assert.True(t, a.Requirements.Creativity)
}

func TestClassify_FallsBackToGeneralWithNoPatternHits(t *testing.T) {
	a := Classify("hello there")
	assert.Equal(t, General, a.QueryType)
}

func TestClassify_IsIdempotent(t *testing.T) {
	// P4: Classify(q) is a pure function of q.
	q := "Analyze and compare the performance of these two algorithms in detail"
	a1 := Classify(q)
	a2 := Classify(q)

	assert.Equal(t, a1.QueryType, a2.QueryType)
	assert.Equal(t, a1.Complexity, a2.Complexity)
	assert.Equal(t, a1.Language, a2.Language)
	assert.Equal(t, a1.EstimatedTokens, a2.EstimatedTokens)
}

func TestClassify_VeryLongQueryIsVeryHigh(t *testing.T) {
	long := strings.Repeat("word ", 150) // > 600 bytes
	a := Classify(long)
	assert.Equal(t, VeryHigh, a.Complexity)
}

func TestClassify_ShortQueryIsVeryLow(t *testing.T) {
	a := Classify("hi")
	assert.Equal(t, VeryLow, a.Complexity)
}

func TestClassify_AnalyzeKeywordPushesComplexityHigh(t *testing.T) {
	a := Classify("Please analyze and evaluate this in a moderate length paragraph that is not too short so the length bucket does not dominate the vote count here today")
	assert.Equal(t, High, a.Complexity)
}

func TestClassify_TokenEstimateHasFloor(t *testing.T) {
	a := Classify("hi")
	assert.Equal(t, 50, a.EstimatedTokens)
}
