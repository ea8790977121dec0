package orchestrator

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/insight-ai/cli/internal/llm"
)

const (
	// Base confidence depending on which paths answered.
	baseBothPaths     = 0.90
	ragOnlyConfidence = 0.85

	// Degraded multiplier when the comparison call itself fails.
	degradedFactor = 0.70

	// Agreement factors per level.
	factorFull     = 1.00
	factorPartial  = 0.85
	factorConflict = 0.65

	// UNKNOWN interpolates on whether the SQL path returned rows.
	factorUnknownWithRows = 0.70
	factorUnknownNoRows   = 0.50

	// Source quality degrades toward its floor when an input signal is
	// weak: top reranked chunk below the score floor, or SQL classified
	// as needed but returning zero rows.
	weakChunkScoreFloor = 0.40
	qualityPenalty      = 0.25
	sourceQualityFloor  = 0.50
)

// sqlOnlyConfidence stands in when only the SQL path answered
func sqlOnlyConfidence(rowCount int) float64 {
	if rowCount > 0 {
		return 0.80
	}
	return 0.60
}

var (
	agreementPattern = regexp.MustCompile(`(?i)AGREEMENT_LEVEL:\s*(\w+)`)
	analysisPattern  = regexp.MustCompile(`(?is)ANALYSIS:\s*(.+?)(?:RECOMMENDED_ANSWER:|$)`)
)

// agreementRules map evaluator language onto the closed agreement
// enumeration. Rules are checked in order; conflict language wins over
// agreement language, and anything unmatched is UNKNOWN.
var agreementRules = []struct {
	level    AgreementLevel
	keywords []string
}{
	{AgreementConflict, []string{"CONFLICT", "CONTRADICT", "DISAGREE", "INCONSISTENT", "MISMATCH"}},
	{AgreementPartial, []string{"PARTIAL", "SOMEWHAT", "MOSTLY"}},
	{AgreementFull, []string{"FULL", "AGREE", "CONSISTENT", "MATCH"}},
}

// compareAnswers reconciles the two path answers into a verdict and a
// combined final answer. Comparison failure never fails the query: it
// degrades to UNKNOWN with a penalized confidence.
func (o *Orchestrator) compareAnswers(ctx context.Context, query string, rag *RAGAnswer, sqlAns *SQLAnswer, trace *Trace) (Verdict, string) {
	started := time.Now()

	prompt := fmt.Sprintf(`You are an answer quality evaluator. Compare two answers to the same question and assess their agreement.

Question: %s

Answer 1 (from Document Retrieval):
%s

Answer 2 (from Database Query):
%s

Analyze:
1. Do both answers provide consistent information?
2. Are there any contradictions?
3. Which answer is more precise/reliable?

Respond in this exact format:
AGREEMENT_LEVEL: [FULL/PARTIAL/CONFLICT]
ANALYSIS: [Brief explanation of agreement/disagreement]
RECOMMENDED_ANSWER: [Which answer to prioritize or how to combine them]`, query, rag.Text, sqlAns.Text)

	response, err := o.client.Generate(ctx, prompt, llm.GenerateOptions{Model: o.model, Temperature: 0.1})
	if err != nil {
		trace.Append(StepRecord{
			Stage:     StageComparison,
			Status:    StatusError,
			Summary:   err.Error(),
			StartedAt: started,
			EndedAt:   time.Now(),
		})

		verdict := Verdict{
			Agreement:  AgreementUnknown,
			Confidence: round(baseBothPaths * degradedFactor),
			Analysis:   fmt.Sprintf("Could not compare answers: %v", err),
		}
		return verdict, assembleFinalAnswer(verdict, rag, sqlAns)
	}

	agreement := mapAgreement(response)
	analysis := "No analysis provided"
	if m := analysisPattern.FindStringSubmatch(response); m != nil {
		if a := strings.TrimSpace(m[1]); a != "" {
			analysis = a
		}
	}

	verdict := Verdict{
		Agreement:  agreement,
		Confidence: computeConfidence(agreement, rag, sqlAns),
		Analysis:   analysis,
	}

	trace.Append(StepRecord{
		Stage:     StageComparison,
		Status:    StatusOK,
		Summary:   fmt.Sprintf("Agreement: %s, Confidence: %.0f%%", verdict.Agreement, verdict.Confidence*100),
		StartedAt: started,
		EndedAt:   time.Now(),
		Data:      map[string]any{"agreement": string(verdict.Agreement)},
	})

	return verdict, assembleFinalAnswer(verdict, rag, sqlAns)
}

// mapAgreement resolves any evaluator response to exactly one level.
// The mapping is total: parse failure or unmatched language is UNKNOWN.
func mapAgreement(response string) AgreementLevel {
	token := ""
	if m := agreementPattern.FindStringSubmatch(response); m != nil {
		token = strings.ToUpper(m[1])
	} else {
		token = strings.ToUpper(response)
	}

	for _, rule := range agreementRules {
		for _, kw := range rule.keywords {
			if strings.Contains(token, kw) {
				return rule.level
			}
		}
	}
	return AgreementUnknown
}

// computeConfidence multiplies base score, agreement factor, and source
// quality, clamped to [0, 1].
func computeConfidence(agreement AgreementLevel, rag *RAGAnswer, sqlAns *SQLAnswer) float64 {
	base := baseBothPaths

	var factor float64
	switch agreement {
	case AgreementFull:
		factor = factorFull
	case AgreementPartial:
		factor = factorPartial
	case AgreementConflict:
		factor = factorConflict
	default:
		factor = factorUnknownNoRows
		if sqlAns.RowCount > 0 {
			factor = factorUnknownWithRows
		}
	}

	quality := 1.0
	if topChunkScore(rag) < weakChunkScoreFloor {
		quality -= qualityPenalty
	}
	if sqlAns.RowCount == 0 {
		quality -= qualityPenalty
	}
	if quality < sourceQualityFloor {
		quality = sourceQualityFloor
	}

	confidence := base * factor * quality
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return round(confidence)
}

func topChunkScore(rag *RAGAnswer) float64 {
	if rag == nil || len(rag.Chunks) == 0 {
		return 0
	}
	return rag.Chunks[0].FinalScore
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

// assembleFinalAnswer combines both answers according to the agreement
// level, always presenting both sources when they diverge.
func assembleFinalAnswer(verdict Verdict, rag *RAGAnswer, sqlAns *SQLAnswer) string {
	pct := fmt.Sprintf("%.0f%%", verdict.Confidence*100)

	switch verdict.Agreement {
	case AgreementFull:
		return fmt.Sprintf("**Answer (High Confidence: %s):**\n\n%s\n\n**SQL Verification:**\n%s",
			pct, rag.Text, sqlAns.Text)
	case AgreementPartial:
		return fmt.Sprintf("**Answer (Moderate Confidence: %s):**\n\n%s\n\n**Additional Data from Database:**\n%s\n\n*Note: %s*",
			pct, rag.Text, sqlAns.Text, verdict.Analysis)
	case AgreementConflict:
		return fmt.Sprintf("**Multiple Answers Found (Confidence: %s):**\n\n**From Documents:**\n%s\n\n**From Database:**\n%s\n\n*Note: %s*",
			pct, rag.Text, sqlAns.Text, verdict.Analysis)
	default:
		return fmt.Sprintf("**From Documents:**\n%s\n\n**From Database:**\n%s",
			rag.Text, sqlAns.Text)
	}
}
