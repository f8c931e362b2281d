package evalcore

import (
	"strings"

	"github.com/samber/lo"
)

var (
	experienceKeywords = []string{"experience", "years", "worked", "developed"}
	techKeywords       = []string{"javascript", "python", "java", "react", "node", "sql", "database"}
	leadershipKeywords = []string{"led", "managed", "built", "created", "achieved", "improved"}
	codeKeywords       = []string{"func", "class", "import", "package", "def ", "public ", "private ", "```"}
	docKeywords        = []string{"## ", "# ", "readme", "documentation", "usage:", "installation"}
)

// FallbackCVScore is a deterministic, LLM-free keyword scorer used whenever
// the LLM fails for non-quota reasons. It is a liveness signal, not a
// measure of evaluation quality. It returns the match rate, the breakdown,
// and a feedback string describing the degraded path.
func FallbackCVScore(jobTitle, cvText string) (float64, CVBreakdown, string) {
	jobTokens := tokenize(jobTitle)
	cvLower := strings.ToLower(cvText)

	matched := 0
	for _, tok := range jobTokens {
		if strings.Contains(cvLower, tok) {
			matched++
		}
	}
	var rawRate float64
	if len(jobTokens) > 0 {
		rawRate = float64(matched) / float64(len(jobTokens))
	}
	matchRate := lo.Clamp(rawRate, 0.3, 0.9)

	hasExperience := containsAny(cvLower, experienceKeywords)
	hasTech := containsAny(cvLower, techKeywords)
	hasLeadership := containsAny(cvLower, leadershipKeywords)

	breakdown := CVBreakdown{
		TechnicalSkills: modulate(matchRate, hasTech, 0.15),
		ExperienceLevel: modulate(matchRate, hasExperience, 0.15),
		Achievements:    modulate(matchRate, hasLeadership, 0.15),
		CulturalFit:     lo.Clamp(matchRate, 0, 1),
	}

	return matchRate, breakdown, "Automated fallback assessment based on keyword overlap; LLM scoring was unavailable."
}

// FallbackProjectScore is the deterministic project-side counterpart to
// FallbackCVScore.
func FallbackProjectScore(projectText string) (float64, ProjectBreakdown) {
	lower := strings.ToLower(projectText)
	score := 3.0

	lengthBonus := float64(len(projectText)) / 2000.0 * 0.5
	if lengthBonus > 1.0 {
		lengthBonus = 1.0
	}
	score += lengthBonus

	hasCode := containsAny(lower, codeKeywords)
	hasDocs := containsAny(lower, docKeywords)
	if hasCode {
		score += 0.5
	}
	if hasDocs {
		score += 0.3
	}
	score = lo.Clamp(score, 1.0, 5.0)

	docScore := 3.0
	if hasDocs {
		docScore = 4.0
	}

	breakdown := ProjectBreakdown{
		Correctness:   score,
		CodeQuality:   score,
		Resilience:    lo.Clamp(score-0.2, 1.0, 5.0),
		Documentation: docScore,
		Creativity:    lo.Clamp(score-0.3, 1.0, 5.0),
	}
	return score, breakdown
}

// modulate nudges base within ±spread depending on the presence of a keyword
// class, clamped back into [0,1].
func modulate(base float64, present bool, spread float64) float64 {
	if present {
		return lo.Clamp(base+spread, 0, 1)
	}
	return lo.Clamp(base-spread, 0, 1)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?()[]{}\"'")
		if f != "" {
			out = append(out, f)
		}
	}
	return lo.Uniq(out)
}
