package evalcore

import (
	"fmt"
	"strings"
)

const cvScoreSystemPrompt = "You are a strict technical recruiter. Score the candidate's CV against the job " +
	"requirements and rubric. Respond with a single JSON object only: " +
	"{\"matchRate\": number 0-1, \"experienceMatch\": number 0-1, \"strengths\": [string], " +
	"\"weaknesses\": [string], \"missingSkills\": [string], \"overallAssessment\": string}."

const projectScoreSystemPrompt = "You are a strict engineering reviewer. Score the candidate's project report " +
	"against the technical requirements and rubric. Respond with a single JSON object only: " +
	"{\"overallScore\": number 1-5, \"technicalQuality\": number 1-5, \"complexityLevel\": number 1-5, " +
	"\"innovationScore\": number 1-5, \"documentationQuality\": number 1-5, \"strengths\": [string], " +
	"\"improvements\": [string]}."

const recommendationSystemPrompt = "You are a hiring manager making the final call. Given the CV assessment and " +
	"project assessment below, respond with exactly three labeled sections in this order: " +
	"\"RECOMMENDATION:\" followed by one of HIRE, CONDITIONAL_HIRE, REJECT; " +
	"\"DETAILED FEEDBACK:\" followed by a short paragraph; " +
	"\"SPECIFIC RECOMMENDATIONS:\" followed by a short bulleted list."

func buildCVScorePrompt(jobTitle string, jobReqs, rubric []ReferenceChunk, cvText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job title: %s\n\n", jobTitle)
	b.WriteString("Job requirements (retrieved):\n")
	writeChunks(&b, jobReqs)
	b.WriteString("\nCV rubric (retrieved):\n")
	writeChunks(&b, rubric)
	fmt.Fprintf(&b, "\nCandidate CV:\n%s\n", cvText)
	return b.String()
}

func buildProjectScorePrompt(jobTitle string, techReqs, rubric []ReferenceChunk, projectText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job title: %s\n\n", jobTitle)
	b.WriteString("Technical requirements (retrieved):\n")
	writeChunks(&b, techReqs)
	b.WriteString("\nProject rubric (retrieved):\n")
	writeChunks(&b, rubric)
	fmt.Fprintf(&b, "\nCandidate project report:\n%s\n", projectText)
	return b.String()
}

func buildRecommendationPrompt(cvSummary, projectSummary string) string {
	var b strings.Builder
	b.WriteString("CV assessment summary:\n")
	b.WriteString(cvSummary)
	b.WriteString("\n\nProject assessment summary:\n")
	b.WriteString(projectSummary)
	return b.String()
}

func writeChunks(b *strings.Builder, chunks []ReferenceChunk) {
	if len(chunks) == 0 {
		b.WriteString("(none retrieved)\n")
		return
	}
	for _, c := range chunks {
		fmt.Fprintf(b, "- %s\n", firstN(c.Text, 600))
	}
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
