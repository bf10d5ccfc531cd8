package gemini

import (
	"encoding/json"
	"fmt"
	"strings"
)

func chunkResearchPrompt(instruction string, index, total int, documentName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing part %d of %d of the document %q.\n\n", index+1, total, documentName)
	b.WriteString("Extract every passage and fact from this part that is relevant to the following instruction. ")
	b.WriteString("Quote or closely paraphrase the source text; do not draw a final conclusion yet.\n\n")
	fmt.Fprintf(&b, "Instruction:\n%s\n\nDocument part follows.", instruction)
	return b.String()
}

func reviewPrompt(instruction, documentName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing the document %q against the following instruction.\n\n", documentName)
	fmt.Fprintf(&b, "Instruction:\n%s\n\n", instruction)
	b.WriteString("Respond with a single JSON object, no surrounding prose:\n")
	b.WriteString(`{"verdict": "pass" | "fail" | "warning", "explanation": "<grounds for the verdict, citing the document>"}`)
	b.WriteString("\n\nDocument follows.")
	return b.String()
}

func verdictFromResearchPrompt(instruction, documentName, research string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The document %q was analyzed part by part against an instruction. ", documentName)
	b.WriteString("The findings from each part are below. Combine them into one verdict.\n\n")
	fmt.Fprintf(&b, "Instruction:\n%s\n\n", instruction)
	b.WriteString("Respond with a single JSON object, no surrounding prose:\n")
	b.WriteString(`{"verdict": "pass" | "fail" | "warning", "explanation": "<grounds for the verdict, citing the findings>"}`)
	fmt.Fprintf(&b, "\n\nFindings:\n%s", research)
	return b.String()
}

func checklistPrompt(requirements string) string {
	var b strings.Builder
	b.WriteString("Derive a review checklist from the requirements and documents below. ")
	b.WriteString("Each item must be a single, independently verifiable check.\n\n")
	b.WriteString("Respond with a JSON array of strings, no surrounding prose:\n")
	b.WriteString(`["<check>", "<check>", ...]`)
	fmt.Fprintf(&b, "\n\nRequirements:\n%s\n\nDocuments follow.", requirements)
	return b.String()
}

func refinePrompt(pending, alreadyRefined []string) string {
	pendingJSON, _ := json.Marshal(pending)
	refinedJSON, _ := json.Marshal(alreadyRefined)

	var b strings.Builder
	b.WriteString("Rewrite the draft checklist items below so each one is specific, ")
	b.WriteString("unambiguous, and verifiable on its own. Merge duplicates.\n\n")
	b.WriteString("Respond with a JSON array of strings, no surrounding prose. ")
	b.WriteString("Do not repeat any item that appears in the already-refined list; ")
	b.WriteString("continue from where that list ends.\n\n")
	fmt.Fprintf(&b, "Draft items:\n%s\n\n", pendingJSON)
	fmt.Fprintf(&b, "Already refined:\n%s", refinedJSON)
	return b.String()
}
