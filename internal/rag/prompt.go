package rag

import (
	"fmt"
	"strings"
)

const DefaultAnswerLanguage = "Japanese"

// NoInformationAnswer is returned without calling the model when retrieval
// finds nothing.
const NoInformationAnswer = "No relevant information was found."

const promptTemplate = `You are a financial analyst covering Japanese listed companies. Answer the user's question using only the information below.

[Context]
%s

[Question]
%s

[Rules]
- Quote numbers exactly as they appear in the context.
- Cite the information numbers you used, e.g. (Information 1).
- If the context does not answer the question, reply "no data" instead of guessing.
- Answer in %s.

[Answer]
`

// ComposePrompt embeds the retrieved chunks, in the order given, into the
// fixed instruction template.
func ComposePrompt(question string, results []Result, language string) string {
	if strings.TrimSpace(language) == "" {
		language = DefaultAnswerLanguage
	}
	return fmt.Sprintf(promptTemplate, ContextBlock(results), strings.TrimSpace(question), language)
}

// ContextBlock numbers each chunk text from 1.
func ContextBlock(results []Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Information %d]\n%s", i+1, r.Text)
	}
	return strings.Join(parts, "\n\n")
}
