package service

import (
	"fmt"
	"strings"

	"github.com/arturoeanton/go-git-rag/internal/domain"
)

// OffTopicReply is what the model is told to answer for questions unrelated to the repository.
const OffTopicReply = "I can only answer questions about this repository, its commits and its code."

// FallbackAnswer is returned without calling the model when retrieval finds nothing.
const FallbackAnswer = "No relevant commits or code were found in the index for this question. Index the commits you are interested in and ask again."

const systemInstruction = `You are a code assistant for a single software repository.
Answer questions about the repository, its commit history and its source code using the commit context below.
Reference commit hashes and file paths when you rely on them, and say so when the context is not enough to answer.
If the question is not about this repository, its commits or its code, reply exactly with:
` + OffTopicReply

// renderContext groups results by commit in rank order and renders one block
// per commit, headed by the commit's overview when one is known. Scoped
// commits without any retrieved chunk follow with their overview alone.
func renderContext(results []domain.SearchResult, scope []string, overviews map[string]string) string {
	var order []string
	groups := make(map[string][]domain.SearchResult)
	for _, r := range results {
		if _, ok := groups[r.CommitHash]; !ok {
			order = append(order, r.CommitHash)
		}
		groups[r.CommitHash] = append(groups[r.CommitHash], r)
	}
	for _, hash := range scope {
		if _, ok := groups[hash]; !ok && overviews[hash] != "" {
			order = append(order, hash)
		}
	}

	var b strings.Builder
	for i, hash := range order {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### Commit %s\n", domain.ShortHash(hash))
		if o := overviews[hash]; o != "" {
			fmt.Fprintf(&b, "Overview: %s\n", o)
		}
		if len(groups[hash]) == 0 {
			b.WriteString("No matching changes were retrieved for this commit.\n")
			continue
		}
		for _, r := range groups[hash] {
			if r.FilePath != "" {
				fmt.Fprintf(&b, "File: %s\n", r.FilePath)
			}
			fmt.Fprintf(&b, "Relevance: %.3f\n", r.Relevance())
			b.WriteString(strings.TrimRight(r.Content, "\n"))
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func buildPrompt(contextBlock, question string) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\n## Repository context\n\n")
	b.WriteString(contextBlock)
	b.WriteString("\n## Question\n\n")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n")
	return b.String()
}
