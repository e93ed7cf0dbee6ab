package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/arturoeanton/go-git-rag/internal/domain"
)

const (
	chunkKindHeader = "header"
	chunkKindDiff   = "diff"
)

// commitChunk is one unit of text that receives its own embedding.
type commitChunk struct {
	FilePath string
	Index    int
	Content  string
	Kind     string
}

// chunkCommit splits a commit into its header chunk followed by windows over
// each file section of the diff. Indices are assigned in diff order and the
// result is capped at maxChunks.
func chunkCommit(info domain.CommitInfo, diff string, maxWords, maxChunks int) []commitChunk {
	if maxChunks <= 0 {
		maxChunks = 1
	}
	chunks := []commitChunk{{Index: 0, Content: commitHeader(info), Kind: chunkKindHeader}}

	for _, section := range splitDiffByFile(diff) {
		for _, window := range chunkCode(section.text, maxWords) {
			if len(chunks) >= maxChunks {
				return chunks
			}
			if strings.TrimSpace(window) == "" {
				continue
			}
			chunks = append(chunks, commitChunk{
				FilePath: section.path,
				Index:    len(chunks),
				Content:  window,
				Kind:     chunkKindDiff,
			})
		}
	}
	return chunks
}

func commitHeader(info domain.CommitInfo) string {
	return fmt.Sprintf("Commit %s\nAuthor: %s\nDate: %s\n\n%s",
		info.Hash, info.Author, info.Timestamp.UTC().Format(time.RFC3339), strings.TrimSpace(info.Message))
}

type diffSection struct {
	path string
	text string
}

// splitDiffByFile cuts a unified diff on its "diff --git" headers. Text before
// the first header forms a section without a path.
func splitDiffByFile(diff string) []diffSection {
	var sections []diffSection
	var current []string
	path := ""

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, "\n")
		if strings.TrimSpace(text) != "" {
			sections = append(sections, diffSection{path: path, text: text})
		}
		current = nil
	}

	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			path = diffPath(line)
		}
		current = append(current, line)
	}
	flush()
	return sections
}

// diffPath extracts the destination path from "diff --git a/x b/y".
func diffPath(header string) string {
	if i := strings.LastIndex(header, " b/"); i >= 0 {
		return header[i+len(" b/"):]
	}
	return strings.TrimPrefix(header, "diff --git ")
}

// chunkCode splits text into overlapping chunks of approximately maxTokens words.
func chunkCode(content string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	lines := strings.Split(content, "\n")
	var chunks []string
	var current []string
	currentLen := 0

	for _, line := range lines {
		wordCount := len(strings.Fields(line))
		if currentLen+wordCount > maxTokens && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n"))
			// Keep up to 3 trailing lines for overlap, always dropping at least one.
			overlap := min(3, len(current)-1)
			current = current[len(current)-overlap:]
			currentLen = 0
			for _, l := range current {
				currentLen += len(strings.Fields(l))
			}
		}
		current = append(current, line)
		currentLen += wordCount
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}

// detectLanguage infers the programming language from file extension.
func detectLanguage(filePath string) string {
	ext := strings.ToLower(filePath)
	switch {
	case ext == "":
		return ""
	case strings.HasSuffix(ext, ".go"):
		return "go"
	case strings.HasSuffix(ext, ".ts"), strings.HasSuffix(ext, ".tsx"):
		return "typescript"
	case strings.HasSuffix(ext, ".js"), strings.HasSuffix(ext, ".jsx"):
		return "javascript"
	case strings.HasSuffix(ext, ".py"):
		return "python"
	case strings.HasSuffix(ext, ".rs"):
		return "rust"
	case strings.HasSuffix(ext, ".java"):
		return "java"
	case strings.HasSuffix(ext, ".rb"):
		return "ruby"
	case strings.HasSuffix(ext, ".sql"):
		return "sql"
	case strings.HasSuffix(ext, ".yaml"), strings.HasSuffix(ext, ".yml"):
		return "yaml"
	case strings.HasSuffix(ext, ".json"):
		return "json"
	case strings.HasSuffix(ext, ".md"):
		return "markdown"
	default:
		return "unknown"
	}
}
