package cache

import (
	"regexp"
	"strings"
)

var codeHints = regexp.MustCompile(`(?i)\b(func|def|class|import|package|return|const|var|let|select|from)\b|[{};]|=>|:=`)

// Classify picks a category for an answer. Answers carrying fenced code
// blocks or dense code syntax are code; everything else is qa.
func Classify(prompt, answer string) Category {
	if strings.Contains(answer, "```") {
		return CategoryCode
	}
	if len(codeHints.FindAllStringIndex(prompt+"\n"+answer, 4)) >= 4 {
		return CategoryCode
	}
	return CategoryQA
}
