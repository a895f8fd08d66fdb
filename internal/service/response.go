package service

import (
	"fmt"
	"strings"

	"copilot/internal/domain"
)

// FormatNotFound renders the answer shown when no chunk passed the threshold.
func FormatNotFound(query, corpusDir string) string {
	var b strings.Builder
	b.WriteString("🤖 **AI 分析**：\n\n")
	fmt.Fprintf(&b, "在现有课程资料中暂未找到关于「%s」的具体描述。\n\n", query)
	b.WriteString("**建议**：\n")
	b.WriteString("- 尝试使用更具体的关键词\n")
	fmt.Fprintf(&b, "- 检查 %s 目录下是否已添加相关文档", corpusDir)
	return b.String()
}

// FormatResults renders the retrieved chunks as quoted excerpts with their
// source and score. Line breaks inside an excerpt are flattened to spaces.
func FormatResults(query string, results []domain.SearchResult) string {
	var b strings.Builder
	b.WriteString("🤖 **基于校内课程资料的 AI 回复**：\n\n")
	fmt.Fprintf(&b, "关于「**%s**」，我在资料库中找到了相关内容：\n\n", query)
	for _, r := range results {
		fmt.Fprintf(&b, "> **📑 来源：%s** (匹配度: %.2f)\n", r.Source, r.Score)
		fmt.Fprintf(&b, "> *\"...%s...\"*\n\n", flatten(r.Content))
	}
	return b.String()
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
