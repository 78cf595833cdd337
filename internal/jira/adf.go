package jira

import (
	"encoding/json"
	"strings"
)

// PlainTextToADF converts plain text to Jira's ADF (Atlassian Document
// Format), one paragraph per line. Empty text yields nil.
func PlainTextToADF(text string) json.RawMessage {
	if text == "" {
		return nil
	}

	var content []interface{}
	for _, para := range strings.Split(text, "\n") {
		if para == "" {
			content = append(content, map[string]interface{}{
				"type":    "paragraph",
				"content": []interface{}{},
			})
			continue
		}
		content = append(content, map[string]interface{}{
			"type": "paragraph",
			"content": []interface{}{
				map[string]interface{}{
					"type": "text",
					"text": para,
				},
			},
		})
	}

	doc := map[string]interface{}{
		"type":    "doc",
		"version": 1,
		"content": content,
	}

	data, _ := json.Marshal(doc)
	return data
}

// ADFToPlainText extracts the text of an ADF document, one line per block.
// Input that is not an ADF document is returned as a plain string.
func ADFToPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var doc struct {
		Type    string `json:"type"`
		Content []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	lines := make([]string, 0, len(doc.Content))
	for _, block := range doc.Content {
		var line strings.Builder
		for _, inline := range block.Content {
			line.WriteString(inline.Text)
		}
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}
