// Package transcript parses JSONL interaction transcripts into clean
// conversations. Extraction is mechanical: no model calls, no storage.
package transcript

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

const maxMessageLen = 2000

var (
	reminderRe   = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)
	lineNumberRe = regexp.MustCompile(`(?m)^\s*\d+→\s?`)
)

// Message is one turn of a conversation.
type Message struct {
	Role string // "user" or "assistant"
	Text string
}

// Conversation is the cleaned content of one transcript file.
type Conversation struct {
	Messages []Message
	Date     time.Time
}

// entry mirrors the subset of a transcript line we read.
type entry struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
	Message   struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// contentBlock is one element of a structured content array.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Parse reads a JSONL transcript and extracts the human-readable turns.
// Malformed lines are skipped; tool traffic and injected preludes are
// dropped so counts reflect actual conversation.
func Parse(path string) (*Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	conv := &Conversation{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if conv.Date.IsZero() {
			if ts, ok := parseEntryTime(e.Timestamp); ok {
				conv.Date = ts
			}
		}
		if e.Type != "user" && e.Type != "assistant" {
			continue
		}
		role := e.Message.Role
		if role == "" {
			role = e.Type
		}
		for _, text := range contentTexts(e.Message.Content) {
			text = cleanText(text)
			if text == "" || len(text) <= 5 || strings.HasPrefix(text, "You are") {
				continue
			}
			conv.Messages = append(conv.Messages, Message{Role: role, Text: clip(text, maxMessageLen)})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	if conv.Date.IsZero() {
		if info, err := os.Stat(path); err == nil {
			conv.Date = info.ModTime()
		} else {
			conv.Date = time.Now()
		}
	}
	return conv, nil
}

// contentTexts extracts text from a content field, which is either a plain
// string or an array of typed blocks.
func contentTexts(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	var texts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return texts
}

func parseEntryTime(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts, true
		}
		return time.Time{}, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		if n > 1e12 {
			n /= 1000
		}
		return time.Unix(int64(n), 0), true
	}
	return time.Time{}, false
}

// cleanText strips injected reminder blocks and file-viewer line number
// prefixes, leaving what was actually said.
func cleanText(text string) string {
	text = reminderRe.ReplaceAllString(text, "")
	text = lineNumberRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// MessageCount returns the number of extracted turns.
func (c *Conversation) MessageCount() int { return len(c.Messages) }

// HumanWords counts words in user turns.
func (c *Conversation) HumanWords() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == "user" {
			n += len(strings.Fields(m.Text))
		}
	}
	return n
}

// TotalWords counts words across all turns.
func (c *Conversation) TotalWords() int {
	n := 0
	for _, m := range c.Messages {
		n += len(strings.Fields(m.Text))
	}
	return n
}

// Format renders the conversation as turn-labeled text.
func (c *Conversation) Format() string {
	var sb strings.Builder
	for i, m := range c.Messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		label := "Assistant"
		if m.Role == "user" {
			label = "User"
		}
		fmt.Fprintf(&sb, "**%s:** %s", label, clip(m.Text, 500))
	}
	return sb.String()
}

// Title derives a session title from the first substantive human message:
// its first sentence, at most 60 characters.
func (c *Conversation) Title() string {
	var first string
	for _, m := range c.Messages {
		if m.Role != "user" {
			continue
		}
		if first == "" {
			first = m.Text
		}
		if len(strings.Fields(m.Text)) < 4 {
			continue
		}
		title := m.Text
		if i := strings.IndexAny(title, ".?!\n"); i > 0 {
			title = title[:i]
		}
		title = strings.TrimSpace(title)
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		return title
	}
	if first != "" {
		return clip(first, 60)
	}
	return "Untitled session"
}

// HashFile returns a short content hash used as the session dedup key.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hash transcript: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
