package claudecli

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chriopter/sandboxer/internal/domain/session"
)

const summaryMax = 80

// ListResumable discovers past CLI conversations for a working directory by
// scanning the transcript files the CLI keeps under ~/.claude/projects.
// Newest first.
func ListResumable(workdir string) ([]session.Resumable, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return listResumableIn(filepath.Join(home, ".claude", "projects"), workdir)
}

func listResumableIn(root, workdir string) ([]session.Resumable, error) {
	// The CLI names the project directory by replacing every path
	// separator with a dash.
	projectDir := strings.ReplaceAll(workdir, "/", "-")
	if workdir == "/" {
		projectDir = "-"
	}

	entries, err := os.ReadDir(filepath.Join(root, projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []session.Resumable
	for _, entry := range entries {
		name := entry.Name()
		// agent-* transcripts belong to subagents, not resumable turns.
		if entry.IsDir() || strings.HasPrefix(name, "agent-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		r := scanTranscript(filepath.Join(root, projectDir, name))
		r.ID = strings.TrimSuffix(name, ".jsonl")
		r.Size = info.Size()
		r.ModTime = info.ModTime()
		if r.Summary == "" {
			r.Summary = truncate(r.ID, 8) + "..."
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

// transcriptLine is the subset of a transcript entry we read for listing.
type transcriptLine struct {
	Type      string `json:"type"`
	Summary   string `json:"summary,omitempty"`
	GitBranch string `json:"gitBranch,omitempty"`
	Message   *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message,omitempty"`
}

// scanTranscript extracts summary, message count and branch from one
// transcript file. Malformed lines are skipped.
func scanTranscript(path string) session.Resumable {
	var r session.Resumable

	f, err := os.Open(path)
	if err != nil {
		return r
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufferMax)
	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		switch line.Type {
		case "user", "assistant", "human":
			r.MessageCount++
		case "summary":
			r.Summary = truncate(line.Summary, summaryMax)
		}
		if r.Branch == "" {
			r.Branch = line.GitBranch
		}
		if r.Summary == "" && (line.Type == "user" || line.Type == "human") && line.Message != nil {
			if text := firstText(line.Message.Content); text != "" {
				r.Summary = truncate(text, summaryMax)
			}
		}
	}
	return r
}

// firstText pulls the first text block out of a message content list.
func firstText(raw json.RawMessage) string {
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	for _, b := range blocks {
		if b.Type == "text" {
			return strings.TrimSpace(strings.ReplaceAll(b.Text, "\n", " "))
		}
	}
	return ""
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
