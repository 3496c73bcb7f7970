package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// LLM traffic goes to a dedicated writer so prompt/response dumps do not
// drown the operational log.
var (
	llmMu  sync.Mutex
	llmLog *log.Logger
)

func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

type llmSection struct {
	Title string
	Body  string
}

func logLLM(kind, agentID, model string, sections []llmSection) {
	llmMu.Lock()
	logger := llmLog
	llmMu.Unlock()
	if logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM]")
	if kind != "" {
		b.WriteString("[" + kind + "]")
	}
	if agentID != "" {
		b.WriteString("[" + agentID + "]")
	}
	if model != "" {
		b.WriteString("[" + model + "]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- " + t + " ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	logger.Print(b.String())
}

func LogLLMRequest(agentID, model, systemPrompt, userPrompt string) {
	logLLM("request", agentID, model, []llmSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	})
}

func LogLLMResponse(agentID, model, raw string) {
	logLLM("response", agentID, model, []llmSection{{Title: "RAW", Body: raw}})
}
