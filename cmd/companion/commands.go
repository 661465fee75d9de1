// Companion - personal AI companion with long-term memory
// License: MIT
//
// Copyright (c) 2026 Companion contributors

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/dotsetgreg/companion/pkg/chat"
	"github.com/dotsetgreg/companion/pkg/config"
	"github.com/dotsetgreg/companion/pkg/logger"
	"github.com/dotsetgreg/companion/pkg/memory"
	"github.com/dotsetgreg/companion/pkg/providers"
	"github.com/dotsetgreg/companion/pkg/schedule"
)

type runtimeDeps struct {
	cfg    *config.Config
	client *providers.Client
	svc    *memory.Service
}

func buildRuntime(debug bool) (*runtimeDeps, error) {
	cfg, err := loadRuntimeConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		exitOnConfigError(err)
	}

	logger.Init(os.Stderr, true, debug)

	client, err := providers.NewClient(cfg.Provider.APIBase, cfg.Provider.APIKey, cfg.Provider.Model, cfg.Provider.Proxy)
	if err != nil {
		return nil, fmt.Errorf("create provider client: %w", err)
	}

	svc, err := memory.NewService(cfg, client.Complete)
	if err != nil {
		return nil, err
	}

	return &runtimeDeps{cfg: cfg, client: client, svc: svc}, nil
}

func serveCmd(debug bool) error {
	deps, err := buildRuntime(debug)
	if err != nil {
		return err
	}
	defer deps.svc.Close()

	server := chat.NewServer(deps.svc, deps.client)
	addr := fmt.Sprintf("%s:%d", deps.cfg.Gateway.Host, deps.cfg.Gateway.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var scheduler *schedule.Scheduler
	if deps.cfg.Schedule.Enabled {
		scheduler = schedule.NewScheduler(deps.cfg, deps.svc)
		scheduler.Start()
		fmt.Println("✓ Scheduler started")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	fmt.Printf("✓ Gateway started on http://%s\n", addr)
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	select {
	case err := <-errCh:
		if scheduler != nil {
			scheduler.Stop()
		}
		return fmt.Errorf("gateway server: %w", err)
	case <-sigCh:
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if scheduler != nil {
		scheduler.Stop()
	}
	fmt.Println("✓ Gateway stopped")
	return nil
}

func chatCmd(userID, mode string, debug bool) error {
	deps, err := buildRuntime(debug)
	if err != nil {
		return err
	}
	defer deps.svc.Close()

	companionMode := chat.NormalizeMode(firstNonEmpty(mode, deps.cfg.Companion.DefaultMode))
	fmt.Printf("%s Interactive mode (%s, Ctrl+C to exit)\n\n", appName, companionMode)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".companion_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	history := []providers.Message{}
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		history = append(history, providers.Message{Role: "user", Content: input})
		reply, err := streamTurn(deps, userID, companionMode, history)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			history = history[:len(history)-1]
			continue
		}
		history = append(history, providers.Message{Role: "assistant", Content: reply})
	}

	fmt.Println("\nGoodbye!")
	finishConversation(deps, userID, history)
	return nil
}

// streamTurn builds the layered system prompt, streams one reply, and prints
// the deltas as they arrive.
func streamTurn(deps *runtimeDeps, userID string, mode chat.Mode, history []providers.Message) (string, error) {
	ctx := context.Background()

	cognitive := ""
	if userID != "" {
		state, err := deps.svc.CognitiveState(ctx, userID)
		if err == nil {
			cognitive = state.Render()
		}
	}
	system := chat.BuildSystemPrompt("", "", cognitive, mode)
	messages := append([]providers.Message{{Role: "system", Content: system}}, history...)

	stream, err := deps.client.Stream(ctx, messages, mode.Temperature())
	if err != nil {
		return "", err
	}
	defer stream.Close()

	fmt.Printf("\n%s: ", appName)
	var reply strings.Builder
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			fmt.Print(chunk.Choices[0].Delta.Content)
			reply.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	fmt.Println()
	fmt.Println()
	if err := scanner.Err(); err != nil {
		return reply.String(), fmt.Errorf("read stream: %w", err)
	}
	return reply.String(), nil
}

// finishConversation runs extraction over the finished session. Short
// sessions are skipped quietly; the guard lives in the extractor.
func finishConversation(deps *runtimeDeps, userID string, history []providers.Message) {
	if userID == "" || len(history) == 0 {
		return
	}
	turns := make([]memory.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, memory.Turn{Role: m.Role, Content: m.Content})
	}

	counts, err := deps.svc.ExtractFromConversation(context.Background(), userID, "", turns)
	if err != nil {
		if !errors.Is(err, memory.ErrConversationTooShort) {
			fmt.Printf("Memory extraction failed: %v\n", err)
		}
		return
	}
	fmt.Printf("Remembered: %d facts, %d summaries, %d emotional events, %d identity signals\n",
		counts.Facts, counts.Summaries, counts.Events, counts.Signals)
}

func extractCmd(userID, conversationID, file string) error {
	deps, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer deps.svc.Close()

	var data []byte
	if file != "" {
		data, err = os.ReadFile(file)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	var turns []memory.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return fmt.Errorf("parse transcript: %w", err)
	}

	counts, err := deps.svc.ExtractFromConversation(context.Background(), userID, conversationID, turns)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(counts, "", "  ")
	fmt.Println(string(out))
	return nil
}

func rememberCmd(userID, category, key, value string) error {
	deps, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer deps.svc.Close()

	fact, err := deps.svc.RememberFact(context.Background(), userID, memory.FactCategory(category), key, value)
	if err != nil {
		return err
	}
	fmt.Printf("Remembered %s/%s: %s\n", fact.Category, fact.Key, fact.Value)
	return nil
}

func scanCmd(userID string) error {
	deps, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer deps.svc.Close()

	insights, err := deps.svc.ScanInsights(context.Background(), userID)
	if err != nil {
		return err
	}
	if len(insights) == 0 {
		fmt.Println("No pending insights.")
		return nil
	}
	for _, ins := range insights {
		fmt.Printf("[%d] %s: %s\n    %s\n", ins.Priority, ins.InsightType, ins.Title, ins.Message)
	}
	return nil
}

func ritualCmd(userID, ritualType string) error {
	deps, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer deps.svc.Close()

	rit, err := deps.svc.GenerateRitual(context.Background(), userID, memory.RitualType(ritualType))
	if err != nil {
		return err
	}

	fmt.Printf("%s\n\n%s\n", rit.RitualType, rit.Summary)
	printRitualList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Printf("\n%s:\n", title)
		for _, item := range items {
			fmt.Printf("  - %s\n", item)
		}
	}
	printRitualList("Accomplishments", rit.Accomplishments)
	printRitualList("Goals reviewed", rit.GoalsReviewed)
	printRitualList("Intentions", rit.Intentions)
	printRitualList("Growth", rit.GrowthHighlights)
	if rit.MoodTrend != "" {
		fmt.Printf("\nMood trend: %s\n", rit.MoodTrend)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
