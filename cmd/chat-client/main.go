// ABOUTME: Terminal chat client for a single adoption conversation
// ABOUTME: Usage: chat-client -url http://localhost:8080 -token TOKEN -user USER -conversation CONV

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/pawhaven/chat-gateway/internal/chatclient"
	"github.com/pawhaven/chat-gateway/internal/store"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "gateway base URL")
	token := flag.String("token", "", "JWT bearer token (or CHAT_TOKEN env)")
	userID := flag.String("user", "", "user id to chat as")
	conversationID := flag.String("conversation", "", "conversation id to join")
	flag.Parse()

	if *token == "" {
		*token = os.Getenv("CHAT_TOKEN")
	}
	if *token == "" || *userID == "" || *conversationID == "" {
		fmt.Fprintln(os.Stderr, "-token, -user, and -conversation are required")
		os.Exit(1)
	}

	if err := run(*baseURL, *token, *userID, *conversationID); err != nil {
		log.Fatal(err)
	}
}

// printer renders conversation events to the terminal.
type printer struct {
	selfID string
}

func (p *printer) OnMessage(msg *store.Message) {
	who := color.CyanString(msg.SenderID)
	if msg.SenderID == p.selfID {
		who = color.GreenString("you")
	}
	fmt.Printf("%s %s: %s\n", color.HiBlackString(msg.CreatedAt.Local().Format("15:04")), who, msg.Content)
}

func (p *printer) OnMessagesRead(messageIDs []string, readerID string) {
	fmt.Println(color.HiBlackString(fmt.Sprintf("  ✓ read by %s (%d messages)", readerID, len(messageIDs))))
}

func (p *printer) OnTyping(userID string) {
	fmt.Println(color.HiBlackString(fmt.Sprintf("  %s is typing...", userID)))
}

func (p *printer) OnStopTyping(userID string) {}

func (p *printer) OnStateChange(state chatclient.State) {
	switch state {
	case chatclient.StateActive:
		fmt.Println(color.GreenString("  ● connected"))
	case chatclient.StateReconnecting:
		fmt.Println(color.YellowString("  ● connection lost, reconnecting..."))
	case chatclient.StateDisconnected:
		fmt.Println(color.RedString("  ● disconnected"))
	}
}

func run(baseURL, token, userID, conversationID string) error {
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"

	ctrl, err := chatclient.New(chatclient.Options{
		URL:            wsURL,
		UserID:         userID,
		ConversationID: conversationID,
		Handler:        &printer{selfID: userID},
	})
	if err != nil {
		return err
	}
	if err := ctrl.Start(); err != nil {
		return err
	}
	defer ctrl.Close()

	// Backfill history over REST so the log starts complete.
	history, err := fetchMessages(baseURL, token, conversationID)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	ctrl.SyncMessages(history)
	for _, msg := range ctrl.Messages() {
		(&printer{selfID: userID}).OnMessage(msg)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-sigCh:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			ctrl.InputActivity(false)
			if err := sendMessage(baseURL, token, conversationID, line); err != nil {
				fmt.Fprintln(os.Stderr, color.RedString("send failed: "+err.Error()))
			}
			ctrl.InputActivity(true) // input box is empty again
		}
	}
}

func fetchMessages(baseURL, token, conversationID string) ([]*store.Message, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/conversations/%s/messages", baseURL, conversationID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var messages []*store.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func sendMessage(baseURL, token, conversationID, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/conversations/%s/messages", baseURL, conversationID), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
