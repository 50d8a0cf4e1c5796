// Chatwire CLI - drive a widget conversation from the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/eldtechnologies/chatwire/clients/go/chatwire"
	"github.com/eldtechnologies/chatwire/internal/models"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CHATWIRE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	widgetID := os.Getenv("CHATWIRE_WIDGET")
	if widgetID == "" {
		widgetID = "demo"
	}

	store := chatwire.NewFileSessionStore(sessionPath())
	sess, err := store.Load()
	exitOnError(err)

	client := chatwire.NewClient(baseURL, chatwire.WithVisitor(sess.VisitorID))
	ctx := context.Background()

	switch os.Args[1] {
	case "chat":
		runChat(ctx, client, store, widgetID)

	case "send":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatwire send <message>")
			os.Exit(1)
		}
		room, err := client.OpenRoom(ctx, widgetID, sess.VisitorName, sess.VisitorEmail)
		exitOnError(err)
		msg, err := client.SendVisitorMessage(ctx, room.ID, chatwire.SendParams{
			Content: strings.Join(os.Args[2:], " "),
		})
		exitOnError(err)
		fmt.Printf("Sent: %s\n", msg.ID)

	case "read":
		room, err := client.OpenRoom(ctx, widgetID, sess.VisitorName, sess.VisitorEmail)
		exitOnError(err)
		page, err := client.ListMessages(ctx, room.ID, 20, "")
		exitOnError(err)
		for _, msg := range page.Messages {
			printMessage(&msg)
		}

	case "whoami":
		printJSON(sess)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

// runChat tails the room's live stream until interrupted.
func runChat(ctx context.Context, client *chatwire.Client, store chatwire.SessionStore, widgetID string) {
	widget, err := chatwire.NewWidget(client, store)
	exitOnError(err)
	exitOnError(widget.Start(ctx, widgetID))
	defer widget.Stop()

	for _, msg := range widget.View.Messages() {
		printMessage(&msg)
	}
	fmt.Println("--- live (ctrl-c to quit) ---")

	seen := map[string]bool{}
	for _, msg := range widget.View.Messages() {
		seen[msg.ID] = true
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, msg := range widget.View.Messages() {
				if !seen[msg.ID] {
					seen[msg.ID] = true
					printMessage(&msg)
				}
			}
		case <-stop:
			return
		}
	}
}

func printMessage(msg *models.Message) {
	ts := msg.CreatedAt.Local().Format("2006-01-02 15:04:05")
	from := msg.SenderName
	if from == "" {
		from = msg.SenderType
	}
	body := msg.Content
	if body == "" && msg.ImageURL != "" {
		body = "[image] " + msg.ImageURL
	}
	fmt.Printf("[%s] %s: %s\n", ts, from, body)
}

func sessionPath() string {
	if dir := os.Getenv("CHATWIRE_CONFIG"); dir != "" {
		return filepath.Join(dir, "session.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatwire-session.json"
	}
	return filepath.Join(home, ".chatwire", "session.json")
}

func usage() {
	fmt.Println(`Chatwire CLI - support chat widget client

Usage: chatwire <command> [options]

Commands:
  chat              Open the conversation and tail it live
  send <message>    Send one message
  read              Print the most recent messages
  whoami            Show the stored visitor session
  help              Show this help

Environment:
  CHATWIRE_URL      Server URL (default: http://localhost:8080)
  CHATWIRE_WIDGET   Widget id (default: demo)
  CHATWIRE_CONFIG   Config directory (default: ~/.chatwire)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
