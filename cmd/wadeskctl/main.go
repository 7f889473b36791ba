package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/matheus3301/wadesk/internal/store"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon address (default http://127.0.0.1:8473, or WADESK_ADDR)")
	ownerFlag := flag.String("owner", "", "owner id for tenant scoping (or WADESK_OWNER)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	addr := *addrFlag
	if addr == "" {
		addr = os.Getenv("WADESK_ADDR")
	}
	if addr == "" {
		addr = "http://127.0.0.1:8473"
	}
	owner := *ownerFlag
	if owner == "" {
		owner = os.Getenv("WADESK_OWNER")
	}
	if owner == "" {
		fmt.Fprintln(os.Stderr, "error: --owner or WADESK_OWNER is required")
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &cli{addr: addr, owner: owner, jsonOut: *jsonFlag}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch args[0] {
	case "sessions":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wadeskctl sessions <list|create|show|delete> ...")
			os.Exit(1)
		}
		c.cmdSessions(ctx, args[1:])
	case "start":
		c.requireArg(args, 2, "wadeskctl start <session-id>")
		c.cmdCommand(ctx, args[1], "start")
	case "stop":
		c.requireArg(args, 2, "wadeskctl stop <session-id>")
		c.cmdCommand(ctx, args[1], "stop")
	case "qr":
		c.requireArg(args, 2, "wadeskctl qr <session-id>")
		c.cmdQR(ctx, args[1])
	case "chats":
		c.requireArg(args, 2, "wadeskctl chats <session-id>")
		c.cmdChats(ctx, args[1])
	case "messages":
		c.requireArg(args, 2, "wadeskctl messages <conversation-id>")
		c.cmdMessages(ctx, args[1])
	case "send":
		c.requireArg(args, 4, "wadeskctl send <session-id> <to> <text>")
		c.cmdSend(ctx, args[1], args[2], args[3])
	case "watch":
		c.requireArg(args, 2, "wadeskctl watch <session-id>")
		c.cmdWatch(args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wadeskctl [--addr <url>] [--owner <id>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  sessions list             List sessions")
	fmt.Fprintln(os.Stderr, "  sessions create <name>    Create a session")
	fmt.Fprintln(os.Stderr, "  sessions show <id>        Show one session")
	fmt.Fprintln(os.Stderr, "  sessions delete <id>      Delete a session and its data")
	fmt.Fprintln(os.Stderr, "  start <id>                Start connecting a session")
	fmt.Fprintln(os.Stderr, "  stop <id>                 Disconnect a session")
	fmt.Fprintln(os.Stderr, "  qr <id>                   Print the pairing QR payload")
	fmt.Fprintln(os.Stderr, "  chats <id>                List a session's conversations")
	fmt.Fprintln(os.Stderr, "  messages <conv-id>        List a conversation's messages")
	fmt.Fprintln(os.Stderr, "  send <id> <to> <text>     Send a text message")
	fmt.Fprintln(os.Stderr, "  watch <id>                Stream a session's events")
}

type cli struct {
	addr    string
	owner   string
	jsonOut bool
}

func (c *cli) requireArg(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

func (c *cli) do(ctx context.Context, method, path string, body any, out any) {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			fatal(err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, buf)
	if err != nil {
		fatal(err)
	}
	req.Header.Set("X-Owner-ID", c.owner)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(fmt.Errorf("cannot reach daemon at %s: %w", c.addr, err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal(err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Code != "" {
			fatal(fmt.Errorf("%s: %s", apiErr.Error.Code, apiErr.Error.Message))
		}
		fatal(fmt.Errorf("daemon returned %d", resp.StatusCode))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			fatal(err)
		}
	}
	if c.jsonOut && len(data) > 0 {
		os.Stdout.Write(data)
		fmt.Println()
	}
}

func (c *cli) cmdSessions(ctx context.Context, args []string) {
	switch args[0] {
	case "list":
		var resp struct {
			Sessions []store.Session `json:"sessions"`
		}
		c.do(ctx, http.MethodGet, "/v1/sessions", nil, &resp)
		if c.jsonOut {
			return
		}
		for _, s := range resp.Sessions {
			fmt.Printf("%s  %-14s %-12s %s\n", s.ID, s.Name, s.Status, s.PhoneNumber)
		}
	case "create":
		c.requireArg(args, 2, "wadeskctl sessions create <name>")
		var s store.Session
		c.do(ctx, http.MethodPost, "/v1/sessions", map[string]string{"name": args[1]}, &s)
		if !c.jsonOut {
			fmt.Printf("created session %s (%s)\n", s.ID, s.Name)
		}
	case "show":
		c.requireArg(args, 2, "wadeskctl sessions show <id>")
		var s store.Session
		c.do(ctx, http.MethodGet, "/v1/sessions/"+args[1], nil, &s)
		if c.jsonOut {
			return
		}
		printSession(s)
	case "delete":
		c.requireArg(args, 2, "wadeskctl sessions delete <id>")
		c.do(ctx, http.MethodDelete, "/v1/sessions/"+args[1], nil, nil)
		if !c.jsonOut {
			fmt.Println("deleted")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown sessions command: %s\n", args[0])
		os.Exit(1)
	}
}

func (c *cli) cmdCommand(ctx context.Context, sessionID, action string) {
	var s store.Session
	c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/commands", map[string]string{"action": action}, &s)
	if !c.jsonOut {
		fmt.Printf("session %s: %s\n", s.ID, s.Status)
	}
}

func (c *cli) cmdQR(ctx context.Context, sessionID string) {
	var s store.Session
	c.do(ctx, http.MethodGet, "/v1/sessions/"+sessionID, nil, &s)
	if c.jsonOut {
		return
	}
	if s.QRPayload == "" {
		fmt.Printf("no QR pending (status: %s)\n", s.Status)
		return
	}
	fmt.Println(s.QRPayload)
}

func (c *cli) cmdChats(ctx context.Context, sessionID string) {
	var resp struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	c.do(ctx, http.MethodGet, "/v1/sessions/"+sessionID+"/conversations", nil, &resp)
	if c.jsonOut {
		return
	}
	for _, conv := range resp.Conversations {
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", conv.UnreadCount)
		}
		fmt.Printf("%d  %s%s\n", conv.ID, conv.DisplayName, unread)
	}
}

func (c *cli) cmdMessages(ctx context.Context, conversationID string) {
	var resp struct {
		Messages []store.Message `json:"messages"`
	}
	c.do(ctx, http.MethodGet, "/v1/conversations/"+conversationID+"/messages", nil, &resp)
	if c.jsonOut {
		return
	}
	for _, m := range resp.Messages {
		from := m.FromAddress
		if m.IsFromMe {
			from = "me"
		}
		ts := time.UnixMilli(m.SentAt).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s: %s\n", ts, from, m.TextContent)
	}
}

func (c *cli) cmdSend(ctx context.Context, sessionID, to, text string) {
	var m store.Message
	c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/messages",
		map[string]string{"to": to, "text": text}, &m)
	if !c.jsonOut {
		fmt.Printf("queued %s (%s)\n", m.ExternalMessageID, m.DeliveryStatus)
	}
}

// cmdWatch tails the session's event stream until interrupted.
func (c *cli) cmdWatch(sessionID string) {
	req, err := http.NewRequest(http.MethodGet, c.addr+"/v1/sessions/"+sessionID+"/events", nil)
	if err != nil {
		fatal(err)
	}
	req.Header.Set("X-Owner-ID", c.owner)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(fmt.Errorf("cannot reach daemon at %s: %w", c.addr, err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fatal(fmt.Errorf("daemon returned %d", resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" && line[0] != ':' {
			fmt.Println(line)
		}
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printSession(s store.Session) {
	fmt.Printf("ID:        %s\n", s.ID)
	fmt.Printf("Name:      %s\n", s.Name)
	fmt.Printf("Status:    %s\n", s.Status)
	if s.PhoneNumber != "" {
		fmt.Printf("Phone:     %s\n", s.PhoneNumber)
	}
	if s.LastConnectedAt != nil {
		fmt.Printf("Connected: %s\n", time.UnixMilli(*s.LastConnectedAt).Format(time.RFC3339))
	}
	if s.LastError != "" {
		fmt.Printf("Error:     %s\n", s.LastError)
	}
}
