package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/bayup/wabridge/internal/client"
	"github.com/bayup/wabridge/internal/config"
	"github.com/bayup/wabridge/internal/pairing"
	"github.com/bayup/wabridge/internal/session"
	"github.com/bayup/wabridge/internal/status"
)

const requestTimeout = 45 * time.Second

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	addrFlag := flag.String("addr", "", "daemon base URL (default http://localhost:<port>)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fatal(err)
	}
	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		fatal(err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fatal(err)
	}

	if args[0] == "config" {
		if len(args) < 2 || args[1] != "init" {
			fmt.Fprintln(os.Stderr, "usage: wabridgectl config init")
			os.Exit(1)
		}
		cmdConfigInit()
		return
	}

	sessionName := session.Resolve(*sessionFlag, cfg)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	addr := *addrFlag
	if addr == "" {
		addr = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	c := client.New(addr, session.SocketPath(sessionName))

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		cmdWatch(ctx, c, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, sessionName, *jsonFlag)
	case "qr":
		cmdQR(ctx, c, *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: wabridgectl send <to> <body>")
			os.Exit(1)
		}
		cmdSend(ctx, c, args[1], args[2], *jsonFlag)
	case "chats":
		cmdChats(ctx, c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wabridgectl messages <chat> [limit]")
			os.Exit(1)
		}
		limit := 0
		if len(args) >= 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil || n <= 0 {
				fatal(fmt.Errorf("invalid limit %q", args[2]))
			}
			limit = n
		}
		cmdMessages(ctx, c, args[1], limit, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wabridgectl [--session <name>] [--addr <url>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                   Show connection state and daemon health")
	fmt.Fprintln(os.Stderr, "  qr                       Print the pairing QR code")
	fmt.Fprintln(os.Stderr, "  send <to> <body>         Send a text message")
	fmt.Fprintln(os.Stderr, "  chats                    List chats")
	fmt.Fprintln(os.Stderr, "  messages <chat> [limit]  Show recent messages of a chat")
	fmt.Fprintln(os.Stderr, "  watch                    Stream live events")
	fmt.Fprintln(os.Stderr, "  config init              Write a default config file")
}

func cmdStatus(ctx context.Context, c *client.Client, sessionName string, jsonOut bool) {
	health, healthErr := c.Health(ctx)
	if healthErr != nil {
		health = "UNREACHABLE"
	}
	state, err := c.Status(ctx)
	if err != nil && healthErr != nil {
		fatal(fmt.Errorf("daemon for session %q is not running: %w", sessionName, errors.Join(healthErr, err)))
	}
	if err != nil {
		fatal(err)
	}

	if jsonOut {
		outputJSON(map[string]string{"session": sessionName, "status": string(state), "health": health})
		return
	}
	fmt.Printf("Session: %s\n", sessionName)
	fmt.Printf("Status:  %s\n", state)
	fmt.Printf("Health:  %s\n", health)
}

func cmdQR(ctx context.Context, c *client.Client, jsonOut bool) {
	qr, err := c.QR(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(qr)
		return
	}
	switch {
	case qr.Status == status.Ready:
		fmt.Println("Session is connected; no pairing needed.")
	case qr.Code == "":
		fmt.Println("No pairing code yet. Try again in a few seconds.")
	default:
		art, err := pairing.Terminal(qr.Code)
		if err != nil {
			fatal(err)
		}
		fmt.Println("Scan with WhatsApp > Linked devices:")
		fmt.Print(art)
	}
}

func cmdSend(ctx context.Context, c *client.Client, to, body string, jsonOut bool) {
	res, err := c.Send(ctx, to, body)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(res)
		return
	}
	fmt.Printf("Sent %s\n", res.ID)
}

func cmdChats(ctx context.Context, c *client.Client, jsonOut bool) {
	chats, err := c.Chats(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	printChats(os.Stdout, chats)
}

func cmdMessages(ctx context.Context, c *client.Client, chat string, limit int, jsonOut bool) {
	msgs, err := c.Messages(ctx, chat, limit)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	printMessages(os.Stdout, msgs)
}

func cmdWatch(ctx context.Context, c *client.Client, jsonOut bool) {
	err := c.Watch(ctx, func(evt client.Event) error {
		if jsonOut {
			outputJSON(evt)
			return nil
		}
		fmt.Println(formatEvent(evt))
		return nil
	})
	if err != nil {
		fatal(err)
	}
}

func cmdConfigInit() {
	path := session.ConfigPath()
	if _, err := os.Stat(path); err == nil {
		fatal(fmt.Errorf("%s already exists", path))
	}
	if err := config.Save(path, config.Default()); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s\n", path)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
