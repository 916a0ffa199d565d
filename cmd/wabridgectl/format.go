package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/bayup/wabridge/internal/api"
	"github.com/bayup/wabridge/internal/client"
	"github.com/bayup/wabridge/internal/relay"
	"github.com/mattn/go-runewidth"
)

const (
	nameWidth    = 24
	previewWidth = 48
)

func printChats(w io.Writer, chats []api.ChatSummary) {
	if len(chats) == 0 {
		fmt.Fprintln(w, "No chats yet.")
		return
	}
	for _, c := range chats {
		unread := ""
		if c.Unread > 0 {
			unread = fmt.Sprintf("(%d)", c.Unread)
		}
		fmt.Fprintf(w, "%s  %s  %-5s %s  %s\n",
			cell(c.Name, nameWidth), c.Time, unread, cell(c.LastMsg, previewWidth), c.ID)
	}
}

func printMessages(w io.Writer, msgs []api.MessageRecord) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	// Records arrive newest first; print in reading order.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		who := m.Author
		if m.FromMe {
			who = "me"
		}
		fmt.Fprintf(w, "%s  %s  %s\n", m.Time, cell(who, nameWidth), m.Body)
	}
}

func formatEvent(evt client.Event) string {
	switch evt.Event {
	case relay.EventStatus:
		var st string
		_ = json.Unmarshal(evt.Data, &st)
		return "status  " + st
	case relay.EventQR:
		return "qr      pairing code issued (run `wabridgectl qr`)"
	case relay.EventReady:
		return "ready"
	case relay.EventNewMessage:
		var m relay.NewMessage
		if err := json.Unmarshal(evt.Data, &m); err != nil {
			return "message " + string(evt.Data)
		}
		who := m.Name
		if who == "" {
			who = m.Author
		}
		if who == "" {
			who = m.From
		}
		return fmt.Sprintf("message %s: %s", who, m.Body)
	default:
		return evt.Event + " " + string(evt.Data)
	}
}

// cell truncates or pads s to width terminal columns.
func cell(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "..."), width)
}
