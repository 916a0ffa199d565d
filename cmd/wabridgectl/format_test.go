package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bayup/wabridge/internal/api"
	"github.com/bayup/wabridge/internal/client"
	"github.com/mattn/go-runewidth"
)

func TestCellWidth(t *testing.T) {
	tests := []string{"Ana", "一二三四五六七八九十一二三四五", "a very long chat name that overflows", ""}
	for _, in := range tests {
		if got := runewidth.StringWidth(cell(in, 12)); got != 12 {
			t.Errorf("cell(%q) width = %d, want 12", in, got)
		}
	}
}

func TestPrintMessagesReadingOrder(t *testing.T) {
	var buf bytes.Buffer
	printMessages(&buf, []api.MessageRecord{
		{Body: "second", FromMe: true, Time: "10:01:00"},
		{Body: "first", Author: "573@s.whatsapp.net", Time: "10:00:00"},
	})
	out := buf.String()
	if strings.Index(out, "first") > strings.Index(out, "second") {
		t.Errorf("messages not in reading order:\n%s", out)
	}
	if !strings.Contains(out, "me") {
		t.Errorf("outbound author not shown as me:\n%s", out)
	}
}

func TestPrintChatsEmpty(t *testing.T) {
	var buf bytes.Buffer
	printChats(&buf, nil)
	if !strings.Contains(buf.String(), "No chats") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestFormatEvent(t *testing.T) {
	msg, _ := json.Marshal(map[string]any{"from": "573@s.whatsapp.net", "body": "hola", "name": "Ana"})
	unnamed, _ := json.Marshal(map[string]any{"from": "120363@g.us", "author": "573@s.whatsapp.net", "body": "hola"})
	tests := []struct {
		evt  client.Event
		want string
	}{
		{client.Event{Event: "status", Data: json.RawMessage(`"ready"`)}, "status  ready"},
		{client.Event{Event: "ready", Data: json.RawMessage(`{"status":true}`)}, "ready"},
		{client.Event{Event: "new_message", Data: msg}, "message Ana: hola"},
		{client.Event{Event: "new_message", Data: unnamed}, "message 573@s.whatsapp.net: hola"},
	}
	for _, tt := range tests {
		if got := formatEvent(tt.evt); got != tt.want {
			t.Errorf("formatEvent(%s) = %q, want %q", tt.evt.Event, got, tt.want)
		}
	}
}
