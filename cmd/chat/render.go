package main

import (
	"os"
	"strconv"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"chat-relay/broker"
	"chat-relay/protocol"
)

func render(e broker.Event, self string) {
	switch {
	case e.Chat != nil:
		color.Cyan.Printf("[%s] %s: %s\n", clockStamp(e.Chat.Timestamp), e.Chat.Username, e.Chat.Message)

	case e.System != nil:
		switch e.System.Type {
		case protocol.TypeUserJoin:
			color.Green.Printf("+ %s (online: %d)\n", e.System.Message, e.System.OnlineUsers)
		default:
			color.Yellow.Printf("- %s (online: %d)\n", e.System.Message, e.System.OnlineUsers)
		}

	case e.Users != nil:
		color.Green.Printf("Online users (%d):\n", e.Users.Count)
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"#", "User"})
		for i, user := range e.Users.Users {
			name := user
			if user == self {
				name += " (you)"
			}
			table.Append([]string{strconv.Itoa(i + 1), name})
		}
		table.Render()

	case e.History != nil:
		color.Gray.Println("Recent chat history:")
		for _, m := range e.History.Messages {
			color.Gray.Printf("  [%s] %s: %s\n", clockStamp(m.Timestamp), m.Username, m.Message)
		}
	}
}

func clockStamp(stamp string) string {
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return stamp
	}
	return t.Format("15:04:05")
}
