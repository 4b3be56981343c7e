package broker

import (
	"encoding/json"
	"fmt"
)

// Command types accepted on the upload queue.
const (
	CommandStart      = "start"
	CommandDocument   = "document"
	CommandFormat     = "format"
	CommandRename     = "rename"
	CommandThumbnails = "thumbnails"
)

// Command is one chat action. FileContent is base64 encoded by encoding/json.
type Command struct {
	Type        string `json:"type"`
	ChatID      int64  `json:"chat_id"`
	FileName    string `json:"file_name,omitempty"`
	FileContent []byte `json:"file_content,omitempty"`
	Format      string `json:"format,omitempty"`
}

// Event kinds published on the delivery queue.
const (
	EventReply    = "reply"
	EventDocument = "document"
	EventPhoto    = "photo"
)

// Event is one message for a chat.
type Event struct {
	ChatID  int64  `json:"chat_id"`
	Kind    string `json:"kind"`
	Text    string `json:"text,omitempty"`
	Name    string `json:"name,omitempty"`
	Caption string `json:"caption,omitempty"`
	Content []byte `json:"content,omitempty"`
}

func decodeCommand(body []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		return Command{}, fmt.Errorf("parse command: %w", err)
	}
	if cmd.ChatID == 0 {
		return Command{}, fmt.Errorf("command without chat_id")
	}
	switch cmd.Type {
	case CommandStart, CommandFormat, CommandRename, CommandThumbnails:
	case CommandDocument:
		if len(cmd.FileContent) == 0 {
			return Command{}, fmt.Errorf("document command without file_content")
		}
	default:
		return Command{}, fmt.Errorf("unknown command type %q", cmd.Type)
	}
	return cmd, nil
}
