package models

import "encoding/json"

// RemoteCommand is a request received on the agent's command topic.
type RemoteCommand struct {
	ID       string   `json:"id"`
	Action   string   `json:"action"`
	Package  string   `json:"package,omitempty"`
	Packages []string `json:"packages,omitempty"`
	Filename string   `json:"filename,omitempty"`
	URL      string   `json:"url,omitempty"`
	Force    bool     `json:"force,omitempty"`
}

// RemoteCommandResult is published on the response topic for every command.
type RemoteCommandResult struct {
	ID      string          `json:"id"`
	Action  string          `json:"action"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}
