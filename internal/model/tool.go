package model

import (
	"encoding/json"
	"time"
)

// Tool names accepted in TOOL_REQUEST markers. The set is closed; anything
// else fails schema validation.
const (
	ToolReadFile   = "read_file"
	ToolSearchCode = "search_code"
	ToolListFiles  = "list_files"
	ToolRunCommand = "run_command"
)

// KnownTool reports whether name is one of the executable tools.
func KnownTool(name string) bool {
	switch name {
	case ToolReadFile, ToolSearchCode, ToolListFiles, ToolRunCommand:
		return true
	}
	return false
}

// ToolRequest is a parsed TOOL_REQUEST marker. Arguments stay as raw JSON
// until the executor validates them against the named tool's schema.
type ToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ReadFileArgs are the arguments for the read_file tool.
type ReadFileArgs struct {
	Path string `json:"path"`
}

// SearchCodeArgs are the arguments for the search_code tool.
type SearchCodeArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

// ListFilesArgs are the arguments for the list_files tool.
type ListFilesArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// RunCommandArgs are the arguments for the run_command tool.
type RunCommandArgs struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// ToolExecutionRecord is the outcome of one tool invocation. Failures are
// data, never errors: a failed tool produces Success=false and the round
// continues.
type ToolExecutionRecord struct {
	Participant string          `json:"participant"`
	ToolName    string          `json:"tool_name"`
	Arguments   json.RawMessage `json:"arguments"`
	Success     bool            `json:"success"`
	Output      string          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	ElapsedMS   int64           `json:"elapsed_ms"`
	Round       int             `json:"round"`
	Timestamp   time.Time       `json:"timestamp"`
}
