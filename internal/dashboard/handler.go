package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Mschirtzinger/todosync/internal/daemon"
	todosync "github.com/Mschirtzinger/todosync/internal/sync"
)

// SyncCompleteData summarizes a run
type SyncCompleteData struct {
	Direction    string   `json:"direction"`
	DryRun       bool     `json:"dry_run"`
	Created      int      `json:"created"`
	Updated      int      `json:"updated"`
	Deleted      int      `json:"deleted"`
	FilesWritten int      `json:"files_written"`
	Conflicts    int      `json:"conflicts"`
	Errors       int      `json:"errors"`
	Trigger      []string `json:"trigger,omitempty"`
	DurationMS   int64    `json:"duration_ms"`
}

// IssueUpdateData describes one change a run made
type IssueUpdateData struct {
	IssueID string `json:"issue_id"`
	Action  string `json:"action"` // create, update, delete, write, remove
	Target  string `json:"target"` // beads or files
	Path    string `json:"path,omitempty"`
}

// ConflictData describes an issue edited on both sides
type ConflictData struct {
	IssueID        string `json:"issue_id"`
	Winner         string `json:"winner"`
	BeadsTitle     string `json:"beads_title"`
	FileTitle      string `json:"file_title"`
	BeadsUpdatedAt string `json:"beads_updated_at,omitempty"`
	FileUpdatedAt  string `json:"file_updated_at,omitempty"`
}

// SyncErrorData carries a run failure, or one item's failure when IssueID
// is set
type SyncErrorData struct {
	IssueID string `json:"issue_id,omitempty"`
	Action  string `json:"action,omitempty"`
	Error   string `json:"error"`
}

// Handler turns daemon reports into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger

	mu   sync.Mutex
	last *SyncCompleteData
}

// NewHandler creates a handler broadcasting through server. New clients
// are greeted with the latest run summary.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	h := &Handler{server: server, logger: logger}
	server.SetGreeting(h.greeting)
	return h
}

// Listener returns the handler as a daemon listener.
func (h *Handler) Listener() daemon.Listener {
	return h.OnReport
}

// OnReport broadcasts one run: its item changes, conflicts and errors,
// then the summary.
func (h *Handler) OnReport(r daemon.Report) {
	if r.Err != nil {
		h.logger.Printf("Sync failed: %v", r.Err)
		h.send(MessageTypeSyncError, SyncErrorData{Error: r.Err.Error()})
		return
	}
	res := r.Result
	if res == nil {
		return
	}

	for _, a := range res.Actions {
		if a.Error != "" {
			h.send(MessageTypeSyncError, SyncErrorData{IssueID: a.ID, Action: string(a.Kind), Error: a.Error})
			continue
		}
		h.send(MessageTypeIssueUpdate, IssueUpdateData{
			IssueID: a.ID,
			Action:  string(a.Kind),
			Target:  string(a.Target),
			Path:    a.Path,
		})
	}

	for _, c := range res.Conflicts {
		h.send(MessageTypeConflict, conflictData(c))
	}

	summary := summarize(res, r.Trigger)
	h.mu.Lock()
	h.last = summary
	h.mu.Unlock()
	h.send(MessageTypeSyncComplete, summary)
}

func conflictData(c todosync.Conflict) ConflictData {
	d := ConflictData{IssueID: c.ID, Winner: string(c.Winner)}
	if c.Beads != nil {
		d.BeadsTitle, d.BeadsUpdatedAt = c.Beads.Title, c.Beads.UpdatedAt
	}
	if c.File != nil {
		d.FileTitle, d.FileUpdatedAt = c.File.Title, c.File.UpdatedAt
	}
	return d
}

func summarize(res *todosync.Result, trigger []string) *SyncCompleteData {
	return &SyncCompleteData{
		Direction:    string(res.Direction),
		DryRun:       res.DryRun,
		Created:      len(res.Created),
		Updated:      len(res.Updated),
		Deleted:      len(res.Deleted),
		FilesWritten: len(res.FilesWritten),
		Conflicts:    len(res.Conflicts),
		Errors:       len(res.Errors),
		Trigger:      trigger,
		DurationMS:   res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	}
}

func (h *Handler) greeting() *Message {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()

	msg, err := newMessage(MessageTypeHello, last)
	if err != nil {
		h.logger.Printf("Failed to marshal greeting: %v", err)
		return nil
	}
	return msg
}

func (h *Handler) send(typ MessageType, data interface{}) {
	msg, err := newMessage(typ, data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(*msg)
}

func newMessage(typ MessageType, data interface{}) (*Message, error) {
	msg := &Message{Type: typ, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return msg, nil
}
