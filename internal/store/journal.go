package store

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/meridian-clinical/triage-cli/internal/model"
)

// JournalOp names the kind of event appended to the audit journal.
type JournalOp string

const (
	JournalOpExtract   JournalOp = "extract"
	JournalOpReExtract JournalOp = "re_extract"
	JournalOpReview    JournalOp = "review"
)

// JournalEntry is one line of the append-only audit journal. The journal is
// the recovery source of truth when the store and a crashed process disagree.
type JournalEntry struct {
	At       time.Time            `json:"at"`
	Op       JournalOp            `json:"op"`
	RecordID string               `json:"record_id"`
	Module   model.Module         `json:"module"`
	CaseID   string               `json:"case_id"`
	Actor    string               `json:"actor,omitempty"`
	Outcome  model.Outcome        `json:"outcome,omitempty"`
	Decision model.TriageDecision `json:"decision,omitempty"`
}

// Journal is an append-only JSONL audit log. Every append is synced to disk
// before it is acknowledged, so an acknowledged write survives a crash.
type Journal struct {
	mu   sync.Mutex
	file *os.File
}

// OpenJournal opens (or creates) the journal file for appending.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "journal: open %s", path)
	}
	return &Journal{file: f}, nil
}

// Append writes one entry and fsyncs before returning.
func (j *Journal) Append(entry JournalEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "journal: marshal entry")
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(line); err != nil {
		return eris.Wrap(err, "journal: write")
	}
	if err := j.file.Sync(); err != nil {
		return eris.Wrap(err, "journal: sync")
	}
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// ReadJournal parses a journal file back into entries, skipping blank lines.
// Used by operators to reconcile the store after a crash.
func ReadJournal(path string) ([]JournalEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "journal: read %s", path)
	}

	var entries []JournalEntry
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == '\n' {
			line := raw[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var entry JournalEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				return nil, eris.Wrap(err, "journal: parse line")
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
