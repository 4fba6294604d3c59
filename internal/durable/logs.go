// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package durable

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	log "github.com/golang/glog"
)

// Logs is the append-only audit trail of the dispatcher: which tasks touched
// each record, and the order patches completed in. Persisted as a readable
// JSON sidecar next to the state snapshot.
type Logs struct {
	SourceLog map[int32][]string `json:"sourcelog"`
	PatchLog  []string           `json:"patchlog"`
}

// NewLogs returns empty logs.
func NewLogs() *Logs {
	return &Logs{SourceLog: make(map[int32][]string)}
}

// Append records that one task checked in the records with the given ids.
func (l *Logs) Append(ids []int32, taskID string) {
	for _, id := range ids {
		l.SourceLog[id] = append(l.SourceLog[id], taskID)
	}
	l.PatchLog = append(l.PatchLog, taskID)
}

// Clone deep-copies the logs.
func (l *Logs) Clone() *Logs {
	c := &Logs{
		SourceLog: make(map[int32][]string, len(l.SourceLog)),
		PatchLog:  append([]string(nil), l.PatchLog...),
	}
	for id, tasks := range l.SourceLog {
		c.SourceLog[id] = append([]string(nil), tasks...)
	}
	return c
}

// LogPath derives the sidecar log file name from a snapshot path by swapping
// the extension for "_log.json".
func LogPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_log.json"
}

// saveLogs writes the sidecar through a temp file so a crash never truncates
// an existing log.
func saveLogs(path string, l *Logs) error {
	buf, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// loadLogs reads the sidecar. A missing file yields empty logs, since old
// snapshots may predate logging.
func loadLogs(path string) *Logs {
	buf, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("failed to read log sidecar %s: %s", path, err)
		}
		return NewLogs()
	}
	l := NewLogs()
	if err := json.Unmarshal(buf, l); err != nil {
		log.Errorf("failed to parse log sidecar %s: %s", path, err)
		return NewLogs()
	}
	if l.SourceLog == nil {
		l.SourceLog = make(map[int32][]string)
	}
	return l
}
