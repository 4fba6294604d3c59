// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package durable

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/golang/snappy"

	log "github.com/golang/glog"
	"github.com/wrensuess/forcepho/internal/core"
)

// checkpointVersion defines the version of a checkpoint file.
type checkpointVersion uint32

const (
	invalidCheckpoint checkpointVersion = iota
	jsonSnappyVer                       // JSON snapshot with snappy compression
)

const (
	// The magic number that validates if a checkpoint file is valid.
	checkpointMagic uint32 = 0x0FCA7A10
)

// A checkpoint is a single portable file carrying an entire Snapshot,
// including the logs that Save keeps in a sidecar. It is meant for archiving
// and for moving state between hosts, not for the dispatcher's own restarts.
//
// The checkpoint file has the following format:
//
//      4 bytes        4 bytes        8 bytes                the rest
// ----------------------------------------------------------------------------
// | magic number | ckpt version | source count | ...compressed snapshot data...|
// ----------------------------------------------------------------------------
//
// The source count sits in the uncompressed header so a reader can reject a
// mismatched checkpoint without decompressing the whole file.

// WriteCheckpoint writes snap to path through a temp file and rename.
func WriteCheckpoint(path string, snap *Snapshot) error {
	if snap.Table == nil {
		log.Errorf("refusing to checkpoint without a catalog table")
		return core.ErrSchema.Error()
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := writeCheckpoint(f, snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeCheckpoint(writer io.Writer, snap *Snapshot) error {
	// ------- Write headers of checkpoint in uncompressed format -------

	if err := binary.Write(writer, binary.BigEndian, checkpointMagic); err != nil {
		log.Errorf("Failed to write magic number: %v", err)
		return err
	}
	if err := binary.Write(writer, binary.BigEndian, jsonSnappyVer); err != nil {
		log.Errorf("Failed to write checkpoint version: %v", err)
		return err
	}
	if err := binary.Write(writer, binary.BigEndian, uint64(snap.Table.N)); err != nil {
		return err
	}

	// ------ Write actual snapshot data in compressed format ---------

	sw := snappy.NewBufferedWriter(writer)
	if err := json.NewEncoder(sw).Encode(snap); err != nil {
		log.Errorf("Failed to write to checkpoint file: %v", err)
		return err
	}
	return sw.Close()
}

// ReadCheckpoint reads a checkpoint written by WriteCheckpoint. A damaged or
// foreign file surfaces as ErrCorruptSnapshot.
func ReadCheckpoint(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCheckpoint(f)
}

func readCheckpoint(reader io.Reader) (*Snapshot, error) {
	var m uint32
	var cversion checkpointVersion
	var count uint64

	if err := binary.Read(reader, binary.BigEndian, &m); err != nil {
		log.Errorf("Failed to read magic number: %v", err)
		return nil, core.ErrCorruptSnapshot.Error()
	}
	if m != checkpointMagic {
		log.Errorf("Mismatch on magic number, probably not a valid checkpoint file?")
		return nil, core.ErrCorruptSnapshot.Error()
	}
	if err := binary.Read(reader, binary.BigEndian, &cversion); err != nil {
		log.Errorf("Failed to read checkpoint version: %v", err)
		return nil, core.ErrCorruptSnapshot.Error()
	}
	if cversion != jsonSnappyVer {
		log.Errorf("Checkpoint file with version %d can not be handled.", cversion)
		return nil, core.ErrCorruptSnapshot.Error()
	}
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		log.Errorf("Failed to read source count: %v", err)
		return nil, core.ErrCorruptSnapshot.Error()
	}

	snap := new(Snapshot)
	if err := json.NewDecoder(snappy.NewReader(reader)).Decode(snap); err != nil {
		log.Errorf("Failed to decode checkpoint data: %v", err)
		return nil, core.ErrCorruptSnapshot.Error()
	}
	if snap.Table == nil || uint64(snap.Table.N) != count {
		log.Errorf("Checkpoint header claims %d sources but the payload disagrees", count)
		return nil, core.ErrCorruptSnapshot.Error()
	}
	if snap.Logs == nil {
		snap.Logs = NewLogs()
	}
	return snap, nil
}
