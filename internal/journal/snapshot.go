package journal

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// SuspendEntry is one row of a compaction snapshot.
type SuspendEntry struct {
	Unit unit.ID
	Kind unit.JobKind
	Attr unit.JobAttr
}

// Compact rewrites the journal to hold only live, a snapshot of the
// current suspend table, in place of every record that led up to it; the
// superseded file is first gzip-archived to <path>.<seq>.gz (see
// archiveFile). It writes the replacement to a temp file and renames it over the journal
// path so a crash mid-compaction leaves either the old file or the new
// one intact, never a half-written one (grounded on
// internal/snapshot/snapshot_manager.go's temp-file-then-rename
// technique). Callers should quiesce writers before calling Compact and
// resume after; Compact itself does not pause the batch writer.
func (j *Journal) Compact(live []SuspendEntry) error {
	tmpPath := j.path + ".compact.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: create compaction file: %w", err)
	}

	enc := json.NewEncoder(tmp)
	var seq uint64
	for _, entry := range live {
		seq++
		e := Event{Seq: seq, Type: EventSuspendSet, UnitID: entry.Unit, Kind: entry.Kind, Attr: entry.Attr}
		e.Checksum = checksum(e)
		if err := enc.Encode(e); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("journal: write compaction record: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("journal: sync compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("journal: close compaction file: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	archivePath := fmt.Sprintf("%s.%d.gz", j.path, j.seq)
	if err := archiveFile(j.path, archivePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("journal: archive pre-compaction log: %w", err)
	}

	if err := j.file.Close(); err != nil {
		return fmt.Errorf("journal: close active file before rename: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("journal: rename compaction file into place: %w", err)
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("journal: reopen after compaction: %w", err)
	}
	j.file = file
	j.enc = json.NewEncoder(file)
	j.seq = seq
	return nil
}

// archiveFile gzip-compresses the journal segment being superseded by a
// compaction into dstPath rather than discarding it outright, so the
// full pre-compaction history stays available for audit (grounded on
// internal/storage/wal/wal.go's compressFile). A missing srcPath (a
// journal that has never been written to) is not an error.
func archiveFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}
