package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// batchRequest pairs an already-checksummed event with the channel its
// caller blocks on for the fsync result.
type batchRequest struct {
	event Event
	errCh chan error
}

// FsyncRecorder is the optional observability collaborator notified once
// per successful batch fsync. Implemented by internal/metrics.Collector.
type FsyncRecorder interface {
	RecordFsync()
}

// Journal is an append-only log of suspend-table mutations; records
// already queued together when the writer drains its channel share one
// fsync (grounded on
// internal/storage/wal/wal.go's batchWriter/flushBatch). It satisfies
// jobengine.Reliability.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	path string
	seq  uint64

	batchChan     chan batchRequest
	flushInterval time.Duration
	closed        chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once

	metrics FsyncRecorder
}

// SetMetrics wires the collector flushBatch reports each fsync to. Call
// before any Record*/Remove* writes race with the batch writer; nil
// disables reporting.
func (j *Journal) SetMetrics(m FsyncRecorder) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.metrics = m
}

// Open creates or reopens the journal file at path, replaying its
// trailing seq number so new records continue the sequence rather than
// restart it. bufferSize <= 0 defaults to 100 pending writes;
// flushInterval <= 0 defaults to 10ms.
func Open(path string, bufferSize int, flushInterval time.Duration) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Millisecond
	}

	lastSeq, err := lastSeqOf(path)
	if err != nil {
		file.Close()
		return nil, err
	}

	j := &Journal{
		file:          file,
		enc:           json.NewEncoder(file),
		path:          path,
		seq:           lastSeq,
		batchChan:     make(chan batchRequest, bufferSize*2),
		flushInterval: flushInterval,
		closed:        make(chan struct{}),
	}
	j.wg.Add(1)
	go j.batchWriter()
	return j, nil
}

// lastSeqOf scans an existing journal file for its highest seq, skipping
// corrupt trailing records rather than failing to open.
func lastSeqOf(path string) (uint64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("journal: scan for last seq: %w", err)
	}
	defer f.Close()

	var last uint64
	dec := json.NewDecoder(f)
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			break
		}
		if !verifyChecksum(e) {
			break
		}
		last = e.Seq
	}
	return last, nil
}

func (j *Journal) append(evType EventType, u unit.ID, kind unit.JobKind, attr unit.JobAttr) error {
	j.mu.Lock()
	j.seq++
	seq := j.seq
	j.mu.Unlock()

	e := Event{Seq: seq, Type: evType, UnitID: u, Kind: kind, Attr: attr, Timestamp: time.Now().UnixNano()}
	e.Checksum = checksum(e)

	errCh := make(chan error, 1)
	select {
	case j.batchChan <- batchRequest{event: e, errCh: errCh}:
	case <-j.closed:
		return ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-j.closed:
		return ErrClosed
	}
}

// RecordSuspend, RemoveSuspend, SetLastFrame and ClearLastFrame implement
// jobengine.Reliability.
func (j *Journal) RecordSuspend(u unit.ID, kind unit.JobKind, attr unit.JobAttr) error {
	return j.append(EventSuspendSet, u, kind, attr)
}

func (j *Journal) RemoveSuspend(u unit.ID, kind unit.JobKind) error {
	return j.append(EventSuspendClear, u, kind, unit.JobAttr{})
}

func (j *Journal) SetLastFrame(u unit.ID) error {
	return j.append(EventFrame, u, unit.JobNop, unit.JobAttr{})
}

func (j *Journal) ClearLastFrame() error {
	return j.append(EventFrame, "", unit.JobNop, unit.JobAttr{})
}

// batchWriter drains batchChan, accumulating records until flushInterval
// elapses or the channel is empty, then fsyncs once per batch. This is
// the throughput win over one fsync per Append call.
func (j *Journal) batchWriter() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	var batch []batchRequest
	for {
		select {
		case req := <-j.batchChan:
			batch = append(batch, req)
			// Opportunistically drain whatever else is already queued
			// before flushing, so a burst of Appends costs one fsync.
			for drained := false; !drained; {
				select {
				case more := <-j.batchChan:
					batch = append(batch, more)
				default:
					drained = true
				}
			}
			j.flushBatch(batch)
			batch = nil
		case <-ticker.C:
			if len(batch) > 0 {
				j.flushBatch(batch)
				batch = nil
			}
		case <-j.closed:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case req := <-j.batchChan:
					batch = append(batch, req)
				default:
					j.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (j *Journal) flushBatch(batch []batchRequest) {
	if len(batch) == 0 {
		return
	}
	j.mu.Lock()
	var encErr error
	for _, req := range batch {
		if encErr == nil {
			encErr = j.enc.Encode(req.event)
		}
	}
	if encErr == nil {
		encErr = j.file.Sync()
		if encErr == nil && j.metrics != nil {
			j.metrics.RecordFsync()
		}
	}
	j.mu.Unlock()

	for _, req := range batch {
		req.errCh <- encErr
	}
}

// Close stops the batch writer and closes the underlying file, after
// flushing anything still pending.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		close(j.closed)
	})
	j.wg.Wait()
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Path returns the journal's backing file path, for Compact to rewrite.
func (j *Journal) Path() string { return j.path }
