package cli

import (
	"time"

	"github.com/klyuchko/unitjob/internal/config"
	"github.com/klyuchko/unitjob/internal/journal"
	"github.com/klyuchko/unitjob/pkg/unit"
)

func openJournal(cfg *config.Config) (*journal.Journal, error) {
	return journal.Open(cfg.Journal.Path, cfg.Journal.BufferSize, time.Duration(cfg.Journal.FlushIntervalMs)*time.Millisecond)
}

func replayJournal(path string, apply func(unit.ID, unit.JobKind, unit.JobAttr) error) error {
	return journal.Replay(path, apply)
}
