// Package audit implements the tamper-evident audit log (spec.md §4.9): a
// batching writer that chains each batch's terminal hash into the next via
// SHA-256, and a verifier that recomputes the chain. Grounded on the
// receiptStore.Append / prevHash-threading shape from the Mindburn-Labs
// helm proxy reference, adapted from a single-entry JSONL chain to a
// SQLite-batched one.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/pkg/apperr"
	"github.com/llmlb/llmlb/pkg/safego"
)

// Genesis is the prev_hash for the very first entry ever written.
const Genesis = "GENESIS"

const (
	defaultBatchSize = 20
	defaultFlushTick = 2 * time.Second
)

// ArchiveSink rotates committed entries to a separate database file. Its
// rotation policy is collaborator-defined (spec.md §4.9); the default
// implementation is a no-op.
type ArchiveSink interface {
	Archive(ctx context.Context, entries []*entity.AuditEntry) error
}

// NoopArchiveSink discards everything handed to it.
type NoopArchiveSink struct{}

// Archive implements ArchiveSink.
func (NoopArchiveSink) Archive(context.Context, []*entity.AuditEntry) error { return nil }

// Writer batches AuditEntry drafts, computes the SHA-256 hash chain within
// each batch, and persists it via repository.AuditRepository. The chain
// links batches by carrying the previous batch's terminal hash into the
// next (spec.md §4.9).
type Writer struct {
	repo    repository.AuditRepository
	archive ArchiveSink
	logger  *zap.Logger

	mu       sync.Mutex
	pending  []*entity.AuditEntry
	prevHash string
	nextSeq  int64

	batchSize int
	flush     chan struct{}
}

// NewWriter constructs a Writer and loads the current chain tail from
// repo so a restart resumes the chain rather than forking it.
func NewWriter(ctx context.Context, repo repository.AuditRepository, archive ArchiveSink, logger *zap.Logger) (*Writer, error) {
	if archive == nil {
		archive = NoopArchiveSink{}
	}
	w := &Writer{
		repo:      repo,
		archive:   archive,
		logger:    logger,
		prevHash:  Genesis,
		nextSeq:   1,
		batchSize: defaultBatchSize,
		flush:     make(chan struct{}, 1),
	}
	last, err := repo.Last(ctx)
	if err != nil {
		return nil, err
	}
	if last != nil {
		w.prevHash = last.Hash
		w.nextSeq = last.Seq + 1
	}
	return w, nil
}

// Start launches the background flush loop.
func (w *Writer) Start(ctx context.Context) {
	safego.Go(w.logger, "audit-writer", func() {
		ticker := time.NewTicker(defaultFlushTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				w.flushLocked(ctx)
				return
			case <-ticker.C:
				w.flushLocked(ctx)
			case <-w.flush:
				w.flushLocked(ctx)
			}
		}
	})
}

// Record appends a new audit entry to the pending batch, flushing
// immediately once batchSize is reached.
func (w *Writer) Record(draft entity.AuditEntry) {
	draft.Timestamp = time.Now().UTC()
	w.mu.Lock()
	w.pending = append(w.pending, &draft)
	full := len(w.pending) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.flush <- struct{}{}:
		default:
		}
	}
}

func (w *Writer) flushLocked(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	prev := w.prevHash
	seq := w.nextSeq
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	for _, e := range batch {
		// The writer, not the database, assigns Seq: the hash covers it,
		// so it has to be known before the row is inserted.
		e.Seq = seq
		seq++
		e.PrevHash = prev
		hash, err := hashEntry(prev, e)
		if err != nil {
			w.logger.Error("failed to hash audit entry", zap.Error(err))
			continue
		}
		e.Hash = hash
		prev = hash

		if err := w.repo.Append(ctx, e); err != nil {
			w.logger.Error("failed to append audit entry", zap.Error(err))
			continue
		}
	}

	w.mu.Lock()
	w.prevHash = prev
	w.nextSeq = seq
	w.mu.Unlock()

	if err := w.archive.Archive(ctx, batch); err != nil {
		w.logger.Warn("audit archive sink failed", zap.Error(err))
	}
}

// canonicalEntry is the field-ordered shape hashed for each entry, holding
// every field of entity.AuditEntry except Hash itself. Field order is
// fixed by this struct's declaration order, which is this module's
// deliberate single-process canonicalization (see DESIGN.md).
type canonicalEntry struct {
	Seq       int64  `json:"seq"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id"`
	APIKeyID  string `json:"api_key_id"`
	Action    string `json:"action"`
	Resource  string `json:"resource"`
	IP        string `json:"ip"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail"`
	PrevHash  string `json:"prev_hash"`
}

// hashEntry computes SHA-256(prevHash || canonical(entry-minus-hash)),
// spec.md §3's hash-chain invariant.
func hashEntry(prevHash string, e *entity.AuditEntry) (string, error) {
	canon, err := json.Marshal(canonicalEntry{
		Seq:       e.Seq,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		UserID:    e.Actor.UserID,
		APIKeyID:  e.Actor.APIKeyID,
		Action:    e.Action,
		Resource:  e.Resource,
		IP:        e.IP,
		Outcome:   e.Outcome,
		Detail:    e.Detail,
		PrevHash:  prevHash,
	})
	if err != nil {
		return "", apperr.InternalWithCause("canonicalize audit entry", err)
	}
	sum := sha256.Sum256(append([]byte(prevHash), canon...))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain recomputes every entry's hash in sequence order and reports
// the first mismatch, if any. A mismatch is surfaced, never
// auto-remediated (spec.md §4.9).
func VerifyChain(entries []*entity.AuditEntry) (ok bool, mismatchSeq int64) {
	prev := Genesis
	for _, e := range entries {
		got, err := hashEntry(prev, &entity.AuditEntry{
			Seq: e.Seq, Timestamp: e.Timestamp, Actor: e.Actor, Action: e.Action,
			Resource: e.Resource, IP: e.IP, Outcome: e.Outcome, Detail: e.Detail,
		})
		if err != nil || got != e.Hash || e.PrevHash != prev {
			return false, e.Seq
		}
		prev = e.Hash
	}
	return true, 0
}
