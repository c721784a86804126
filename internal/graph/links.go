package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-commonbase/commonbase/internal/entry"
)

// LinkStore is the subset of the entry store link maintenance needs.
// MutateMetadata serializes concurrent writers per entry, which makes each
// adjacency-list update atomic even though the protocol as a whole is
// deliberately not transactional.
type LinkStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entry.Entry, error)
	CountByIDs(ctx context.Context, ids []uuid.UUID) (int, error)
	MutateMetadata(ctx context.Context, id uuid.UUID, fn func(md *entry.Metadata) error) (*entry.Entry, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Linker maintains the links/backlinks adjacency lists.
//
// The protocol is best-effort by design: secondary updates (a neighbor's
// backlink, cleanup on delete) are logged when they fail and never block
// the primary operation.
type Linker struct {
	store  LinkStore
	logger *slog.Logger
}

// NewLinker creates a Linker.
func NewLinker(store LinkStore, logger *slog.Logger) (*Linker, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{store: store, logger: logger}, nil
}

// Join links id to every entry in linkIDs: linkIDs are appended to id's
// links and id is appended to each target's backlinks, both deduplicated.
//
// All ids are validated up front; a missing entry fails the whole join
// with entry.ErrNotFound before anything is written. Once the primary
// links write has landed, a failed backlink update on a target is logged
// and the remaining targets still get theirs.
func (l *Linker) Join(ctx context.Context, id uuid.UUID, linkIDs []uuid.UUID) error {
	if len(linkIDs) == 0 {
		return fmt.Errorf("link ids are required")
	}

	if _, err := l.store.Get(ctx, id); err != nil {
		return err
	}

	count, err := l.store.CountByIDs(ctx, linkIDs)
	if err != nil {
		return fmt.Errorf("validating link targets: %w", err)
	}
	if count != len(linkIDs) {
		return fmt.Errorf("some linked entries missing: %w", entry.ErrNotFound)
	}

	_, err = l.store.MutateMetadata(ctx, id, func(md *entry.Metadata) error {
		for _, linkID := range linkIDs {
			md.AddLink(linkID.String())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating links of %s: %w", id, err)
	}

	for _, linkID := range linkIDs {
		_, err := l.store.MutateMetadata(ctx, linkID, func(md *entry.Metadata) error {
			md.AddBacklink(id.String())
			return nil
		})
		if err != nil {
			l.logger.Warn("failed to update backlinks on joined entry",
				"link_id", linkID, "id", id, "error", err)
		}
	}

	return nil
}

// BacklinkParent appends childID to the parent's backlinks. Used after
// creating an entry that points at a parent.
//
// Best-effort: a missing parent or failed update is logged and swallowed,
// the child entry already exists and must not be rolled back.
func (l *Linker) BacklinkParent(ctx context.Context, parentID, childID uuid.UUID) {
	_, err := l.store.MutateMetadata(ctx, parentID, func(md *entry.Metadata) error {
		md.AddBacklink(childID.String())
		return nil
	})
	if err != nil {
		l.logger.Warn("failed to update parent backlinks",
			"parent_id", parentID, "child_id", childID, "error", err)
	}
}

// DeleteCascade removes the entry after stripping its id from the links
// and backlinks of every connected entry.
//
// Per-neighbor cleanup failures are logged and skipped; a half-cleaned
// neighborhood is preferred over a surviving entry. Returns
// entry.ErrNotFound if the entry doesn't exist.
func (l *Linker) DeleteCascade(ctx context.Context, id uuid.UUID) (*entry.Entry, error) {
	e, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ref := id.String()
	for _, relatedStr := range e.Metadata.ConnectedIDs() {
		relatedID, parseErr := uuid.Parse(relatedStr)
		if parseErr != nil {
			l.logger.Warn("skipping malformed related id", "id", relatedStr)
			continue
		}
		_, mutErr := l.store.MutateMetadata(ctx, relatedID, func(md *entry.Metadata) error {
			md.RemoveRef(ref)
			return nil
		})
		if mutErr != nil {
			l.logger.Warn("failed to clean references on related entry",
				"related_id", relatedID, "deleted_id", id, "error", mutErr)
		}
	}

	if err := l.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return e, nil
}
