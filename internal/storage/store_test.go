package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

func openStores(t *testing.T) map[string]interfaces.Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "realm.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]interfaces.Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func node(id, saga, user string, parent *string, chapter int, at time.Time) *models.StoryNode {
	return &models.StoryNode{
		ID:            id,
		SagaID:        saga,
		UserID:        user,
		ParentID:      parent,
		Summary:       "summary " + id,
		Content:       "content " + id,
		Status:        models.StatusActive,
		ChapterNumber: chapter,
		CreatedAt:     at,
	}
}

func TestNodeRoundTripAndOrdering(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			root := node("a", "s1", "u1", nil, 1, base)
			root.Outline = &models.ChapterOutline{
				Goals:    []string{"arrive"},
				Beats:    []models.Beat{{Beat: 1, Description: "the gate"}},
				Synopsis: "You arrive.",
			}
			child2 := node("c", "s1", "u1", models.StringPtr("a"), 2, base.Add(2*time.Second))
			child1 := node("b", "s1", "u1", models.StringPtr("a"), 2, base.Add(time.Second))
			other := node("x", "s2", "u1", nil, 1, base)

			for _, n := range []*models.StoryNode{child2, root, child1, other} {
				if err := store.CreateNode(ctx, n); err != nil {
					t.Fatalf("CreateNode(%s): %v", n.ID, err)
				}
			}

			got, err := store.GetNode(ctx, "a")
			if err != nil {
				t.Fatalf("GetNode: %v", err)
			}
			if got.ParentID != nil || got.Outline == nil || got.Outline.Beats[0].Description != "the gate" {
				t.Fatalf("root did not round trip: %+v", got)
			}

			list, err := store.ListNodes(ctx, "s1")
			if err != nil {
				t.Fatalf("ListNodes: %v", err)
			}
			var ids []string
			for _, n := range list {
				ids = append(ids, n.ID)
			}
			if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
				t.Fatalf("order = %v, want [a b c]", ids)
			}
			if list[1].ParentID == nil || *list[1].ParentID != "a" {
				t.Fatalf("child parent lost: %+v", list[1])
			}

			if _, err := store.GetNode(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
				t.Fatalf("GetNode(missing) err = %v", err)
			}
		})
	}
}

func TestUpdateNodeRewritesContentOnly(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			n := node("a", "s1", "u1", nil, 1, time.Now())
			n.Outline = &models.ChapterOutline{Synopsis: "old"}
			if err := store.CreateNode(ctx, n); err != nil {
				t.Fatalf("CreateNode: %v", err)
			}

			content, summary := "new content", "new summary"
			updated, err := store.UpdateNode(ctx, "a", models.NodePatch{
				Content:    &content,
				Summary:    &summary,
				Outline:    &models.ChapterOutline{Synopsis: "new"},
				SetOutline: true,
			})
			if err != nil {
				t.Fatalf("UpdateNode: %v", err)
			}
			if updated.Content != content || updated.Summary != summary || updated.Outline.Synopsis != "new" {
				t.Fatalf("unexpected update result %+v", updated)
			}

			reloaded, _ := store.GetNode(ctx, "a")
			if reloaded.ChapterNumber != 1 || reloaded.ParentID != nil || reloaded.Content != content {
				t.Fatalf("unexpected reloaded node %+v", reloaded)
			}

			if _, err := store.UpdateNode(ctx, "missing", models.NodePatch{}); !errors.Is(err, models.ErrNotFound) {
				t.Fatalf("UpdateNode(missing) err = %v", err)
			}
		})
	}
}

func TestScopedDeletesAndReparent(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			nodes := []*models.StoryNode{
				node("r", "s1", "u1", nil, 1, now),
				node("m", "s1", "u1", models.StringPtr("r"), 2, now),
				node("l1", "s1", "u1", models.StringPtr("m"), 3, now),
				node("l2", "s1", "u1", models.StringPtr("m"), 3, now),
				node("foreign", "s1", "u2", models.StringPtr("m"), 3, now),
			}
			for _, n := range nodes {
				if err := store.CreateNode(ctx, n); err != nil {
					t.Fatalf("CreateNode: %v", err)
				}
			}
			scope := models.Scope{SagaID: "s1", UserID: "u1"}

			moved, err := store.Reparent(ctx, scope, "m", models.StringPtr("r"))
			if err != nil {
				t.Fatalf("Reparent: %v", err)
			}
			if moved != 2 {
				t.Fatalf("moved = %d, want 2 (foreign owner excluded)", moved)
			}
			foreign, _ := store.GetNode(ctx, "foreign")
			if *foreign.ParentID != "m" {
				t.Fatalf("foreign node must keep its parent")
			}

			if err := store.DeleteNode(ctx, models.Scope{SagaID: "s1", UserID: "u2"}, "m"); !errors.Is(err, models.ErrNotFound) {
				t.Fatalf("out-of-scope delete err = %v", err)
			}
			if err := store.DeleteNode(ctx, scope, "m"); err != nil {
				t.Fatalf("DeleteNode: %v", err)
			}

			n, err := store.DeleteNodes(ctx, scope, []string{"l1", "l2", "foreign"})
			if err != nil || n != 2 {
				t.Fatalf("DeleteNodes = %d, %v; want 2", n, err)
			}

			if _, err := store.Reparent(ctx, scope, "missing-parent", nil); err != nil {
				t.Fatalf("Reparent to roots: %v", err)
			}

			n, err = store.DeleteSagaNodes(ctx, models.Scope{SagaID: "s1"})
			if err != nil || n != 2 {
				t.Fatalf("DeleteSagaNodes = %d, %v; want 2", n, err)
			}
		})
	}
}

func TestSagaCRUD(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			saga := &models.Saga{
				ID: "s1", UserID: "u1", Title: "Ashfall", WorldName: "Emberreach",
				Premise: "A courier wakes in a burned city.", TotalChapters: 10,
				CreatedAt: now, UpdatedAt: now,
			}
			if err := store.CreateSaga(ctx, saga); err != nil {
				t.Fatalf("CreateSaga: %v", err)
			}

			mode := models.ModeStorywriter
			updated, err := store.UpdateSaga(ctx, "s1", models.SagaPatch{StoryMode: &mode})
			if err != nil {
				t.Fatalf("UpdateSaga: %v", err)
			}
			if updated.StoryMode != models.ModeStorywriter || updated.Title != "Ashfall" {
				t.Fatalf("unexpected saga %+v", updated)
			}

			list, err := store.ListSagas(ctx, "u1")
			if err != nil || len(list) != 1 {
				t.Fatalf("ListSagas = %v, %v", list, err)
			}
			if list, _ := store.ListSagas(ctx, "u2"); len(list) != 0 {
				t.Fatalf("other owner sees %d sagas", len(list))
			}

			if err := store.DeleteSaga(ctx, "s1"); err != nil {
				t.Fatalf("DeleteSaga: %v", err)
			}
			if _, err := store.GetSaga(ctx, "s1"); !errors.Is(err, models.ErrNotFound) {
				t.Fatalf("GetSaga after delete err = %v", err)
			}
		})
	}
}

func TestSQLiteTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "tx.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	if err := store.CreateNode(ctx, node("a", "s1", "u1", nil, 1, time.Now())); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}

	boom := errors.New("boom")
	err = store.InTx(ctx, func(tx interfaces.NodeStore) error {
		if err := tx.DeleteNode(ctx, models.Scope{SagaID: "s1"}, "a"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v", err)
	}
	if _, err := store.GetNode(ctx, "a"); err != nil {
		t.Fatalf("node should survive rollback: %v", err)
	}
}

func TestOpenMemoryDriver(t *testing.T) {
	store, err := Open(context.Background(), config.StorageConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("got %T", store)
	}
	if _, err := Open(context.Background(), config.StorageConfig{Driver: "etcd"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
