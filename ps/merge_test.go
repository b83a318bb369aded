package ps

import (
	"errors"
	"testing"
	"time"

	"github.com/nickyhof/StepDB/core"
)

// setupMergeBranches builds an archive with one shared snapshot and a
// feature branch pointing at the same commit as master.
func setupMergeBranches(t *testing.T) (*Persistence, core.Identity) {
	t.Helper()

	persistence, err := NewMemoryPersistence()
	if err != nil {
		t.Fatalf("NewMemoryPersistence failed: %v", err)
	}
	identity := core.Identity{Name: "Test", Email: "test@test.com"}

	_, err = persistence.SaveSnapshot("shared", []byte("base"), core.Snapshot{}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := persistence.Branch("feature", nil); err != nil {
		t.Fatalf("Branch failed: %v", err)
	}

	return &persistence, identity
}

func TestMergeFastForward(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	// Only the feature branch moves
	persistence.Checkout("feature")
	_, err := persistence.SaveSnapshot("extra", []byte("feature work"), core.Snapshot{}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot on feature failed: %v", err)
	}
	persistence.Checkout("master")

	result, err := persistence.Merge("feature", identity)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !result.FastForward {
		t.Error("Expected a fast-forward merge")
	}
	if !persistence.HasSnapshot("extra") {
		t.Error("Expected 'extra' snapshot on master after merge")
	}
}

func TestMergeAlreadyMerged(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	// Master moves ahead, feature stays at the shared base
	_, err := persistence.SaveSnapshot("shared", []byte("v2"), core.Snapshot{}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	result, err := persistence.Merge("feature", identity)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !result.FastForward {
		t.Error("Expected an already-merged branch to report fast-forward")
	}

	data, _, err := persistence.GetSnapshot("shared")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("Expected master content untouched, got '%s'", string(data))
	}
}

func TestMergeMissingBranch(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	_, err := persistence.Merge("missing", identity)
	if err == nil {
		t.Error("Expected error merging a non-existent branch")
	}
}

func TestMergeDisjointAdds(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	persistence.Checkout("feature")
	_, err := persistence.SaveSnapshot("theirs", []byte("from feature"), core.Snapshot{}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot on feature failed: %v", err)
	}

	persistence.Checkout("master")
	_, err = persistence.SaveSnapshot("mine", []byte("from master"), core.Snapshot{}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot on master failed: %v", err)
	}

	before := persistence.LatestTransaction()
	result, err := persistence.Merge("feature", identity)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if result.FastForward {
		t.Error("Expected a real merge, not a fast-forward")
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("Expected no conflicts, got %d", len(result.Conflicts))
	}
	if result.Merged != 1 {
		t.Errorf("Expected 1 merged snapshot, got %d", result.Merged)
	}
	if result.Transaction.Id == before.Id {
		t.Error("Expected the merge to create a new commit")
	}

	for _, name := range []string{"shared", "mine", "theirs"} {
		if !persistence.HasSnapshot(name) {
			t.Errorf("Expected snapshot '%s' after merge", name)
		}
	}

	data, _, err := persistence.GetSnapshot("theirs")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if string(data) != "from feature" {
		t.Errorf("Expected feature content, got '%s'", string(data))
	}
}

func TestMergeNewestWins(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	// Both branches overwrite the shared snapshot, feature saves later
	_, err := persistence.SaveSnapshot("shared", []byte("master edit"), core.Snapshot{CreatedAt: older}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot on master failed: %v", err)
	}

	persistence.Checkout("feature")
	_, err = persistence.SaveSnapshot("shared", []byte("feature edit"), core.Snapshot{CreatedAt: newer}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot on feature failed: %v", err)
	}
	persistence.Checkout("master")

	result, err := persistence.Merge("feature", identity)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if len(result.Conflicts) != 1 {
		t.Fatalf("Expected 1 auto-resolved conflict, got %d", len(result.Conflicts))
	}
	conflict := result.Conflicts[0]
	if conflict.Name != "shared" {
		t.Errorf("Expected conflict on 'shared', got '%s'", conflict.Name)
	}
	if conflict.Resolution != SideSource {
		t.Errorf("Expected the later save to win, got resolution '%s'", conflict.Resolution)
	}

	data, _, err := persistence.GetSnapshot("shared")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if string(data) != "feature edit" {
		t.Errorf("Expected 'feature edit' after merge, got '%s'", string(data))
	}
}

func TestMergeDeleteVsModify(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	// Feature deletes the snapshot, master keeps editing it
	persistence.Checkout("feature")
	_, err := persistence.DeleteSnapshot("shared", identity)
	if err != nil {
		t.Fatalf("DeleteSnapshot failed: %v", err)
	}
	persistence.Checkout("master")
	_, err = persistence.SaveSnapshot("shared", []byte("still here"), core.Snapshot{CreatedAt: time.Now()}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	result, err := persistence.Merge("feature", identity)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if len(result.Conflicts) != 1 {
		t.Fatalf("Expected 1 conflict, got %d", len(result.Conflicts))
	}
	if result.Conflicts[0].Source != nil {
		t.Error("Expected a nil source side for a deletion")
	}
	if result.Conflicts[0].Resolution != SideHead {
		t.Errorf("Expected the surviving image to win, got '%s'", result.Conflicts[0].Resolution)
	}

	data, _, err := persistence.GetSnapshot("shared")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if string(data) != "still here" {
		t.Errorf("Expected the modified image to survive, got '%s'", string(data))
	}
}

func TestMergeDeletionWins(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	// The base has a second snapshot that only feature touches
	_, err := persistence.SaveSnapshot("stale", []byte("old"), core.Snapshot{}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := persistence.DeleteBranch("feature"); err != nil {
		t.Fatalf("DeleteBranch failed: %v", err)
	}
	if err := persistence.Branch("feature", nil); err != nil {
		t.Fatalf("Branch failed: %v", err)
	}

	persistence.Checkout("feature")
	_, err = persistence.DeleteSnapshot("stale", identity)
	if err != nil {
		t.Fatalf("DeleteSnapshot failed: %v", err)
	}

	persistence.Checkout("master")
	_, err = persistence.SaveSnapshot("other", []byte("diverge"), core.Snapshot{}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	result, err := persistence.Merge("feature", identity)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("Expected no conflicts, got %d", len(result.Conflicts))
	}

	if persistence.HasSnapshot("stale") {
		t.Error("Expected an unmodified snapshot's deletion to carry over")
	}
	if !persistence.HasSnapshot("shared") {
		t.Error("Expected 'shared' to survive the merge")
	}
}

func TestMergeFastForwardOnlyRefusesDiverged(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	persistence.Checkout("feature")
	persistence.SaveSnapshot("theirs", []byte("a"), core.Snapshot{}, identity)
	persistence.Checkout("master")
	persistence.SaveSnapshot("mine", []byte("b"), core.Snapshot{}, identity)

	_, err := persistence.MergeWithOptions("feature", identity, MergeOptions{Strategy: MergeFastForwardOnly})
	if err == nil {
		t.Error("Expected fast-forward-only merge of diverged branches to fail")
	}
}

func TestMergeManualFlow(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	_, err := persistence.SaveSnapshot("shared", []byte("master edit"), core.Snapshot{}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot on master failed: %v", err)
	}
	persistence.Checkout("feature")
	_, err = persistence.SaveSnapshot("shared", []byte("feature edit"), core.Snapshot{}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot on feature failed: %v", err)
	}
	persistence.Checkout("master")

	result, err := persistence.MergeWithOptions("feature", identity, MergeOptions{Strategy: MergeManual})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !result.Pending {
		t.Fatal("Expected the merge to pause on conflicts")
	}
	if len(result.Unresolved) != 1 {
		t.Fatalf("Expected 1 unresolved conflict, got %d", len(result.Unresolved))
	}

	pending := persistence.GetPendingMerge()
	if pending == nil {
		t.Fatal("Expected a pending merge")
	}
	if pending.SourceBranch != "feature" {
		t.Errorf("Expected source branch 'feature', got '%s'", pending.SourceBranch)
	}

	// A second merge cannot start while one is pending
	_, err = persistence.Merge("feature", identity)
	if err == nil {
		t.Error("Expected error starting a merge while one is pending")
	}

	// Completing before resolving fails
	_, err = persistence.CompleteMerge(identity)
	if err == nil {
		t.Error("Expected error completing with unresolved conflicts")
	}

	if err := persistence.ResolveConflict("shared", SideSource); err != nil {
		t.Fatalf("ResolveConflict failed: %v", err)
	}

	txn, err := persistence.CompleteMerge(identity)
	if err != nil {
		t.Fatalf("CompleteMerge failed: %v", err)
	}
	if txn.Id == "" {
		t.Error("Expected the merge commit transaction")
	}
	if persistence.GetPendingMerge() != nil {
		t.Error("Expected the pending merge to be cleared")
	}

	data, _, err := persistence.GetSnapshot("shared")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if string(data) != "feature edit" {
		t.Errorf("Expected the resolved side's content, got '%s'", string(data))
	}
}

func TestMergeResolveUnknownConflict(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	_, err := persistence.SaveSnapshot("shared", []byte("master edit"), core.Snapshot{}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	persistence.Checkout("feature")
	persistence.SaveSnapshot("shared", []byte("feature edit"), core.Snapshot{}, identity)
	persistence.Checkout("master")

	_, err = persistence.MergeWithOptions("feature", identity, MergeOptions{Strategy: MergeManual})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if err := persistence.ResolveConflict("nope", SideHead); err == nil {
		t.Error("Expected error resolving a conflict that does not exist")
	}
	if err := persistence.ResolveConflict("shared", MergeSide("both")); err == nil {
		t.Error("Expected error for an invalid resolution side")
	}
}

func TestMergeAbort(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	before := persistence.LatestTransaction()

	_, err := persistence.SaveSnapshot("shared", []byte("master edit"), core.Snapshot{}, identity)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	persistence.Checkout("feature")
	persistence.SaveSnapshot("shared", []byte("feature edit"), core.Snapshot{}, identity)
	persistence.Checkout("master")

	_, err = persistence.MergeWithOptions("feature", identity, MergeOptions{Strategy: MergeManual})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if err := persistence.AbortMerge(); err != nil {
		t.Fatalf("AbortMerge failed: %v", err)
	}
	if persistence.GetPendingMerge() != nil {
		t.Error("Expected no pending merge after abort")
	}

	// Master still carries its own edit, not the base
	data, _, err := persistence.GetSnapshot("shared")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if string(data) != "master edit" {
		t.Errorf("Expected master content after abort, got '%s'", string(data))
	}
	if persistence.LatestTransaction().Id == before.Id {
		t.Error("Expected master's own commit to remain")
	}

	err = persistence.AbortMerge()
	if !errors.Is(err, ErrNoPendingMerge) {
		t.Errorf("Expected ErrNoPendingMerge, got %v", err)
	}
}

func TestMergeHistoryHasTwoParents(t *testing.T) {
	persistence, identity := setupMergeBranches(t)

	persistence.Checkout("feature")
	persistence.SaveSnapshot("theirs", []byte("a"), core.Snapshot{}, identity)
	persistence.Checkout("master")
	persistence.SaveSnapshot("mine", []byte("b"), core.Snapshot{}, identity)

	result, err := persistence.Merge("feature", identity)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	// Both lines of history stay reachable from the merge commit
	transactions := persistence.TransactionsFrom(result.Transaction.Id)
	if len(transactions) != 4 {
		t.Errorf("Expected 4 reachable commits (base, two edits, merge), got %d", len(transactions))
	}
}
