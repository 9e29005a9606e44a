package update

import (
	"path/filepath"
	"testing"

	"aether.dev/kernel/boot"
	"aether.dev/kernel/kerrors"
)

func newTestManager(t *testing.T) (*Manager, *Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "update.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	m := NewManager(DefaultConfig(), boot.NewKeyStore(), store, nil)
	return m, store
}

func packageWithCode(id, moduleID string, code []byte) Package {
	checksum, _ := boot.Sum(boot.HashSHA256, code)
	return Package{
		ID:             id,
		Name:           id,
		Version:        Version{Major: 1, Minor: 0, Patch: 1},
		TargetModuleID: moduleID,
		Code:           code,
		Checksum:       checksum,
		AutoRollback:   true,
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	m, _ := newTestManager(t)
	pkg := packageWithCode("p1", "net", []byte("v1"))
	if err := m.Register(pkg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := m.Register(pkg); kerrors.CodeOf(err) != kerrors.AlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestRegisterRejectsCycle(t *testing.T) {
	m, _ := newTestManager(t)
	a := packageWithCode("a", "net", []byte("a"))
	a.Dependencies = []string{"b"}
	b := packageWithCode("b", "net", []byte("b"))
	b.Dependencies = []string{"a"}

	_ = m.Register(b)
	err := m.Register(a)
	if kerrors.CodeOf(err) != kerrors.DependencyError {
		t.Fatalf("expected DependencyError for cycle, got %v", err)
	}
}

func TestApplyUpdateSucceeds(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterModule("net", Version{Major: 1}, []byte("old-code"))

	pkg := packageWithCode("p1", "net", []byte("new-code"))
	if err := m.Register(pkg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := m.ApplyUpdate("p1")
	if err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if result.FinalState != StatusCompleted {
		t.Fatalf("expected Completed, got %v", result.FinalState)
	}
	st, _ := m.Status("p1")
	if st != StatusCompleted {
		t.Fatalf("expected package status Completed, got %v", st)
	}
}

func TestApplyUpdateFailsOnChecksumMismatchWithoutRollback(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterModule("net", Version{Major: 1}, []byte("old-code"))

	pkg := packageWithCode("p1", "net", []byte("new-code"))
	pkg.Checksum = []byte("wrong")
	if err := m.Register(pkg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := m.ApplyUpdate("p1")
	if kerrors.CodeOf(err) != kerrors.VerificationFailed {
		t.Fatalf("expected VerificationFailed, got %v", err)
	}

	// Checksum failure happens at step 2, before any backup exists at
	// step 7, so no rollback should have been attempted.
	for _, e := range m.Events() {
		if e.Type == EventRollbackStarted {
			t.Fatalf("did not expect a rollback attempt before any backup was created")
		}
	}
}

func TestApplyUpdateFailsOnPostApplyChecksumMismatchAndRollsBack(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterModule("net", Version{Major: 1}, []byte("old-code"))

	pkg := packageWithCode("p1", "net", []byte("new-code"))
	pkg.PostApplyChecksum = []byte("deliberately wrong installed-region checksum")
	if err := m.Register(pkg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := m.ApplyUpdate("p1")
	if kerrors.CodeOf(err) != kerrors.ApplyError {
		t.Fatalf("expected ApplyError from post-apply verification, got %v", err)
	}

	st, _ := m.Status("p1")
	if st != StatusCompleted {
		// rollback restores the package's own status to Completed on
		// success; see Manager.rollback.
		t.Fatalf("expected rollback to leave package status Completed, got %v", st)
	}

	mod := m.modules["net"]
	if string(mod.code) != "old-code" {
		t.Fatalf("expected rollback to restore prior module code, got %q", mod.code)
	}
	if mod.version != (Version{Major: 1}) {
		t.Fatalf("module version should not have been left at the new version after rollback, got %v", mod.version)
	}

	sawRollback := false
	for _, e := range m.Events() {
		if e.Type == EventRollbackStarted {
			sawRollback = true
		}
	}
	if !sawRollback {
		t.Fatalf("expected a rollback attempt after the post-apply checksum failed")
	}
}

func TestApplyUpdateRejectsConcurrentInFlight(t *testing.T) {
	m, _ := newTestManager(t)
	if !m.inProgress.CompareAndSwap(false, true) {
		t.Fatalf("setup: expected to acquire flag")
	}
	defer m.inProgress.Store(false)

	_, err := m.ApplyUpdate("anything")
	if kerrors.CodeOf(err) != kerrors.PrerequisiteError {
		t.Fatalf("expected PrerequisiteError for concurrent apply, got %v", err)
	}
}

func TestApplyUpdateRejectsUnmetDependency(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterModule("net", Version{Major: 1}, []byte("old-code"))

	dep := packageWithCode("dep", "net", []byte("dep-code"))
	_ = m.Register(dep)

	pkg := packageWithCode("p1", "net", []byte("new-code"))
	pkg.Dependencies = []string{"dep"}
	_ = m.Register(pkg)

	_, err := m.ApplyUpdate("p1")
	if kerrors.CodeOf(err) != kerrors.DependencyError {
		t.Fatalf("expected DependencyError, got %v", err)
	}
}

func TestApplyUpdateRejectsBelowPrerequisiteVersion(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterModule("net", Version{Major: 1}, []byte("old-code"))

	pkg := packageWithCode("p1", "net", []byte("new-code"))
	prereq := Version{Major: 2}
	pkg.PrerequisiteVersion = &prereq
	_ = m.Register(pkg)

	_, err := m.ApplyUpdate("p1")
	if kerrors.CodeOf(err) != kerrors.PrerequisiteError {
		t.Fatalf("expected PrerequisiteError, got %v", err)
	}
}
