package update

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"aether.dev/kernel/boot"
	"aether.dev/kernel/kerrors"
)

// Config carries the manager's tunables (§6.1).
type Config struct {
	DefaultAutoRollback bool
	SignaturePurpose    string
}

// DefaultConfig returns auto-rollback enabled and the "KernelUpdate"
// signature usage tag.
func DefaultConfig() Config {
	return Config{DefaultAutoRollback: true, SignaturePurpose: "KernelUpdate"}
}

type moduleState struct {
	version Version
	code    []byte
}

// Manager is the dynamic update manager (spec module E). The package
// registry and installed-module table share an RWMutex since lookups
// vastly outnumber registrations; history and event logs each get
// their own Mutex since they are append-only and independent of the
// registry.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	packages map[string]*Package
	statuses map[string]Status
	modules  map[string]*moduleState

	inProgress atomic.Bool

	histMu  sync.Mutex
	history []Result

	evMu   sync.Mutex
	events []Event

	keys   *boot.KeyStore
	store  *Store
	logger *slog.Logger
}

// NewManager wires a manager over a key store (for signature checks)
// and a backup/snapshot store.
func NewManager(cfg Config, keys *boot.KeyStore, store *Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		packages: make(map[string]*Package),
		statuses: make(map[string]Status),
		modules:  make(map[string]*moduleState),
		keys:     keys,
		store:    store,
		logger:   logger,
	}
}

// RegisterModule seeds the manager's view of a target module's
// currently installed version and code, so PrerequisiteVersion checks
// and backups have something to compare/save against.
func (m *Manager) RegisterModule(moduleID string, version Version, code []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[moduleID] = &moduleState{version: version, code: append([]byte(nil), code...)}
}

// Register adds an immutable update package to the registry.
// Dependencies need not be registered yet (unknown ids are accepted and
// not followed); the dependency graph (including this package) must
// remain acyclic over the packages already registered (§3.7, supplemented
// from original_source).
func (m *Manager) Register(pkg Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.packages[pkg.ID]; exists {
		return kerrors.New(kerrors.AlreadyExists, "update.Manager.Register", "package id already registered")
	}
	if err := checkCycle(m.packages, pkg.ID, pkg.Dependencies); err != nil {
		return err
	}
	copied := pkg
	copied.Code = append([]byte(nil), pkg.Code...)
	copied.PostApplyChecksum = append([]byte(nil), pkg.PostApplyChecksum...)
	copied.Dependencies = append([]string(nil), pkg.Dependencies...)
	m.packages[pkg.ID] = &copied
	m.statuses[pkg.ID] = StatusInitial
	return nil
}

// Status returns a package's current lifecycle state.
func (m *Manager) Status(id string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[id]
	return s, ok
}

func (m *Manager) setStatus(id string, s Status, detail string) {
	m.mu.Lock()
	m.statuses[id] = s
	m.mu.Unlock()
	m.recordEvent(id, EventStateTransition, detail+": -> "+s.String())
}

func (m *Manager) recordEvent(id string, typ EventType, detail string) {
	m.evMu.Lock()
	defer m.evMu.Unlock()
	m.events = append(m.events, Event{PackageID: id, Type: typ, Detail: detail, At: time.Now()})
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
}

func (m *Manager) recordResult(r Result) {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	m.history = append(m.history, r)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

// History returns a defensive copy of the bounded apply-result history
// (cap 1000).
func (m *Manager) History() []Result {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	out := make([]Result, len(m.history))
	copy(out, m.history)
	return out
}

// Events returns a defensive copy of the bounded event log (cap 5000).
func (m *Manager) Events() []Event {
	m.evMu.Lock()
	defer m.evMu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ApplyUpdate runs the full 13-step protocol from §4.5 against the
// registered package id. Only one update may be Applying or
// RollingBack at a time, enforced by a CAS on inProgress.
func (m *Manager) ApplyUpdate(id string) (Result, error) {
	if !m.inProgress.CompareAndSwap(false, true) {
		return Result{}, kerrors.New(kerrors.PrerequisiteError, "update.Manager.ApplyUpdate", "another update is already in flight")
	}
	defer m.inProgress.Store(false)

	result := Result{PackageID: id, StartedAt: time.Now()}

	pkg, backupID, prevVersion, err := m.runApplySteps(id)
	result.FinishedAt = time.Now()
	if err != nil {
		result.Err = err.Error()
		if pkg != nil {
			if pkg.AutoRollback && backupID != "" {
				if rbErr := m.rollback(id, pkg.TargetModuleID, backupID, prevVersion); rbErr != nil {
					result.Err = err.Error() + "; rollback also failed: " + rbErr.Error()
				}
			} else {
				m.setStatus(id, StatusFailed, "apply")
			}
		}
		if st, ok := m.Status(id); ok {
			result.FinalState = st
		} else {
			result.FinalState = StatusFailed
		}
		m.recordResult(result)
		return result, err
	}

	result.FinalState = StatusCompleted
	result.RebootNeeded = pkg.RequiresReboot
	m.recordResult(result)
	return result, nil
}

// runApplySteps performs steps 1-12; step 13 (schedule cleanup, emit
// success) is the caller's responsibility since it is purely
// bookkeeping. It returns the package (for rollback decisions even on
// failure), the backup id created at step 7 (if one was created), and
// the module's version as of just before step 9 overwrote it (so a
// caller-invoked rollback can restore it alongside the code backup).
func (m *Manager) runApplySteps(id string) (*Package, string, Version, error) {
	// Step 1: load package by id; clone under read lock.
	m.mu.RLock()
	pkg, ok := m.packages[id]
	m.mu.RUnlock()
	if !ok {
		return nil, "", Version{}, kerrors.New(kerrors.NotFound, "update.Manager.ApplyUpdate", "package not registered")
	}
	clone := *pkg

	m.setStatus(id, StatusVerifying, "apply")

	// Step 2: verify package integrity.
	checksum, _ := boot.Sum(boot.HashSHA256, clone.Code)
	if !bytesEqual(checksum, clone.Checksum) {
		return &clone, "", Version{}, kerrors.New(kerrors.VerificationFailed, "update.Manager.ApplyUpdate", "checksum mismatch")
	}
	if len(clone.Signature) > 0 && m.keys != nil {
		ok, err := m.verifyAnyKey(checksum, clone.Signature)
		if err != nil || !ok {
			return &clone, "", Version{}, kerrors.New(kerrors.VerificationFailed, "update.Manager.ApplyUpdate", "signature verification failed")
		}
	}

	// Step 3: dependency check.
	for _, dep := range clone.Dependencies {
		st, ok := m.Status(dep)
		if !ok || st != StatusCompleted {
			return &clone, "", Version{}, kerrors.New(kerrors.DependencyError, "update.Manager.ApplyUpdate", "dependency "+dep+" is not Completed")
		}
	}

	m.setStatus(id, StatusPreparing, "apply")

	// Step 4: prerequisite-version check.
	m.mu.RLock()
	mod, modOK := m.modules[clone.TargetModuleID]
	m.mu.RUnlock()
	if !modOK {
		return &clone, "", Version{}, kerrors.New(kerrors.PrerequisiteError, "update.Manager.ApplyUpdate", "target module not registered")
	}
	if clone.PrerequisiteVersion != nil && mod.version.Less(*clone.PrerequisiteVersion) {
		return &clone, "", Version{}, kerrors.New(kerrors.PrerequisiteError, "update.Manager.ApplyUpdate", "installed version below prerequisite")
	}

	// Step 5: conflict check against in-flight updates targeting the
	// same module (the global CAS already guarantees at most one
	// update is Applying/RollingBack system-wide, so a same-module
	// conflict cannot arise concurrently; this check guards against a
	// caller re-entering ApplyUpdate for the same module id).
	m.mu.RLock()
	for otherID, st := range m.statuses {
		if otherID == id {
			continue
		}
		if (st == StatusApplying || st == StatusRollingBack) && m.packages[otherID].TargetModuleID == clone.TargetModuleID {
			m.mu.RUnlock()
			return &clone, "", Version{}, kerrors.New(kerrors.PrerequisiteError, "update.Manager.ApplyUpdate", "conflicting in-flight update for target module")
		}
	}
	m.mu.RUnlock()

	var backupID string
	if m.store != nil {
		// Step 6: system snapshot.
		if _, err := m.store.CreateSnapshot([]byte(clone.TargetModuleID)); err != nil {
			return &clone, "", Version{}, err
		}
		// Step 7: backup of target module's current code region.
		bid, err := m.store.CreateBackup(mod.code)
		if err != nil {
			return &clone, "", Version{}, err
		}
		backupID = bid
	}

	m.setStatus(id, StatusApplying, "apply")

	// Step 8: pre-process patch (relocations, address resolution) --
	// a no-op placeholder here since this core has no real linker.
	patched := preprocessPatch(clone.Code, clone.Method)

	// Step 9: apply patch.
	m.mu.Lock()
	prevVersion := mod.version
	mod.code = patched
	mod.version = clone.Version
	m.mu.Unlock()

	// Step 10: post-apply verification. Re-read the installed region
	// from the module table rather than reusing the local `patched`
	// slice, and compare it against the package's declared post-apply
	// checksum (falling back to the source checksum when the package
	// did not declare a distinct one) rather than a value re-derived
	// from the same bytes just written. A check against re-derived
	// bytes could never observe a divergence between what was written
	// and what was intended.
	m.mu.RLock()
	installed := append([]byte(nil), mod.code...)
	m.mu.RUnlock()
	wantChecksum := clone.PostApplyChecksum
	if len(wantChecksum) == 0 {
		wantChecksum = clone.Checksum
	}
	postChecksum, _ := boot.Sum(boot.HashSHA256, installed)
	if !bytesEqual(postChecksum, wantChecksum) {
		return &clone, backupID, prevVersion, kerrors.New(kerrors.ApplyError, "update.Manager.ApplyUpdate", "post-apply checksum mismatch")
	}

	// Step 11: update module state (version bump already done above;
	// dependency graph is immutable post-registration in this core).
	m.recordEvent(id, EventStepCompleted, "module state updated to "+clone.Version.String())

	// Step 12: final verification.
	if len(patched) == 0 {
		return &clone, backupID, prevVersion, kerrors.New(kerrors.ApplyError, "update.Manager.ApplyUpdate", "final verification found empty code region")
	}

	m.setStatus(id, StatusCompleted, "apply")
	return &clone, backupID, prevVersion, nil
}

// preprocessPatch is a placeholder relocation/address-resolution pass;
// this core has no real linker, so it returns the code unchanged.
func preprocessPatch(code []byte, _ PatchMethod) []byte {
	return append([]byte(nil), code...)
}

func (m *Manager) verifyAnyKey(digest, signature []byte) (bool, error) {
	for _, k := range m.keys.Candidates(m.cfg.SignaturePurpose, time.Now()) {
		ok, err := boot.VerifySignature(k.Type, k.KeyBytes, signature, digest)
		if err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}

// rollback reverses step 9 against the saved backup, in the opposite
// order: restore code and version, then flag the package Failed or
// Completed depending on whether the restore itself succeeds.
func (m *Manager) rollback(id, targetModuleID, backupID string, prevVersion Version) error {
	m.setStatus(id, StatusRollingBack, "rollback")
	m.recordEvent(id, EventRollbackStarted, "restoring backup "+backupID)

	if m.store == nil {
		m.setStatus(id, StatusFailed, "rollback")
		return kerrors.New(kerrors.RollbackError, "update.Manager.rollback", "no backup store configured")
	}
	code, err := m.store.GetBackup(backupID)
	if err != nil {
		m.setStatus(id, StatusFailed, "rollback")
		return kerrors.Wrap(kerrors.RollbackError, "update.Manager.rollback", err)
	}

	m.mu.Lock()
	mod, ok := m.modules[targetModuleID]
	if ok {
		mod.code = code
		mod.version = prevVersion
	}
	m.mu.Unlock()
	if !ok {
		m.setStatus(id, StatusFailed, "rollback")
		return kerrors.New(kerrors.RollbackError, "update.Manager.rollback", "target module vanished during rollback")
	}

	m.setStatus(id, StatusCompleted, "rollback")
	m.recordEvent(id, EventRollbackCompleted, "restored from backup "+backupID)
	return nil
}

// CleanupExpiredBackups deletes every backup whose id is passed in
// (step 13's cleanup); it does not check backup age or backupRetention.
// Since Store does not track backup creation time
// itself, callers that want real expiry should track backup ids
// alongside their creation timestamp and call DeleteBackup directly;
// this helper exists for callers content with a fixed-size ring of ids.
func (m *Manager) CleanupExpiredBackups(backupIDs []string) {
	if m.store == nil {
		return
	}
	for _, id := range backupIDs {
		_ = m.store.DeleteBackup(id)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
