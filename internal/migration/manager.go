// Package migration moves data a user created as a guest into their account,
// on the device and on the remote service.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rflorenc/fitsync/internal/events"
	"github.com/rflorenc/fitsync/internal/history"
	"github.com/rflorenc/fitsync/internal/keyspace"
	"github.com/rflorenc/fitsync/internal/localstore"
	"github.com/rflorenc/fitsync/internal/models"
	"github.com/rflorenc/fitsync/internal/remote"
)

// Migration steps in execution order.
const (
	StepStarting         = "starting"
	StepRekeyLocal       = "rekey-local"
	StepFetchRemote      = "fetch-remote"
	StepDetectConflicts  = "detect-conflicts"
	StepResolveConflicts = "resolve-conflicts"
	StepCommitRemote     = "commit-remote"
	StepFinalize         = "finalize"
)

const cancelledByUser = "migration cancelled by user"

// Options configure a Manager. Local, Remote and History are required.
type Options struct {
	Local    localstore.Store
	Remote   remote.Store
	History  history.Store
	Resolver *keyspace.Resolver
	Policy   Policy
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

// Manager runs guest-to-account migrations and owns the observable
// migration state. At most one migration runs at a time.
type Manager struct {
	local    localstore.Store
	remote   remote.Store
	history  history.Store
	resolver *keyspace.Resolver
	policy   Policy
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	inventory *Inventory
	outbox    *Outbox
	rekeyer   *Rekeyer

	mu        sync.Mutex
	active    bool
	cancelReq bool
	finishing bool // past the last step; cancel requests are refused
	hasLocal  bool
	attempts  []*models.MigrationAttempt // newest first
	progress  *models.MigrationProgress
	result    *models.MigrationResult

	stateHub    events.Hub[models.MigrationState]
	progressHub events.Hub[models.MigrationProgress]
	resultHub   events.Hub[models.MigrationResult]
}

// NewManager creates a Manager and loads the attempt history.
func NewManager(opts Options) (*Manager, error) {
	if opts.Local == nil || opts.Remote == nil || opts.History == nil {
		return nil, errors.New("migration: local store, remote store and history are required")
	}
	m := &Manager{
		local:    opts.Local,
		remote:   opts.Remote,
		history:  opts.History,
		resolver: opts.Resolver,
		policy:   opts.Policy,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if m.resolver == nil {
		m.resolver = keyspace.NewResolver()
	}
	if m.policy.Default == "" && m.policy.Overrides == nil {
		m.policy = DefaultPolicy()
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	m.inventory = NewInventory(m.local, m.resolver, m.logger)
	m.outbox = NewOutbox(m.local)
	m.rekeyer = NewRekeyer(m.local, m.outbox, m.logger)

	attempts, err := m.history.List()
	if err != nil {
		return nil, fmt.Errorf("loading migration history: %w", err)
	}
	m.attempts = attempts
	m.hasLocal = m.inventory.HasLocalData()
	return m, nil
}

// Inventory returns the guest data inventory.
func (m *Manager) Inventory() *Inventory { return m.inventory }

// Resolver returns the session key resolver.
func (m *Manager) Resolver() *keyspace.Resolver { return m.resolver }

// Policy returns the conflict policy in use.
func (m *Manager) Policy() Policy { return m.policy }

// run carries the working set of one migration attempt between steps.
type run struct {
	accountID string
	attempt   *models.MigrationAttempt
	logger    *slog.Logger

	nothing    bool
	candidates []string          // pending keys with a local copy, sorted
	local      map[string][]byte // account-local payloads
	remote     map[string][]byte // remote payloads that exist
	failed     map[string]bool
	conflicts  []models.SyncConflict
	push       map[string][]byte // values to write remotely
	adopt      map[string][]byte // values to write to the account-local namespace
	adoptAfter map[string][]byte // adopt only once the push succeeded
	settled    []string          // keys needing no remote write
	stop       string            // set by a step that stopped part way
}

type step struct {
	name       string
	percentage int
	message    string
	fn         func(context.Context, *run) error
}

func (m *Manager) steps() []step {
	return []step{
		{StepRekeyLocal, 10, "Moving guest data to your account", m.rekeyLocal},
		{StepFetchRemote, 30, "Fetching your account data", m.fetchRemote},
		{StepDetectConflicts, 50, "Comparing local and account data", m.detectConflicts},
		{StepResolveConflicts, 65, "Resolving differences", m.resolveConflicts},
		{StepCommitRemote, 80, "Saving to your account", m.commitRemote},
	}
}

// StartProfileMigration migrates guest data into accountID and returns the
// outcome. Precondition failures (no account, a run already in flight) are
// returned as errors and record no attempt; everything that goes wrong once
// the run has started is reported in the result.
func (m *Manager) StartProfileMigration(ctx context.Context, accountID string) (*models.MigrationResult, error) {
	r, err := m.begin(accountID)
	if err != nil {
		return nil, err
	}
	return m.complete(ctx, r), nil
}

// StartAsync checks the preconditions and claims the single run slot like
// StartProfileMigration, then runs the migration on its own goroutine. The
// returned channel receives the result once and is then closed.
func (m *Manager) StartAsync(ctx context.Context, accountID string) (string, <-chan *models.MigrationResult, error) {
	r, err := m.begin(accountID)
	if err != nil {
		return "", nil, err
	}
	done := make(chan *models.MigrationResult, 1)
	go func() {
		defer close(done)
		done <- m.complete(ctx, r)
	}()
	return r.attempt.ID, done, nil
}

// begin validates accountID and marks the manager active.
func (m *Manager) begin(accountID string) (*run, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	if _, err := keyspace.AccountKey(outboxKey, accountID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil, ErrMigrationActive
	}
	m.active = true
	m.cancelReq = false
	m.finishing = false
	attempt := models.NewAttempt(m.newID(), accountID, m.now())
	m.result = nil
	m.progress = &models.MigrationProgress{
		AttemptID: attempt.ID,
		Status:    models.StatusPending,
		Step:      StepStarting,
		Message:   "Preparing migration",
	}
	progress := *m.progress
	m.mu.Unlock()
	m.progressHub.Publish(progress)
	m.publishState()

	return &run{
		accountID:  accountID,
		attempt:    attempt,
		logger:     m.logger.With("attempt", attempt.ID, "account", accountID),
		local:      make(map[string][]byte),
		remote:     make(map[string][]byte),
		failed:     make(map[string]bool),
		push:       make(map[string][]byte),
		adopt:      make(map[string][]byte),
		adoptAfter: make(map[string][]byte),
	}, nil
}

func (m *Manager) complete(ctx context.Context, r *run) *models.MigrationResult {
	r.logger.Info("migration started")
	stop := m.execute(ctx, r)
	if late := m.closeCancel(); stop == "" {
		stop = late
	}
	return m.finish(r, stop)
}

// execute runs the steps in order. It returns a non-empty reason when the
// run stopped early.
func (m *Manager) execute(ctx context.Context, r *run) string {
	for _, s := range m.steps() {
		if reason := m.stopReason(ctx); reason != "" {
			r.logger.Warn("migration stopped", "step", s.name, "reason", reason)
			return reason
		}
		m.setProgress(r.attempt.ID, models.StatusRunning, s.name, s.percentage, s.message)
		r.logger.Info("migration step", "step", s.name)
		if err := s.fn(ctx, r); err != nil {
			r.attempt.AddError(fmt.Sprintf("%s: %v", s.name, err))
			r.logger.Error("migration step failed", "step", s.name, "error", err)
			return "migration aborted during " + s.name
		}
		if r.stop != "" {
			return r.stop
		}
		if r.nothing {
			r.logger.Info("nothing to migrate")
			return ""
		}
	}
	return ""
}

// closeCancel stops accepting cancel requests and reports one that arrived
// after the last step boundary, so an accepted cancel is never ignored.
func (m *Manager) closeCancel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishing = true
	if m.cancelReq {
		return cancelledByUser
	}
	return ""
}

func (m *Manager) stopReason(ctx context.Context) string {
	m.mu.Lock()
	cancelled := m.cancelReq
	m.mu.Unlock()
	if cancelled {
		return cancelledByUser
	}
	if err := ctx.Err(); err != nil {
		return "migration interrupted: " + err.Error()
	}
	return ""
}

func (m *Manager) rekeyLocal(_ context.Context, r *run) error {
	res, err := m.rekeyer.MigrateGuestDataToUser(r.accountID)
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		r.attempt.AddError(e)
	}
	for _, w := range res.Warnings {
		r.attempt.AddWarning(w)
	}
	pending, err := m.outbox.Load(r.accountID)
	if err != nil {
		return fmt.Errorf("loading pending keys: %w", err)
	}
	if len(pending) == 0 {
		r.nothing = true
		return nil
	}
	r.candidates = pending
	return nil
}

func (m *Manager) fetchRemote(ctx context.Context, r *run) error {
	var candidates []string
	for _, key := range r.candidates {
		accountKey, err := keyspace.AccountKey(key, r.accountID)
		if err != nil {
			return err
		}
		raw, ok, err := m.local.Get(accountKey)
		if err != nil {
			r.attempt.AddError(fmt.Sprintf("%s: reading account copy: %v", key, err))
			continue
		}
		if !ok {
			r.attempt.AddWarning(fmt.Sprintf("%s: pending but the account copy is gone, dropping it", key))
			if err := m.outbox.Remove(r.accountID, key); err != nil {
				r.attempt.AddWarning(fmt.Sprintf("%s: clearing pending mark: %v", key, err))
			}
			continue
		}
		r.local[key] = raw
		candidates = append(candidates, key)

		remoteRaw, found, err := m.remote.GetAccountRecord(ctx, r.accountID, key)
		if err != nil {
			r.failed[key] = true
			r.attempt.AddError(fmt.Sprintf("%s: fetching remote copy: %v", key, err))
			r.logger.Warn("remote read failed, key stays pending", "key", key, "error", err)
			continue
		}
		if found {
			r.remote[key] = remoteRaw
		}
	}
	r.candidates = candidates
	return nil
}

func (m *Manager) detectConflicts(_ context.Context, r *run) error {
	for _, key := range r.candidates {
		if r.failed[key] {
			continue
		}
		local := r.local[key]
		remoteRaw, found := r.remote[key]
		switch {
		case !found:
			r.push[key] = local
		case SameContent(key, local, remoteRaw):
			r.settled = append(r.settled, key)
		default:
			r.conflicts = append(r.conflicts, models.SyncConflict{Key: key, GuestValue: local, RemoteValue: remoteRaw})
		}
	}
	return nil
}

func (m *Manager) resolveConflicts(_ context.Context, r *run) error {
	for _, c := range r.conflicts {
		d := m.policy.Resolve(c.Key, c.GuestValue, c.RemoteValue)
		if d.Warning != "" {
			r.attempt.AddWarning(d.Warning)
		}
		res := d.Resolution
		c.Resolution = &res
		r.attempt.AddConflict(c)
		r.logger.Info("conflict resolved", "key", c.Key, "action", res.Action, "reason", res.Reason)

		switch res.Action {
		case models.ResolutionKeepLocal:
			r.push[c.Key] = c.GuestValue
		case models.ResolutionMerge:
			r.push[c.Key] = res.Merged
			r.adoptAfter[c.Key] = res.Merged
		default:
			r.adopt[c.Key] = c.RemoteValue
			r.settled = append(r.settled, c.Key)
		}
	}
	return nil
}

func (m *Manager) commitRemote(ctx context.Context, r *run) error {
	done := append([]string{}, r.settled...)
	for _, key := range sortedKeysOf(r.push) {
		if reason := m.stopReason(ctx); reason != "" {
			r.stop = reason
			r.logger.Warn("migration stopped during commit, remaining keys stay pending", "next", key, "reason", reason)
			break
		}
		if err := m.remote.PutAccountRecord(ctx, r.accountID, key, r.push[key]); err != nil {
			r.attempt.AddError(fmt.Sprintf("%s: writing remote copy: %v", key, err))
			r.logger.Warn("remote write failed, key stays pending", "key", key, "error", err)
			continue
		}
		if v, ok := r.adoptAfter[key]; ok {
			r.adopt[key] = v
		}
		done = append(done, key)
	}

	for _, key := range sortedKeysOf(r.adopt) {
		accountKey, err := keyspace.AccountKey(key, r.accountID)
		if err != nil {
			return err
		}
		if err := m.local.Set(accountKey, r.adopt[key]); err != nil {
			r.attempt.AddWarning(fmt.Sprintf("%s: refreshing local copy from account: %v", key, err))
		}
	}

	sort.Strings(done)
	for _, key := range done {
		if err := m.outbox.Remove(r.accountID, key); err != nil {
			r.attempt.AddWarning(fmt.Sprintf("%s: clearing pending mark: %v", key, err))
		}
		r.attempt.AddMigrated(key)
	}
	return nil
}

// finish seals the attempt, records it and publishes the outcome.
func (m *Manager) finish(r *run, stop string) *models.MigrationResult {
	if stop != "" {
		r.attempt.AddWarning(stop)
	}
	success := stop == "" && len(r.attempt.Snapshot().Errors) == 0
	r.attempt.Seal(success, m.now())
	sealed := r.attempt.Snapshot()

	if err := m.history.Append(sealed); err != nil {
		r.logger.Error("recording migration attempt failed", "error", err)
	}

	result := models.ResultFromAttempt(sealed)
	result.NothingToMigrate = r.nothing
	hasLocal := m.inventory.HasLocalData()

	status, msg := models.StatusSucceeded, "Migration complete"
	switch {
	case stop == cancelledByUser:
		status, msg = models.StatusFailed, "Migration cancelled"
	case !success:
		status, msg = models.StatusFailed, "Migration finished with errors"
	case r.nothing:
		msg = "Nothing to migrate"
	}

	m.mu.Lock()
	m.active = false
	m.cancelReq = false
	m.finishing = false
	m.hasLocal = hasLocal
	m.attempts = append([]*models.MigrationAttempt{sealed}, m.attempts...)
	m.result = result
	m.progress = &models.MigrationProgress{
		AttemptID:  sealed.ID,
		Status:     status,
		Step:       StepFinalize,
		Percentage: 100,
		Message:    msg,
	}
	progress := *m.progress
	m.mu.Unlock()

	r.logger.Info("migration finished",
		"success", success,
		"migrated", len(result.MigratedKeys),
		"errors", len(result.Errors),
		"conflicts", len(result.Conflicts))

	m.progressHub.Publish(progress)
	m.resultHub.Publish(*result)
	m.publishState()
	return result
}

// CancelMigration asks the running migration to stop at the next step
// boundary, or before the next remote write while committing. It returns
// false when nothing is running or the run is already finishing.
func (m *Manager) CancelMigration() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.finishing {
		return false
	}
	m.cancelReq = true
	return true
}

// MigrateGuestDataToUser runs only the local rekey. It refuses to run while
// a full migration is in flight.
func (m *Manager) MigrateGuestDataToUser(accountID string) (*RekeyResult, error) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil, ErrMigrationActive
	}
	m.active = true
	m.mu.Unlock()
	m.publishState()

	res, err := m.rekeyer.MigrateGuestDataToUser(accountID)

	hasLocal := m.inventory.HasLocalData()
	m.mu.Lock()
	m.active = false
	m.hasLocal = hasLocal
	m.mu.Unlock()
	m.publishState()
	return res, err
}

// CheckProfileMigrationNeeded reports whether accountID still has work to
// do: keys left pending by an earlier run, or guest data on the device while
// the account has never completed a migration. A history read failure
// answers true; running a migration again is harmless.
func (m *Manager) CheckProfileMigrationNeeded(accountID string) bool {
	if accountID == "" {
		return false
	}
	if pending, err := m.outbox.Load(accountID); err == nil && len(pending) > 0 {
		return true
	}
	if !m.HasLocalData() {
		return false
	}
	attempts, err := m.history.List()
	if err != nil {
		m.logger.Warn("reading migration history failed", "account", accountID, "error", err)
		return true
	}
	return !history.HasSuccess(attempts, accountID)
}

// AssociateAccount binds the session to accountID for the sign-in flow and
// reports whether the device holds guest data worth migrating. Calling it
// again for the bound account only rescans; a different account is refused
// until the association is cleared.
func (m *Manager) AssociateAccount(accountID string) (bool, error) {
	if accountID == "" {
		return false, ErrMissingAccount
	}
	switch cur := m.resolver.Account(); {
	case cur == accountID:
		return m.HasLocalData(), nil
	case cur != "":
		return false, fmt.Errorf("%w: session is bound to %s", ErrAccountAssociated, cur)
	}

	// Guest data has to be inspected while the resolver still maps keys to
	// the guest namespace; afterwards the answer is refused.
	has, err := m.inventory.HasGuestDataForMigration()
	if err != nil {
		return false, err
	}
	if err := m.resolver.Associate(accountID); err != nil {
		return false, err
	}
	m.logger.Info("account associated", "account", accountID, "guest_data", has)

	m.mu.Lock()
	m.hasLocal = has
	m.mu.Unlock()
	m.publishState()
	return has, nil
}

// HasLocalData rescans the guest namespace and updates the state.
func (m *Manager) HasLocalData() bool {
	has := m.inventory.HasLocalData()
	m.mu.Lock()
	changed := m.hasLocal != has
	m.hasLocal = has
	m.mu.Unlock()
	if changed {
		m.publishState()
	}
	return has
}

func (m *Manager) setProgress(attemptID, status, stepName string, pct int, msg string) {
	m.mu.Lock()
	m.progress = &models.MigrationProgress{
		AttemptID:  attemptID,
		Status:     status,
		Step:       stepName,
		Percentage: pct,
		Message:    msg,
	}
	progress := *m.progress
	m.mu.Unlock()
	m.progressHub.Publish(progress)
	m.publishState()
}

func sortedKeysOf(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
