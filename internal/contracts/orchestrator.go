// Package contracts sequences the four signing packs through the external
// e-signature provider and mirrors their status locally. Completion evidence
// can arrive from the provider callback or from polling; whichever lands
// first wins and the other becomes a no-op.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"havenhomes/internal/esign"
	"havenhomes/pkg/domain"
	"havenhomes/pkg/store"
)

var (
	ErrUnknownPack = errors.New("unknown contract pack")
	// ErrPackLocked is returned when a pack is started before every prior
	// pack has completed.
	ErrPackLocked = errors.New("previous contract pack not completed")
)

// signer is the slice of the e-signature client the orchestrator needs.
type signer interface {
	CreateSession(ctx context.Context, buildID string, pack domain.ContractPack) (esign.Session, error)
	Status(ctx context.Context, buildID string) (map[domain.ContractPack]domain.PackStatus, error)
}

// Archiver stores the signed artifacts of a completed pack.
type Archiver interface {
	ArchivePack(ctx context.Context, buildID string, pack domain.ContractPack) error
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store    store.Store
	Signer   signer
	Archiver Archiver
	// OnAllCompleted fires once when every pack of a build has completed.
	OnAllCompleted func(buildID string)
	PollInterval   time.Duration
}

// Orchestrator drives per-build contract signing.
type Orchestrator struct {
	store          store.Store
	signer         signer
	archiver       Archiver
	onAllCompleted func(buildID string)
	pollInterval   time.Duration

	mu      sync.Mutex
	pollers map[string]context.CancelFunc
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer required")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 4500 * time.Millisecond
	}
	return &Orchestrator{
		store:          cfg.Store,
		signer:         cfg.Signer,
		archiver:       cfg.Archiver,
		onAllCompleted: cfg.OnAllCompleted,
		pollInterval:   interval,
		pollers:        make(map[string]context.CancelFunc),
	}, nil
}

// Statuses returns the locally mirrored pack states, defaulting any missing
// pack to not_started.
func (o *Orchestrator) Statuses(buildID string) (map[domain.ContractPack]domain.PackStatus, error) {
	states, err := o.store.GetPackStates(buildID)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.ContractPack]domain.PackStatus, len(domain.PackOrder))
	for _, pack := range domain.PackOrder {
		if status, ok := states[pack]; ok {
			out[pack] = status
		} else {
			out[pack] = domain.PackNotStarted
		}
	}
	return out, nil
}

// Create initializes the pack mirror for a build. Calling it again leaves
// existing progress untouched.
func (o *Orchestrator) Create(buildID string) error {
	states, err := o.store.GetPackStates(buildID)
	if err != nil {
		return err
	}
	for _, pack := range domain.PackOrder {
		if _, ok := states[pack]; ok {
			continue
		}
		if err := o.store.SavePackState(buildID, pack, domain.PackNotStarted, ""); err != nil {
			return err
		}
	}
	return nil
}

// AcknowledgeSummary completes the summary pack. It requires only an explicit
// "reviewed" acknowledgment, never an external signature.
func (o *Orchestrator) AcknowledgeSummary(ctx context.Context, buildID string) error {
	return o.Complete(ctx, buildID, domain.PackSummary)
}

// Start begins signing for a pack: it validates sequencing, requests a
// hosted session URL, and marks the pack in progress.
func (o *Orchestrator) Start(ctx context.Context, buildID string, pack domain.ContractPack) (string, error) {
	if !validPack(pack) {
		return "", ErrUnknownPack
	}
	if pack == domain.PackSummary {
		return "", fmt.Errorf("summary pack is acknowledged, not signed")
	}
	states, err := o.Statuses(buildID)
	if err != nil {
		return "", err
	}
	if err := o.checkSequence(states, pack); err != nil {
		return "", err
	}
	if states[pack] == domain.PackCompleted {
		return "", fmt.Errorf("pack %s already completed", pack)
	}
	session, err := o.signer.CreateSession(ctx, buildID, pack)
	if err != nil {
		return "", fmt.Errorf("create signing session: %w", err)
	}
	if err := o.store.SavePackState(buildID, pack, domain.PackInProgress, session.URL); err != nil {
		return "", err
	}
	return session.URL, nil
}

// checkSequence enforces that every pack before target has completed.
func (o *Orchestrator) checkSequence(states map[domain.ContractPack]domain.PackStatus, target domain.ContractPack) error {
	for _, pack := range domain.PackOrder {
		if pack == target {
			return nil
		}
		if states[pack] != domain.PackCompleted {
			return fmt.Errorf("%w: %s", ErrPackLocked, pack)
		}
	}
	return ErrUnknownPack
}

// Complete records completion evidence for a pack. Idempotent: completing an
// already-completed pack is a no-op, so the callback and the poller cannot
// double-process. The signed artifacts are archived before completion is
// recorded; the provider purges documents after its retention window, so an
// archive failure must leave the pack in progress for the next completion
// signal to retry.
func (o *Orchestrator) Complete(ctx context.Context, buildID string, pack domain.ContractPack) error {
	if !validPack(pack) {
		return ErrUnknownPack
	}
	o.mu.Lock()
	states, err := o.Statuses(buildID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if states[pack] == domain.PackCompleted {
		o.mu.Unlock()
		return nil
	}
	if err := o.checkSequence(states, pack); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	// Archive outside the lock so a slow provider or bucket does not stall
	// completions and polling for every other build.
	if o.archiver != nil && pack != domain.PackSummary {
		if err := o.archiver.ArchivePack(ctx, buildID, pack); err != nil {
			slog.Warn("contract archive failed", "build_id", buildID, "pack", pack, "err", err)
			return fmt.Errorf("archive pack %s: %w", pack, err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	// Re-read: another signal may have won the race while we archived.
	states, err = o.Statuses(buildID)
	if err != nil {
		return err
	}
	if states[pack] == domain.PackCompleted {
		return nil
	}
	if err := o.checkSequence(states, pack); err != nil {
		return err
	}
	if err := o.store.SavePackState(buildID, pack, domain.PackCompleted, ""); err != nil {
		return err
	}
	states[pack] = domain.PackCompleted

	if allCompleted(states) {
		o.stopPollingLocked(buildID)
		if o.onAllCompleted != nil {
			o.onAllCompleted(buildID)
		}
	}
	return nil
}

// Fail marks a pack as failed or voided based on provider evidence.
func (o *Orchestrator) Fail(buildID string, pack domain.ContractPack, status domain.PackStatus) error {
	if !validPack(pack) {
		return ErrUnknownPack
	}
	if status != domain.PackFailed && status != domain.PackVoided {
		return fmt.Errorf("status %s is not a failure terminal", status)
	}
	return o.store.SavePackState(buildID, pack, status, "")
}

// HandleCallback is the message-passing completion signal from the signing
// window.
func (o *Orchestrator) HandleCallback(ctx context.Context, buildID string, pack domain.ContractPack) error {
	return o.Complete(ctx, buildID, pack)
}

// StartPolling begins the periodic status poll for a build. A second call
// for the same build is a no-op while the first poller lives. The poller
// stops on completion of all packs or on ctx cancellation.
func (o *Orchestrator) StartPolling(ctx context.Context, buildID string) {
	o.mu.Lock()
	if _, running := o.pollers[buildID]; running {
		o.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	o.pollers[buildID] = cancel
	o.mu.Unlock()

	go o.pollLoop(pollCtx, buildID)
}

// StopPolling cancels the poller for a build, if any.
func (o *Orchestrator) StopPolling(buildID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopPollingLocked(buildID)
}

func (o *Orchestrator) stopPollingLocked(buildID string) {
	if cancel, ok := o.pollers[buildID]; ok {
		cancel()
		delete(o.pollers, buildID)
	}
}

func (o *Orchestrator) pollLoop(ctx context.Context, buildID string) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			done, err := o.pollOnce(ctx, buildID)
			if err != nil {
				slog.Warn("contract status poll failed", "build_id", buildID, "err", err)
				continue
			}
			if done {
				o.StopPolling(buildID)
				return
			}
		}
	}
}

// pollOnce reconciles provider state into the local mirror. Returns true
// when every pack has completed.
func (o *Orchestrator) pollOnce(ctx context.Context, buildID string) (bool, error) {
	remote, err := o.signer.Status(ctx, buildID)
	if err != nil {
		return false, err
	}
	for _, pack := range domain.PackOrder {
		switch remote[pack] {
		case domain.PackCompleted:
			if err := o.Complete(ctx, buildID, pack); err != nil {
				return false, err
			}
		case domain.PackFailed, domain.PackVoided:
			if err := o.Fail(buildID, pack, remote[pack]); err != nil {
				return false, err
			}
		}
	}
	states, err := o.Statuses(buildID)
	if err != nil {
		return false, err
	}
	return allCompleted(states), nil
}

// ResumeAll restarts polling for every build currently at the contract step,
// e.g. after a process restart.
func (o *Orchestrator) ResumeAll(ctx context.Context) error {
	builds, err := o.store.ListBuilds()
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, build := range builds {
		if build.Step != domain.StepContract {
			continue
		}
		buildID := build.ID
		g.Go(func() error {
			if _, err := o.pollOnce(gctx, buildID); err != nil {
				slog.Warn("resume poll failed", "build_id", buildID, "err", err)
				return nil
			}
			o.StartPolling(ctx, buildID)
			return nil
		})
	}
	return g.Wait()
}

func allCompleted(states map[domain.ContractPack]domain.PackStatus) bool {
	for _, pack := range domain.PackOrder {
		if states[pack] != domain.PackCompleted {
			return false
		}
	}
	return true
}

func validPack(pack domain.ContractPack) bool {
	for _, p := range domain.PackOrder {
		if p == pack {
			return true
		}
	}
	return false
}
