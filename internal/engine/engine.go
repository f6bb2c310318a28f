package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tripauth/internal/config"
	"tripauth/internal/domain"
	"tripauth/internal/engine/auth"
	"tripauth/internal/events"
	"tripauth/internal/logging"
	"tripauth/internal/perm"
	"tripauth/internal/repo"
)

// Engine is the delegation service. Every operation runs in one transaction
// whose reads feed the permission decision and whose writes carry the audit
// entry.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Catalog perm.Catalog
	Log     *logrus.Logger
	Now     func() time.Time

	// checkerFor replaces the escalation guard in tests.
	checkerFor func(tx *sql.Tx) checker
}

type checker interface {
	Check(ctx context.Context, actor domain.Actor, requested []string) (auth.Decision, error)
}

// New builds an engine over db. The catalog comes from cfg; a nil cfg uses
// the default configuration.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cat, err := cfg.PermissionCatalog()
	if err != nil {
		return Engine{}, fmt.Errorf("permission catalog: %w", err)
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Catalog: cat,
		Log:     logging.Discard(),
		Now:     time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log == nil {
		return logging.Discard()
	}
	return e.Log
}

func (e Engine) resolver(tx *sql.Tx) auth.Resolver {
	return auth.Resolver{Dir: e.Repo.View(tx), MaxDepth: e.Config.MaxDepth(), Log: e.log()}
}

func (e Engine) guard(tx *sql.Tx) checker {
	if e.checkerFor != nil {
		return e.checkerFor(tx)
	}
	return auth.Guard{Resolver: e.resolver(tx)}
}

// loadActor fetches the acting principal inside tx.
func (e Engine) loadActor(ctx context.Context, tx *sql.Tx, actorID string) (domain.Actor, error) {
	if actorID == "" {
		return domain.Actor{}, NotFoundError{Kind: "actor"}
	}
	a, err := e.Repo.GetActor(ctx, tx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return a, NotFoundError{Kind: "actor", ID: actorID}
	}
	if err != nil {
		return a, fmt.Errorf("load actor: %w", err)
	}
	return a, nil
}

type op struct {
	action     string
	targetKind string
	targetID   string
	actor      domain.Actor
}

func (o op) entry(status string, details events.Details) domain.AuditEntry {
	return domain.AuditEntry{
		Action:     o.action,
		ActorID:    o.actor.ID,
		ActorRole:  o.actor.Role,
		TargetKind: o.targetKind,
		TargetID:   o.targetID,
		Status:     status,
		Details:    details,
	}
}

func (e Engine) fields(o op, status string) logrus.Fields {
	return logrus.Fields{"op": o.action, "actor_id": o.actor.ID, "target_id": o.targetID, "status": status}
}

// succeed appends the success entry in tx and commits.
func (e Engine) succeed(ctx context.Context, tx *sql.Tx, o op, details events.Details) error {
	entry := o.entry(domain.AuditSuccess, details)
	entry.TS = e.stamp()
	if err := e.Events.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("audit %s: %w", o.action, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log().WithFields(e.fields(o, domain.AuditSuccess)).Info("delegation applied")
	return nil
}

// reject rolls tx back and, for forbidden and escalation failures, records a
// failure entry outside it before returning cause.
func (e Engine) reject(ctx context.Context, tx *sql.Tx, o op, cause error, details events.Details) error {
	_ = tx.Rollback()
	kind := KindOf(cause)
	fields := e.fields(o, domain.AuditFailure)
	fields["kind"] = string(kind)
	if kind != KindForbidden && kind != KindPrivilegeEscalation {
		e.log().WithFields(fields).WithError(cause).Debug("delegation rejected")
		return cause
	}
	if details == nil {
		details = events.Details{}
	}
	details["reason"] = string(kind)
	entry := o.entry(domain.AuditFailure, details)
	entry.TS = e.stamp()
	if err := e.Events.Append(ctx, nil, entry); err != nil {
		e.log().WithFields(fields).WithError(err).Error("failed to record rejected delegation")
		return errors.Join(cause, fmt.Errorf("audit %s: %w", o.action, err))
	}
	e.log().WithFields(fields).Warn("delegation rejected")
	return cause
}

// requireOwner rejects non-owner actors with a Forbidden failure.
func (e Engine) requireOwner(ctx context.Context, tx *sql.Tx, o op) error {
	if o.actor.Role.IsOwner() {
		return nil
	}
	return e.reject(ctx, tx, o, forbidden(o.actor, o.action), nil)
}

func forbidden(a domain.Actor, operation string) error {
	return auth.ForbiddenError{ActorID: a.ID, Role: a.Role, Operation: operation}
}

// escalation rejects with the guard's rejected list in the audit details.
func (e Engine) escalation(ctx context.Context, tx *sql.Tx, o op, requested []string, dec auth.Decision) error {
	return e.reject(ctx, tx, o, auth.EscalationError{ActorID: o.actor.ID, Rejected: dec.Rejected}, events.Details{
		"requested": requested,
		"rejected":  dec.Rejected,
	})
}

// normalizePermissions validates perms against the catalog.
func (e Engine) normalizePermissions(perms []string) ([]string, error) {
	if unknown := e.Catalog.Unknown(perms); len(unknown) > 0 {
		return nil, InvalidError{Field: "permissions", Reason: "unknown permissions " + strings.Join(unknown, ", ")}
	}
	return perm.Normalize(perms), nil
}

func validateEmail(email string) (string, error) {
	norm := repo.NormalizeEmail(email)
	if norm == "" {
		return "", InvalidError{Field: "email", Reason: "required"}
	}
	if _, err := mail.ParseAddress(norm); err != nil {
		return "", InvalidError{Field: "email", Reason: "not an address"}
	}
	return norm, nil
}

func newID() string {
	return uuid.NewString()
}

// RegisterOptions describe a top-level actor. Employees are created through
// CreateEmployee only.
type RegisterOptions struct {
	ID             string
	Role           domain.Role
	FirstName      string
	LastName       string
	Email          string
	CredentialHash string
}

// RegisterActor creates an owner or a customer. Owners receive the configured
// full-access profile, which is informational: owners resolve to every
// permission whatever it contains.
func (e Engine) RegisterActor(ctx context.Context, opts RegisterOptions) (domain.Actor, error) {
	if !opts.Role.Valid() {
		return domain.Actor{}, InvalidError{Field: "role", Reason: fmt.Sprintf("unknown role %q", opts.Role)}
	}
	if opts.Role == domain.RoleEmployee {
		return domain.Actor{}, InvalidError{Field: "role", Reason: "employees are created by their owner"}
	}
	email, err := validateEmail(opts.Email)
	if err != nil {
		return domain.Actor{}, err
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.stamp()
	a := domain.Actor{
		ID:             id,
		Role:           opts.Role,
		FirstName:      strings.TrimSpace(opts.FirstName),
		LastName:       strings.TrimSpace(opts.LastName),
		Email:          email,
		CredentialHash: opts.CredentialHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()

	o := op{action: "actor.register", targetKind: "actor", targetID: a.ID, actor: a}
	exists, err := e.Repo.EmailExists(ctx, tx, email)
	if err != nil {
		return domain.Actor{}, err
	}
	if exists {
		return domain.Actor{}, e.reject(ctx, tx, o, DuplicateIdentityError{Email: email}, nil)
	}
	if err := e.Repo.InsertActor(ctx, tx, a); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Actor{}, e.reject(ctx, tx, o, DuplicateIdentityError{Email: email}, nil)
		}
		return domain.Actor{}, err
	}
	details := events.Details{"role": string(a.Role), "email": a.Email}
	if a.Role.IsOwner() {
		p := domain.Profile{
			ID:          newID(),
			OwnerID:     a.ID,
			Name:        e.Config.OwnerProfile.Name,
			Description: e.Config.OwnerProfile.Description,
			Permissions: []string{perm.Wildcard},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertProfile(ctx, tx, p); err != nil {
			return domain.Actor{}, err
		}
		a.ProfileID = &p.ID
		if err := e.Repo.UpdateActor(ctx, tx, a); err != nil {
			return domain.Actor{}, err
		}
		details["profile_id"] = p.ID
	}
	if err := e.succeed(ctx, tx, o, details); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// Actor returns a stored actor by id.
func (e Engine) Actor(ctx context.Context, id string) (domain.Actor, error) {
	a, err := e.Repo.GetActor(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return a, NotFoundError{Kind: "actor", ID: id}
	}
	return a, err
}

func (e Engine) ActorByEmail(ctx context.Context, email string) (domain.Actor, error) {
	a, err := e.Repo.GetActorByEmail(ctx, nil, email)
	if errors.Is(err, repo.ErrNotFound) {
		return a, NotFoundError{Kind: "actor", ID: repo.NormalizeEmail(email)}
	}
	return a, err
}

// EffectivePermissions resolves actorID against one snapshot of the store.
func (e Engine) EffectivePermissions(ctx context.Context, actorID string) (domain.EffectivePermissions, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EffectivePermissions{}, err
	}
	defer tx.Rollback()

	a, err := e.loadActor(ctx, tx, actorID)
	if err != nil {
		return domain.EffectivePermissions{}, err
	}
	set, err := e.resolver(tx).Resolve(ctx, a)
	if err != nil {
		return domain.EffectivePermissions{}, err
	}
	return domain.EffectivePermissions{
		ActorID:     a.ID,
		Role:        a.Role,
		All:         set.IsAll(),
		Permissions: set.Slice(),
	}, nil
}

// CanAssign is a dry run of the escalation guard for actorID.
func (e Engine) CanAssign(ctx context.Context, actorID string, perms []string) (auth.Decision, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return auth.Decision{}, err
	}
	defer tx.Rollback()

	a, err := e.loadActor(ctx, tx, actorID)
	if err != nil {
		return auth.Decision{}, err
	}
	return e.guard(tx).Check(ctx, a, perm.Normalize(perms))
}

// AuditQuery filters AuditLog; zero values match everything.
type AuditQuery struct {
	ActorID    string
	Action     string
	Status     string
	TargetKind string
	TargetID   string
	Before     int64
	Limit      int
}

func (e Engine) AuditLog(ctx context.Context, q AuditQuery) ([]domain.AuditEntry, error) {
	switch q.Status {
	case "", domain.AuditSuccess, domain.AuditFailure:
	default:
		return nil, InvalidError{Field: "status", Reason: "must be success or failure"}
	}
	if q.Limit < 0 {
		return nil, InvalidError{Field: "limit", Reason: "must not be negative"}
	}
	return e.Repo.ListAudit(ctx, repo.AuditFilter{
		ActorID:    q.ActorID,
		Action:     q.Action,
		Status:     q.Status,
		TargetKind: q.TargetKind,
		TargetID:   q.TargetID,
		Before:     q.Before,
		Limit:      q.Limit,
	})
}

// PermissionCatalog returns the assignable permissions.
func (e Engine) PermissionCatalog() perm.Catalog {
	return e.Catalog
}
