// Package invites implements the invitation flow: inviting a new user into
// an organisation and redeeming the invitation to activate the account.
//
// An invited user starts with an Invited basic-user enrolment and no linked
// external identity. Redeeming the invitation links the identity and moves
// the enrolment to Enrolled, the only legal exit from Invited.
package invites

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"

	"github.com/google/uuid"

	accountsmetrics "packreg/internal/accounts/metrics"
	"packreg/internal/accounts/models"
	"packreg/internal/accounts/store"
	"packreg/internal/audit"
	id "packreg/pkg/domain"
	dErrors "packreg/pkg/domain-errors"
	"packreg/pkg/email"
	"packreg/pkg/platform/sentinel"
	"packreg/pkg/requestcontext"
)

// Authorizer is the slice of the predicate engine the invitation flow
// consumes.
type Authorizer interface {
	CanManageUsers(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID, service models.ServiceKey) (bool, error)
}

// AuditPublisher receives domain events for the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service carries the invitation operations.
type Service struct {
	store          store.Store
	authz          Authorizer
	tokens         *TokenService
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *accountsmetrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *accountsmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs an invitation Service.
func New(graph store.Store, authorizer Authorizer, tokens *TokenService, opts ...Option) *Service {
	s := &Service{store: graph, authz: authorizer, tokens: tokens}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// InviteRequest is the payload inviting a new user into an organisation.
type InviteRequest struct {
	FirstName  string
	LastName   string
	Email      string
	PersonRole models.PersonRole
	JobTitle   string
}

// Validate enforces the fields every invitation needs. Names are optional:
// missing ones are derived from the email's local part.
func (r *InviteRequest) Validate() error {
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return dErrors.New(dErrors.CodeValidation, "a valid email address is required")
	}
	if !r.PersonRole.Valid() {
		return dErrors.New(dErrors.CodeValidation, "unsupported person role")
	}
	return nil
}

// Invitation is what InviteUser hands back: the created ids and the one-time
// token the caller delivers to the invitee.
type Invitation struct {
	UserID       id.UserID
	PersonID     id.PersonID
	ConnectionID id.ConnectionID
	EnrolmentID  id.EnrolmentID
	Token        string
}

// InviteUser creates the user, person, connection, and Invited basic-user
// enrolment for a new member of the organisation, and returns the signed
// invitation token. The token itself is never stored, only its hash.
func (s *Service) InviteUser(ctx context.Context, actorUserID id.UserID, orgID id.OrganisationID, req InviteRequest) (*Invitation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	allowed, err := s.authz.CanManageUsers(ctx, actorUserID, orgID, models.ServicePackaging)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorised to manage users")
	}

	org, err := s.store.GetOrganisation(ctx, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "organisation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organisation")
	}
	if org.IsDeleted {
		return nil, dErrors.New(dErrors.CodeNotFound, "organisation not found")
	}

	firstName, lastName := req.FirstName, req.LastName
	if firstName == "" || lastName == "" {
		derivedFirst, derivedLast := email.DeriveNameFromEmail(req.Email)
		if firstName == "" {
			firstName = derivedFirst
		}
		if lastName == "" {
			lastName = derivedLast
		}
	}

	now := requestcontext.Now(ctx)
	userID := id.UserID(uuid.New())

	token, err := s.tokens.GenerateInviteToken(uuid.UUID(userID), uuid.UUID(orgID), now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign invite token")
	}
	tokenHash, err := HashToken(token)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash invite token")
	}

	user := &models.User{
		ID:              userID,
		Email:           req.Email,
		InviteTokenHash: tokenHash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	person := &models.Person{
		ID:        id.PersonID(uuid.New()),
		UserID:    userID,
		FirstName: firstName,
		LastName:  lastName,
		Email:     req.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	conn, err := models.NewConnection(id.ConnectionID(uuid.New()), person.ID, orgID, req.PersonRole, req.JobTitle, now)
	if err != nil {
		return nil, err
	}
	basicRole, err := models.ServiceRoleFor(models.ServicePackaging, models.RoleBasicUser)
	if err != nil {
		return nil, err
	}
	enrolment, err := models.NewEnrolment(id.EnrolmentID(uuid.New()), conn.ID, basicRole.ID, models.EnrolmentStatusInvited, now)
	if err != nil {
		return nil, err
	}

	stamp := store.AuditStamp{ActorUserID: actorUserID, OrganisationID: orgID, RequestID: requestcontext.RequestID(ctx)}
	err = s.store.RunInTx(ctx, stamp, func(ctx context.Context) error {
		if err := s.store.CreateUser(ctx, user); err != nil {
			return err
		}
		if err := s.store.CreatePerson(ctx, person); err != nil {
			return err
		}
		if err := s.store.CreateConnection(ctx, conn); err != nil {
			return err
		}
		return s.store.CreateEnrolment(ctx, enrolment)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "person is already connected to the organisation")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist invitation")
	}

	if s.metrics != nil {
		s.metrics.InviteCreated()
	}
	s.emitAudit(ctx, audit.Event{
		ActorUserID:    actorUserID,
		OrganisationID: orgID,
		Action:         audit.ActionUserInvited,
		Subject:        userID.String(),
	})
	s.logger.Info("user invited",
		"user_id", userID.String(),
		"organisation_id", orgID.String())
	return &Invitation{
		UserID:       userID,
		PersonID:     person.ID,
		ConnectionID: conn.ID,
		EnrolmentID:  enrolment.ID,
		Token:        token,
	}, nil
}

// AcceptInvite redeems an invitation token: the external identity the invitee
// signed in with is linked to the user, the token hash is consumed, and the
// Invited enrolment moves to Enrolled.
func (s *Service) AcceptInvite(ctx context.Context, token string, externalIdentityID uuid.UUID) error {
	if externalIdentityID == uuid.Nil {
		return dErrors.New(dErrors.CodeBadRequest, "external identity id is required")
	}
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return err
	}
	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid invite token claims")
	}
	orgID, err := id.ParseOrganisationID(claims.OrganisationID)
	if err != nil {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid invite token claims")
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid invite token")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if user.IsDeleted || !user.HasPendingInvite() || !CompareToken(user.InviteTokenHash, token) {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid invite token")
	}

	person, err := s.store.GetPersonByUserID(ctx, userID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load person")
	}
	enrolment, err := s.store.FindEnrolment(ctx, store.FindEnrolmentFilter{
		OrganisationID: orgID,
		PersonID:       person.ID,
		Status:         models.EnrolmentStatusInvited,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no matching enrolment")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to find enrolment")
	}

	now := requestcontext.Now(ctx)
	if err := enrolment.Transition(models.EnrolmentStatusEnrolled, now); err != nil {
		return err
	}
	user.ClearInvite(externalIdentityID, now)

	stamp := store.AuditStamp{ActorUserID: userID, OrganisationID: orgID, RequestID: requestcontext.RequestID(ctx)}
	err = s.store.RunInTx(ctx, stamp, func(ctx context.Context) error {
		if err := s.store.UpdateUser(ctx, user); err != nil {
			return err
		}
		return s.store.UpdateEnrolment(ctx, enrolment)
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist invite acceptance")
	}

	if s.metrics != nil {
		s.metrics.InviteAccepted()
	}
	s.emitAudit(ctx, audit.Event{
		ActorUserID:    userID,
		OrganisationID: orgID,
		Action:         audit.ActionInviteAccepted,
		Subject:        userID.String(),
	})
	return nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed",
			"action", string(event.Action),
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
	}
}
