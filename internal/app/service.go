package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"parley/api/internal/agents"
	"parley/api/internal/archive"
	"parley/api/internal/auth"
	"parley/api/internal/authpw"
	"parley/api/internal/blob"
	"parley/api/internal/chat"
	"parley/api/internal/config"
	"parley/api/internal/contract"
	"parley/api/internal/email"
	"parley/api/internal/export"
	"parley/api/internal/search"
	"parley/api/internal/store"
	"parley/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	Department   string
	JTI          string
	ExpiresAt    time.Time
}

// Consultation statuses mirror the dashboard filter chips.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

type dataStore interface {
	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	TouchLastLogin(context.Context, string) error
	UpdatePassword(context.Context, string, string) error
	InsertConsultation(context.Context, store.Consultation) (store.Consultation, error)
	GetConsultation(context.Context, string) (store.Consultation, error)
	ListConsultations(context.Context, string, int, int) (store.ConsultationPage, error)
	CountByStatus(context.Context) (store.StatusCounts, error)
	UpdateConsultation(context.Context, string, string, string, string, string) error
	DeleteConsultation(context.Context, string) error
	Ping(ctx context.Context) error
}

// SessionStore persists refresh tokens. Redis serves it in production with
// the Postgres store as fallback; both record a hashed token only.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	auth     *authpw.Service
	registry *chat.Registry
	exporter *export.Service

	search  *search.Service
	archive *archive.Service
	blobs   *blob.Store
	email   *email.Service
}

func New(cfg config.Config, pg *store.PostgresStore, sessions SessionStore, registry *chat.Registry, exporter *export.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    pg,
		sessions: sessions,
		auth:     authpw.NewService(pg),
		registry: registry,
		exporter: exporter,
	}
}

func (s *Service) WithSearch(svc *search.Service) *Service {
	s.search = svc
	return s
}

func (s *Service) WithArchive(svc *archive.Service) *Service {
	s.archive = svc
	return s
}

func (s *Service) WithBlobStore(blobs *blob.Store) *Service {
	s.blobs = blobs
	return s
}

func (s *Service) WithEmail(svc *email.Service) *Service {
	s.email = svc
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SignUp registers the account and signs the user in immediately.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.auth.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}

	if s.email != nil && s.email.IsConfigured() {
		go func(to, name string) {
			if err := s.email.SendWelcomeEmail(to, name); err != nil {
				log.Printf("welcome email to %s failed: %v", to, err)
			}
		}(user.Email, user.DisplayName)
	}

	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) EmailExists(ctx context.Context, emailAddr string) (bool, error) {
	return s.auth.EmailExists(ctx, emailAddr)
}

func (s *Service) ResetPassword(ctx context.Context, session Session, currentPassword, newPassword string) error {
	return s.auth.ResetPassword(ctx, session.UserID, currentPassword, newPassword)
}

// Refresh rotates the refresh token: the presented token is revoked and a
// fresh session pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}

	// The session store may carry the user id only.
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.DisplayName,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		Department:   user.Department,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		Email:      user.Email,
		Role:       user.Role,
		Department: user.Department,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the refresh token. Access tokens stay valid until they
// expire; the access TTL is short enough that a revocation list is not kept.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Dashboard returns one page of consultations matching the query plus the
// status counts for the filter chips.
func (s *Service) Dashboard(ctx context.Context, query string, page, pageSize int) (store.ConsultationPage, store.StatusCounts, error) {
	items, err := s.store.ListConsultations(ctx, query, page, pageSize)
	if err != nil {
		return store.ConsultationPage{}, store.StatusCounts{}, err
	}
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return store.ConsultationPage{}, store.StatusCounts{}, err
	}
	return items, counts, nil
}

func (s *Service) CreateConsultation(ctx context.Context, session Session, title, description, source string) (store.Consultation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Consultation{}, domainError(http.StatusBadRequest, "VALIDATION", "Title is required", nil)
	}

	item, err := s.store.InsertConsultation(ctx, store.Consultation{
		Title:       title,
		Description: strings.TrimSpace(description),
		Source:      strings.TrimSpace(source),
		Status:      StatusPending,
		CreatedBy:   session.UserID,
	})
	if err != nil {
		return store.Consultation{}, err
	}

	if s.archive != nil {
		if err := s.archive.EnsureRepo(item.ID, session.UserName); err != nil {
			log.Printf("archive init for %s failed: %v", item.ID, err)
		}
	}
	s.indexConsultation(item)

	return item, nil
}

func (s *Service) GetConsultation(ctx context.Context, id string) (store.Consultation, error) {
	return s.store.GetConsultation(ctx, id)
}

var validStatuses = map[string]struct{}{
	StatusPending:    {},
	StatusInProgress: {},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// UpdateConsultation patches the consultation header. Empty fields keep
// their current value; a status outside the known set is rejected.
func (s *Service) UpdateConsultation(ctx context.Context, id, title, description, source, status string) (store.Consultation, error) {
	item, err := s.store.GetConsultation(ctx, id)
	if err != nil {
		return store.Consultation{}, err
	}

	if strings.TrimSpace(title) != "" {
		item.Title = strings.TrimSpace(title)
	}
	if strings.TrimSpace(description) != "" {
		item.Description = strings.TrimSpace(description)
	}
	if strings.TrimSpace(source) != "" {
		item.Source = strings.TrimSpace(source)
	}
	if status != "" {
		if _, ok := validStatuses[status]; !ok {
			return store.Consultation{}, domainError(http.StatusBadRequest, "VALIDATION", "Unknown status", status)
		}
		item.Status = status
	}

	if err := s.store.UpdateConsultation(ctx, item.ID, item.Title, item.Description, item.Source, item.Status); err != nil {
		return store.Consultation{}, err
	}
	s.indexConsultation(item)
	return item, nil
}

func (s *Service) DeleteConsultation(ctx context.Context, id string) error {
	if err := s.store.DeleteConsultation(ctx, id); err != nil {
		return err
	}
	s.registry.Drop(id)
	if s.search != nil {
		s.search.DeleteConsultation(id)
	}
	return nil
}

// workspaceFor loads the consultation and resolves its chat workspace,
// creating one on first access.
func (s *Service) workspaceFor(ctx context.Context, consultationID string) (*chat.Workspace, store.Consultation, error) {
	item, err := s.store.GetConsultation(ctx, consultationID)
	if err != nil {
		return nil, store.Consultation{}, err
	}
	ws := s.registry.Workspace(contract.Details{
		ID:      item.ID,
		Title:   item.Title,
		Summary: item.Description,
		Source:  item.Source,
		Status:  item.Status,
	})
	return ws, item, nil
}

func (s *Service) WorkspaceSnapshot(ctx context.Context, consultationID string) (chat.Snapshot, error) {
	ws, _, err := s.workspaceFor(ctx, consultationID)
	if err != nil {
		return chat.Snapshot{}, err
	}
	return ws.Snapshot(), nil
}

func (s *Service) SelectChapter(ctx context.Context, consultationID, chapterID string) (chat.Snapshot, error) {
	ws, _, err := s.workspaceFor(ctx, consultationID)
	if err != nil {
		return chat.Snapshot{}, err
	}
	return ws.SelectChapter(chapterID), nil
}

func (s *Service) SelectSection(ctx context.Context, consultationID, sectionID string) (chat.Snapshot, error) {
	ws, _, err := s.workspaceFor(ctx, consultationID)
	if err != nil {
		return chat.Snapshot{}, err
	}
	return ws.SelectSection(sectionID), nil
}

func (s *Service) SendMessage(ctx context.Context, consultationID, text string) (chat.Snapshot, error) {
	ws, _, err := s.workspaceFor(ctx, consultationID)
	if err != nil {
		return chat.Snapshot{}, err
	}
	return ws.Send(ctx, text), nil
}

func (s *Service) SetSectionContent(ctx context.Context, consultationID, sectionID, text string) (chat.Snapshot, error) {
	ws, _, err := s.workspaceFor(ctx, consultationID)
	if err != nil {
		return chat.Snapshot{}, err
	}
	return ws.SetSectionContent(sectionID, text), nil
}

func (s *Service) ApproveSection(ctx context.Context, consultationID, sectionID string) (chat.Snapshot, error) {
	ws, _, err := s.workspaceFor(ctx, consultationID)
	if err != nil {
		return chat.Snapshot{}, err
	}
	return ws.ApproveSection(sectionID), nil
}

// ApproveAll approves every section and, once the whole tree is approved,
// marks the consultation completed.
func (s *Service) ApproveAll(ctx context.Context, session Session, consultationID string) (chat.Snapshot, error) {
	ws, item, err := s.workspaceFor(ctx, consultationID)
	if err != nil {
		return chat.Snapshot{}, err
	}

	snap := ws.ApproveAll()
	if snap.AllApproved && item.Status != StatusCompleted {
		if err := s.store.UpdateConsultation(ctx, item.ID, item.Title, item.Description, item.Source, StatusCompleted); err != nil {
			return chat.Snapshot{}, err
		}
		item.Status = StatusCompleted
		s.indexConsultation(item)
		s.commitSnapshot(consultationID, snap, session.UserName, "Approve all sections")
		s.notifyContractReady(ctx, item)
	}
	return snap, nil
}

// GenerateContract asks the contractor agent for a document and replaces the
// workspace tree with the result. A generated consultation moves to
// in_progress.
func (s *Service) GenerateContract(ctx context.Context, session Session, consultationID string, report agents.Report) (chat.Snapshot, error) {
	ws, item, err := s.workspaceFor(ctx, consultationID)
	if err != nil {
		return chat.Snapshot{}, err
	}

	snap, err := ws.Generate(ctx, report)
	if err != nil {
		return chat.Snapshot{}, domainError(http.StatusBadGateway, "AGENT_FAILED", "Contract generation failed", err.Error())
	}

	if item.Status == StatusPending {
		if err := s.store.UpdateConsultation(ctx, item.ID, item.Title, item.Description, item.Source, StatusInProgress); err != nil {
			return chat.Snapshot{}, err
		}
		item.Status = StatusInProgress
		s.indexConsultation(item)
	}
	s.commitSnapshot(consultationID, snap, session.UserName, "Generate contract draft")

	return snap, nil
}

// ExportContract renders the approved contract. Export is refused until
// every section is approved.
func (s *Service) ExportContract(ctx context.Context, session Session, consultationID string, format export.Format) (*export.Result, error) {
	ws, item, err := s.workspaceFor(ctx, consultationID)
	if err != nil {
		return nil, err
	}

	snap := ws.Snapshot()
	if !snap.AllApproved {
		return nil, domainError(http.StatusConflict, "CONTRACT_NOT_APPROVED", "All sections must be approved before export", nil)
	}

	title := snap.Envelope.Title
	if title == "" {
		title = item.Title
	}
	result, err := s.exporter.Export(export.Document{
		Title:               title,
		Preamble:            snap.Envelope.Preamble,
		ApplicableStandards: snap.Envelope.ApplicableStandards,
		Chapters:            snap.Chapters,
		Closing:             snap.Envelope.Closing,
	}, format)
	if err != nil {
		if errors.Is(err, export.ErrUnsupportedFormat) {
			return nil, domainError(http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil)
		}
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available on this host", nil)
		}
		return nil, err
	}

	s.commitSnapshot(consultationID, snap, session.UserName, "Export contract")
	if s.blobs != nil {
		go func(res export.Result) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.blobs.PutArtifact(ctx, consultationID, res.Filename, res.Data, res.MimeType); err != nil {
				log.Printf("artifact upload for %s failed: %v", consultationID, err)
			}
		}(*result)
	}

	return result, nil
}

func (s *Service) History(consultationID string, limit int) ([]archive.CommitInfo, error) {
	if s.archive == nil {
		return []archive.CommitInfo{}, nil
	}
	return s.archive.History(consultationID, limit)
}

func (s *Service) Search(query string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}
	}
	return s.search.Search(search.Query{Text: query, Limit: limit, Offset: offset})
}

func (s *Service) indexConsultation(item store.Consultation) {
	if s.search == nil {
		return
	}
	s.search.IndexConsultation(search.ConsultationRecord{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Status:      item.Status,
	})
}

func (s *Service) commitSnapshot(consultationID string, snap chat.Snapshot, author, message string) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.CommitSnapshot(consultationID, archive.Snapshot{
		Title:               snap.Envelope.Title,
		Preamble:            snap.Envelope.Preamble,
		ApplicableStandards: snap.Envelope.ApplicableStandards,
		Chapters:            snap.Chapters,
		Closing:             snap.Envelope.Closing,
	}, author, message); err != nil {
		log.Printf("archive commit for %s failed: %v", consultationID, err)
	}
}

func (s *Service) notifyContractReady(ctx context.Context, item store.Consultation) {
	if s.email == nil || !s.email.IsConfigured() || item.CreatedBy == "" {
		return
	}
	user, err := s.store.GetUserByID(ctx, item.CreatedBy)
	if err != nil {
		return
	}
	go func(to, name, title string) {
		if err := s.email.SendContractReadyEmail(to, name, title); err != nil {
			log.Printf("contract-ready email to %s failed: %v", to, err)
		}
	}(user.Email, user.DisplayName, item.Title)
}
