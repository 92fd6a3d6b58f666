package app

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/crypto/blake2b"

	"chronicle/editor/internal/auth"
	"chronicle/editor/internal/config"
	"chronicle/editor/internal/export"
	"chronicle/editor/internal/gitrepo"
	"chronicle/editor/internal/presence"
	"chronicle/editor/internal/rbac"
	"chronicle/editor/internal/search"
	"chronicle/editor/internal/store"
	"chronicle/editor/internal/suggest"
	"chronicle/editor/internal/util"
)

// Session is the authenticated caller of a request.
type Session struct {
	Token    string
	UserID   string
	UserName string
	Role     string
	Tier     string
}

type dataStore interface {
	Ping(context.Context) error
	EnsureUser(context.Context, store.User) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) (store.Document, error)
	UpdateDocumentContent(context.Context, string, string, string, string) (store.Document, error)
	ListTemplates(context.Context) ([]store.Template, error)
	GetTemplate(context.Context, string) (store.Template, error)
	ReplacePendingSuggestions(context.Context, string, []store.Suggestion) error
	GetSuggestion(context.Context, string, string) (store.Suggestion, error)
	DecideSuggestion(context.Context, string, string, string, string) (bool, error)
	InsertExportJob(context.Context, store.ExportJob) (store.ExportJob, error)
	GetExportJob(context.Context, string) (store.ExportJob, error)
	ListExportJobs(context.Context, string) ([]store.ExportJob, error)
	CompleteExportJob(context.Context, string, string, string) error
	FailExportJob(context.Context, string, string) error
	ReplacePassages(context.Context, string, []store.Passage) ([]string, error)
}

type versionStore interface {
	EnsureDocumentRepo(string, gitrepo.Content, string) error
	CommitContent(string, gitrepo.Content, string, string) (gitrepo.Version, bool, error)
	Restore(string, string, string) (gitrepo.Content, gitrepo.Version, error)
	History(string, int) ([]gitrepo.Version, error)
}

type presenceStore interface {
	Touch(context.Context, string, presence.Collaborator) error
	Leave(context.Context, string, string) error
	Roster(context.Context, string) ([]presence.Collaborator, error)
}

type artifactStore interface {
	Put(context.Context, string, []byte, string) error
	Open(context.Context, string) (io.ReadCloser, int64, error)
	PresignGet(context.Context, string, string, time.Duration) (*url.URL, error)
}

type exportRenderer interface {
	Export(context.Context, export.Document, export.Format, export.Options) (*export.Result, error)
	Supports(export.Format) bool
}

type suggestionGenerator interface {
	Generate(context.Context, suggest.Input) ([]suggest.Suggestion, error)
}

type passageIndexer interface {
	IndexDocument([]search.PassageRecord, []string)
}

type exportNotifier interface {
	Notify()
}

// Deps are the collaborators of a Service. Presence, Search and Worker
// are optional.
type Deps struct {
	Store     dataStore
	Versions  versionStore
	Presence  presenceStore
	Artifacts artifactStore
	Renderer  exportRenderer
	Suggester suggestionGenerator
	Search    passageIndexer
	Worker    exportNotifier
	Policy    config.ExportPolicy
	Logger    *slog.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	versions  versionStore
	presence  presenceStore
	artifacts artifactStore
	renderer  exportRenderer
	suggester suggestionGenerator
	search    passageIndexer
	worker    exportNotifier
	policy    config.ExportPolicy
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
	newID     func(prefix string) string
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := deps.Policy
	if len(policy.Tiers) == 0 {
		policy = config.DefaultExportPolicy()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		versions:  deps.Versions,
		presence:  deps.Presence,
		artifacts: deps.Artifacts,
		renderer:  deps.Renderer,
		suggester: deps.Suggester,
		search:    deps.Search,
		worker:    deps.Worker,
		policy:    policy,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger,
		newID:     util.NewID,
	}
}

// LoginInput is the development sign-in payload. Role and Tier default to
// editor and the policy's default tier.
type LoginInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Tier  string `json:"tier"`
}

func (s *Service) Login(ctx context.Context, input LoginInput) (Session, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = "User"
	}
	role := string(rbac.RoleEditor)
	if input.Role != "" {
		role = string(rbac.Normalize(input.Role))
	}
	tier := strings.TrimSpace(input.Tier)
	if tier == "" {
		tier = s.policy.DefaultTier
	}

	user, err := s.store.EnsureUser(ctx, store.User{
		ID:          userIDFor(name, input.Email),
		DisplayName: name,
		Email:       strings.TrimSpace(input.Email),
		Role:        role,
		PlanTier:    tier,
	})
	if err != nil {
		return Session{}, err
	}

	claims := auth.NewClaims(user.ID, user.DisplayName, user.Role, user.PlanTier)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims, s.cfg.TokenTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:    token,
		UserID:   user.ID,
		UserName: user.DisplayName,
		Role:     user.Role,
		Tier:     user.PlanTier,
	}, nil
}

// SessionFromToken validates token and loads the current role and tier of
// its subject, so plan changes apply without a new token.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:    token,
		UserID:   user.ID,
		UserName: user.DisplayName,
		Role:     user.Role,
		Tier:     user.PlanTier,
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) authorize(session Session, action rbac.Action) error {
	if !s.Can(session.Role, action) {
		return forbidden()
	}
	return nil
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type DocumentView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func documentView(doc store.Document) DocumentView {
	return DocumentView{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		UpdatedBy: doc.UpdatedBy,
		UpdatedAt: doc.UpdatedAt,
	}
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (DocumentView, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return DocumentView{}, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	return documentView(doc), nil
}

type CreateDocumentInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Service) CreateDocument(ctx context.Context, session Session, input CreateDocumentInput) (DocumentView, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return DocumentView{}, err
	}
	if err := validateCreateDocument(input); err != nil {
		return DocumentView{}, validationFailed(err)
	}

	owner := session.UserID
	doc, err := s.store.InsertDocument(ctx, store.Document{
		ID:        s.newID("doc"),
		Title:     strings.TrimSpace(input.Title),
		Content:   s.sanitizer.Sanitize(input.Content),
		OwnerID:   &owner,
		UpdatedBy: session.UserName,
	})
	if err != nil {
		return DocumentView{}, err
	}
	if err := s.versions.EnsureDocumentRepo(doc.ID, gitrepo.Content{Title: doc.Title, Content: doc.Content}, session.UserName); err != nil {
		return DocumentView{}, err
	}
	s.reindex(ctx, doc)
	return documentView(doc), nil
}

type SaveDocumentInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SaveDocument persists the document, records a version when it changed
// and refreshes the search passages.
func (s *Service) SaveDocument(ctx context.Context, session Session, documentID string, input SaveDocumentInput) (DocumentView, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return DocumentView{}, err
	}
	if err := validateSaveDocument(input); err != nil {
		return DocumentView{}, validationFailed(err)
	}

	current, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	content := s.sanitizer.Sanitize(input.Content)
	doc, err := s.store.UpdateDocumentContent(ctx, documentID, strings.TrimSpace(input.Title), content, session.UserName)
	if err != nil {
		return DocumentView{}, err
	}

	if err := s.versions.EnsureDocumentRepo(documentID, gitrepo.Content{Title: current.Title, Content: current.Content}, current.UpdatedBy); err != nil {
		return DocumentView{}, err
	}
	if _, _, err := s.versions.CommitContent(documentID, gitrepo.Content{Title: doc.Title, Content: doc.Content}, session.UserName, ""); err != nil {
		return DocumentView{}, err
	}
	s.reindex(ctx, doc)
	return documentView(doc), nil
}

// reindex replaces the stored passages of doc and pushes them to the
// search index. Failures are logged; the save itself has succeeded.
func (s *Service) reindex(ctx context.Context, doc store.Document) {
	records := search.ExtractPassages(doc.ID, doc.Title, doc.Content)
	passages := make([]store.Passage, len(records))
	for i, r := range records {
		passages[i] = store.Passage{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			Position:   r.Position,
			Heading:    r.Heading,
			Body:       r.Body,
		}
	}
	stale, err := s.store.ReplacePassages(ctx, doc.ID, passages)
	if err != nil {
		s.logger.Warn("replace passages", "document_id", doc.ID, "error", err)
		return
	}
	if s.search != nil {
		s.search.IndexDocument(records, stale)
	}
}

type TemplateView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Service) ListTemplates(ctx context.Context, session Session) ([]TemplateView, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TemplateView, 0, len(templates))
	for _, t := range templates {
		out = append(out, TemplateView{ID: t.ID, Name: t.Name, Description: t.Description})
	}
	return out, nil
}

type ApplyTemplateInput struct {
	DealID  string `json:"dealId"`
	Context string `json:"context"`
}

type templateData struct {
	Title   string
	DealID  string
	Context string
	Author  string
}

// ApplyTemplate renders a template for the document and returns the HTML.
// Nothing is persisted; the editor adopts the result as unsaved content.
func (s *Service) ApplyTemplate(ctx context.Context, session Session, documentID, templateID string, input ApplyTemplateInput) (string, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return "", err
	}
	if err := validateApplyTemplate(input); err != nil {
		return "", validationFailed(err)
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return "", err
	}

	parsed, err := template.New(tpl.ID).Option("missingkey=zero").Parse(tpl.Body)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", tpl.ID, err)
	}
	var buf bytes.Buffer
	if err := parsed.Execute(&buf, templateData{
		Title:   doc.Title,
		DealID:  strings.TrimSpace(input.DealID),
		Context: strings.TrimSpace(input.Context),
		Author:  session.UserName,
	}); err != nil {
		return "", fmt.Errorf("execute template %s: %w", tpl.ID, err)
	}
	return s.sanitizer.Sanitize(buf.String()), nil
}

// userIDFor derives a stable id from the email, or the name when no email
// is given, so repeated sign-ins map to the same user.
func userIDFor(name, email string) string {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" {
		key = "name:" + strings.ToLower(name)
	}
	sum := blake2b.Sum256([]byte(key))
	return "usr_" + hex.EncodeToString(sum[:12])
}
