// Package gitrepo keeps the version history of each document in its own
// git repository. Every save that changes the document is a commit on
// main; restoring a version commits the old snapshot again.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	mainBranch  = "main"
	contentFile = "content.json"
)

// ErrVersionNotFound is returned for an unknown version hash.
var ErrVersionNotFound = errors.New("version not found")

// Content is the snapshot stored in each commit.
type Content struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Version describes one commit. Label is the first line of the commit
// message and Summary lists the fields that changed against the parent.
type Version struct {
	Hash      string
	Label     string
	Author    string
	Summary   string
	CreatedAt time.Time
}

type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureDocumentRepo creates the repository for documentID with initial
// as its first commit. It is a no-op when the repository exists.
func (s *Service) EnsureDocumentRepo(documentID string, initial Content, author string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	hash, err := s.commit(repo, initial, author, "Create document")
	if err != nil {
		return err
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitContent records content as a new version. It returns false when
// content equals the current head, in which case nothing is committed.
func (s *Service) CommitContent(documentID string, content Content, author, message string) (Version, bool, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return Version{}, false, fmt.Errorf("open repo: %w", err)
	}

	head, err := headCommit(repo)
	if err != nil {
		return Version{}, false, err
	}
	current, err := readContentFromCommit(head)
	if err != nil {
		return Version{}, false, err
	}
	if !HasChanges(current, content) {
		return toVersion(head, current, nil), false, nil
	}

	if message == "" {
		message = "Update " + strings.Join(ChangedFields(current, content), " and ")
	}
	hash, err := s.commit(repo, content, author, message)
	if err != nil {
		return Version{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Version{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toVersion(commitObj, content, &current), true, nil
}

// Restore commits the content of hash on top of main and returns the new
// head snapshot. The current title is kept; only the body is restored.
func (s *Service) Restore(documentID, hash, author string) (Content, Version, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return Content{}, Version{}, fmt.Errorf("open repo: %w", err)
	}
	target, err := commitByHash(repo, hash)
	if err != nil {
		return Content{}, Version{}, err
	}
	restored, err := readContentFromCommit(target)
	if err != nil {
		return Content{}, Version{}, err
	}

	head, err := headCommit(repo)
	if err != nil {
		return Content{}, Version{}, err
	}
	current, err := readContentFromCommit(head)
	if err != nil {
		return Content{}, Version{}, err
	}
	restored.Title = current.Title
	if !HasChanges(current, restored) {
		return restored, toVersion(head, current, nil), nil
	}

	message := fmt.Sprintf("Restore version %s", shortHash(target.Hash))
	newHash, err := s.commit(repo, restored, author, message)
	if err != nil {
		return Content{}, Version{}, err
	}
	commitObj, err := repo.CommitObject(newHash)
	if err != nil {
		return Content{}, Version{}, fmt.Errorf("read commit object: %w", err)
	}
	return restored, toVersion(commitObj, restored, &current), nil
}

func (s *Service) GetContentByHash(documentID, hash string) (Content, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return Content{}, fmt.Errorf("open repo: %w", err)
	}
	commitObj, err := commitByHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	return readContentFromCommit(commitObj)
}

// History lists versions newest first. limit <= 0 means no limit.
func (s *Service) History(documentID string, limit int) ([]Version, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Version, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		content, err := readContentFromCommit(commitObj)
		if err != nil {
			return err
		}
		var parentContent *Content
		if commitObj.NumParents() > 0 {
			parent, err := commitObj.Parent(0)
			if err != nil {
				return fmt.Errorf("load parent of %s: %w", shortHash(commitObj.Hash), err)
			}
			pc, err := readContentFromCommit(parent)
			if err != nil {
				return err
			}
			parentContent = &pc
		}
		items = append(items, toVersion(commitObj, content, parentContent))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.chronicle.dev", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func commitByHash(repo *git.Repository, hash string) (*object.Commit, error) {
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, hash)
		}
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return commitObj, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}
	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

// ChangedFields names the fields that differ between from and to.
func ChangedFields(from, to Content) []string {
	var fields []string
	if from.Title != to.Title {
		fields = append(fields, "title")
	}
	if from.Content != to.Content {
		fields = append(fields, "content")
	}
	return fields
}

func HasChanges(from, to Content) bool {
	return len(ChangedFields(from, to)) > 0
}

func toVersion(commitObj *object.Commit, content Content, parent *Content) Version {
	summary := "initial version"
	if parent != nil {
		summary = strings.Join(ChangedFields(*parent, content), ", ")
	}
	label, _, _ := strings.Cut(strings.TrimSpace(commitObj.Message), "\n")
	return Version{
		Hash:      commitObj.Hash.String(),
		Label:     label,
		Author:    commitObj.Author.Name,
		Summary:   summary,
		CreatedAt: commitObj.Author.When,
	}
}

func shortHash(hash plumbing.Hash) string {
	return hash.String()[:7]
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrVersionNotFound, hash)
	}
	return *resolved, nil
}
