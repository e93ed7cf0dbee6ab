package vcs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

// MirrorConfig describes the tracked remote and where its local copy lives.
type MirrorConfig struct {
	URL       string
	Branch    string // empty = remote HEAD
	LocalPath string
	AuthToken string        // sent as HTTP basic auth password when set
	Timeout   time.Duration // bound for a single sync
}

// GitMirror implements port.Mirror on top of go-git.
type GitMirror struct {
	cfg MirrorConfig
	now func() time.Time

	// syncMu serializes syncs. Network transfers run under it alone; mu is
	// taken only for the local step that moves HEAD, so reads keep going
	// while a fetch is in flight.
	syncMu sync.Mutex
	mu     sync.RWMutex

	statusMu sync.RWMutex
	status   domain.MirrorStatus
}

// NewGitMirror creates a mirror. Nothing touches the network until Sync.
func NewGitMirror(cfg MirrorConfig) *GitMirror {
	status := domain.MirrorStatus{URL: redactURL(cfg.URL), Branch: cfg.Branch, Status: domain.MirrorStatusEmpty}
	if _, err := os.Stat(filepath.Join(cfg.LocalPath, ".git")); err == nil {
		status.Status = domain.MirrorStatusReady
	}
	return &GitMirror{cfg: cfg, now: time.Now, status: status}
}

// Sync clones into a temporary sibling directory and renames it into place,
// or fetches and fast-forwards an existing copy.
func (g *GitMirror) Sync(ctx context.Context) (domain.SyncResult, error) {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	var res domain.SyncResult
	var err error
	switch _, statErr := os.Stat(g.cfg.LocalPath); {
	case g.cfg.URL == "":
		err = fmt.Errorf("%w: no remote URL configured", port.ErrMirrorUnavailable)
	case errors.Is(statErr, fs.ErrNotExist):
		g.setStatus(func(s *domain.MirrorStatus) { s.Status = domain.MirrorStatusCloning })
		res, err = g.clone(ctx)
	case statErr != nil:
		err = fmt.Errorf("%w: stat %s: %w", port.ErrMirrorUnavailable, g.cfg.LocalPath, statErr)
	default:
		res, err = g.pull(ctx)
	}

	if err != nil {
		slog.Error("mirror sync failed", "url", redactURL(g.cfg.URL), "error", err)
		g.setStatus(func(s *domain.MirrorStatus) {
			s.Status = domain.MirrorStatusError
			s.LastError = err.Error()
		})
		return domain.SyncResult{}, err
	}

	slog.Info("mirror synced", "head", res.Head, "cloned", res.Cloned, "updated", res.Updated)
	g.setStatus(func(s *domain.MirrorStatus) {
		s.Status = domain.MirrorStatusReady
		s.Head = res.Head
		s.LastSyncAt = g.now()
		s.LastError = ""
	})
	return res, nil
}

func (g *GitMirror) clone(ctx context.Context) (domain.SyncResult, error) {
	parent := filepath.Dir(g.cfg.LocalPath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return domain.SyncResult{}, fmt.Errorf("%w: create parent directory: %w", port.ErrMirrorUnavailable, err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(g.cfg.LocalPath)+".clone-*")
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("%w: create temp directory: %w", port.ErrMirrorUnavailable, err)
	}

	slog.Info("cloning repository", "url", redactURL(g.cfg.URL), "path", g.cfg.LocalPath)
	opts := &git.CloneOptions{
		URL:  g.cfg.URL,
		Auth: g.auth(),
	}
	if g.cfg.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(g.cfg.Branch)
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, tmp, false, opts)
	if err != nil {
		_ = os.RemoveAll(tmp)
		return domain.SyncResult{}, fmt.Errorf("%w: clone: %w", port.ErrMirrorUnavailable, err)
	}
	head, err := repo.Head()
	if err != nil {
		_ = os.RemoveAll(tmp)
		return domain.SyncResult{}, fmt.Errorf("%w: resolve HEAD: %w", port.ErrMirrorUnavailable, err)
	}
	g.mu.Lock()
	err = os.Rename(tmp, g.cfg.LocalPath)
	g.mu.Unlock()
	if err != nil {
		_ = os.RemoveAll(tmp)
		return domain.SyncResult{}, fmt.Errorf("%w: move clone into place: %w", port.ErrMirrorUnavailable, err)
	}

	return domain.SyncResult{Head: head.Hash().String(), Cloned: true, Updated: true}, nil
}

func (g *GitMirror) pull(ctx context.Context) (domain.SyncResult, error) {
	repo, err := git.PlainOpen(g.cfg.LocalPath)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("%w: open local copy: %w", port.ErrMirrorUnavailable, err)
	}

	branch := g.cfg.Branch
	if branch == "" {
		head, err := repo.Head()
		if err != nil {
			return domain.SyncResult{}, fmt.Errorf("%w: resolve HEAD: %w", port.ErrMirrorUnavailable, err)
		}
		if !head.Name().IsBranch() {
			return domain.SyncResult{}, fmt.Errorf("%w: local copy has a detached HEAD", port.ErrMirrorUnavailable)
		}
		branch = head.Name().Short()
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", Auth: g.auth()})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return domain.SyncResult{}, fmt.Errorf("%w: fetch: %w", port.ErrMirrorUnavailable, err)
	}
	remote, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("%w: remote branch %s: %w", port.ErrMirrorUnavailable, branch, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return fastForward(repo, remote.Hash())
}

// fastForward moves the checked out branch to target when target descends
// from it. It never touches the network.
func fastForward(repo *git.Repository, target plumbing.Hash) (domain.SyncResult, error) {
	head, err := repo.Head()
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("%w: resolve HEAD: %w", port.ErrMirrorUnavailable, err)
	}
	if head.Hash() == target {
		return domain.SyncResult{Head: target.String()}, nil
	}

	current, err := repo.CommitObject(head.Hash())
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("%w: load HEAD: %w", port.ErrMirrorUnavailable, err)
	}
	next, err := repo.CommitObject(target)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("%w: load %s: %w", port.ErrMirrorUnavailable, target, err)
	}
	ok, err := current.IsAncestor(next)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("%w: ancestry: %w", port.ErrMirrorUnavailable, err)
	}
	if !ok {
		return domain.SyncResult{}, fmt.Errorf("%w: %w", port.ErrMirrorUnavailable, git.ErrNonFastForwardUpdate)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("%w: worktree: %w", port.ErrMirrorUnavailable, err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: target, Mode: git.HardReset}); err != nil {
		return domain.SyncResult{}, fmt.Errorf("%w: fast-forward: %w", port.ErrMirrorUnavailable, err)
	}
	return domain.SyncResult{Head: target.String(), Updated: true}, nil
}

// RecentCommits walks history from HEAD, newest committer time first.
func (g *GitMirror) RecentCommits(ctx context.Context, limit, offset int) ([]domain.CommitInfo, error) {
	if limit <= 0 {
		return []domain.CommitInfo{}, nil
	}
	if offset < 0 {
		offset = 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	repo, err := g.open()
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []domain.CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve HEAD: %w", port.ErrMirrorUnavailable, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("%w: log: %w", port.ErrMirrorUnavailable, err)
	}
	defer iter.Close()

	commits := make([]domain.CommitInfo, 0, limit)
	skipped := 0
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if skipped < offset {
			skipped++
			return nil
		}
		commits = append(commits, commitInfo(ctx, c))
		if len(commits) >= limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk history: %w", err)
	}
	return commits, nil
}

// Commit returns the metadata of one commit. Abbreviated hashes are accepted.
func (g *GitMirror) Commit(ctx context.Context, hash string) (domain.CommitInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, err := g.resolve(hash)
	if err != nil {
		return domain.CommitInfo{}, err
	}
	return commitInfo(ctx, c), nil
}

// Diff returns the unified diff of a commit against its first parent.
// A root commit is diffed against the empty tree.
func (g *GitMirror) Diff(ctx context.Context, hash string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, err := g.resolve(hash)
	if err != nil {
		return "", err
	}
	patch, err := firstParentPatch(ctx, c)
	if err != nil {
		return "", fmt.Errorf("diff %s: %w", hash, err)
	}
	return patch.String(), nil
}

// Overview renders "<short> <author>: <subject> (<n> files changed)".
func (g *GitMirror) Overview(ctx context.Context, hash string) (string, error) {
	info, err := g.Commit(ctx, hash)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s: %s (%d files changed)", domain.ShortHash(info.Hash), info.Author, subject(info.Message), info.Files), nil
}

// Status reports the current mirror state.
func (g *GitMirror) Status() domain.MirrorStatus {
	g.statusMu.RLock()
	defer g.statusMu.RUnlock()
	return g.status
}

func (g *GitMirror) setStatus(update func(*domain.MirrorStatus)) {
	g.statusMu.Lock()
	defer g.statusMu.Unlock()
	update(&g.status)
}

func (g *GitMirror) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(g.cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", port.ErrMirrorUnavailable, g.cfg.LocalPath, err)
	}
	return repo, nil
}

func (g *GitMirror) resolve(hash string) (*object.Commit, error) {
	if strings.TrimSpace(hash) == "" {
		return nil, fmt.Errorf("%w: empty hash", port.ErrCommitNotFound)
	}
	repo, err := g.open()
	if err != nil {
		return nil, err
	}
	h, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", port.ErrCommitNotFound, hash)
	}
	c, err := repo.CommitObject(*h)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", port.ErrCommitNotFound, hash, err)
	}
	return c, nil
}

func (g *GitMirror) auth() transport.AuthMethod {
	if g.cfg.AuthToken == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: g.cfg.AuthToken}
}

// firstParentTrees returns the tree of the first parent, or an empty tree for
// a root commit, and the tree of c.
func firstParentTrees(c *object.Commit) (from, to *object.Tree, err error) {
	if to, err = c.Tree(); err != nil {
		return nil, nil, err
	}
	from = &object.Tree{}
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, nil, err
		}
		if from, err = parent.Tree(); err != nil {
			return nil, nil, err
		}
	}
	return from, to, nil
}

func firstParentPatch(ctx context.Context, c *object.Commit) (*object.Patch, error) {
	from, to, err := firstParentTrees(c)
	if err != nil {
		return nil, err
	}
	return from.PatchContext(ctx, to)
}

func commitInfo(ctx context.Context, c *object.Commit) domain.CommitInfo {
	info := domain.CommitInfo{
		Hash:      c.Hash.String(),
		Author:    c.Author.Name,
		Message:   strings.TrimSpace(c.Message),
		Timestamp: c.Author.When,
	}
	if from, to, err := firstParentTrees(c); err == nil {
		if changes, err := from.DiffContext(ctx, to); err == nil {
			info.Files = len(changes)
		}
	}
	return info
}

func subject(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i]
	}
	return message
}

// redactURL hides credentials embedded in a remote URL.
func redactURL(raw string) string {
	ep, err := transport.NewEndpoint(raw)
	if err != nil || ep.Password == "" {
		return raw
	}
	ep.Password = "***"
	return ep.String()
}
