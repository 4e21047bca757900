package repoimport

import (
	"context"
	"encoding/base64"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"devflow/domain"
)

const (
	// MaxFileSize is the exclusive upper bound on imported file sizes.
	MaxFileSize        = 1_000_000
	defaultConcurrency = 8
)

var textExtensions = []string{
	".js", ".ts", ".jsx", ".tsx", ".py", ".java", ".cpp", ".c", ".cs",
	".php", ".rb", ".go", ".rs", ".swift", ".kt", ".scala", ".sh",
	".html", ".css", ".scss", ".sass", ".less", ".sql", ".json",
	".xml", ".yaml", ".yml", ".md", ".txt", ".env", ".config",
	".dockerfile", ".gitignore", ".gitattributes",
}

// Wanted reports whether a file entry is worth importing.
func Wanted(e Entry) bool {
	if e.Type != "file" || e.Size >= MaxFileSize {
		return false
	}
	name := strings.ToLower(e.Name)
	for _, ext := range textExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}

// isText reports whether the content sniffs as text.
func isText(data []byte) bool {
	for mt := mimetype.Detect(data); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return true
		}
	}
	return false
}

func decodeBase64(s string) ([]byte, error) {
	// The contents API wraps base64 at 60 columns.
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
}

// File is an imported source file.
type File struct {
	Path     string
	Language string
	Content  string
	Size     int64
}

// Result is everything imported from one repository.
type Result struct {
	Repo      Repo
	Metadata  Metadata
	CommitSHA string
	Files     []File
	Issues    []Issue
	// Skipped lists files that matched but could not be imported.
	Skipped []string
}

// Snippets converts the imported files to snippets stamped with the commit.
func (r Result) Snippets(newID func() string, now time.Time) []domain.Snippet {
	out := make([]domain.Snippet, 0, len(r.Files))
	for _, f := range r.Files {
		out = append(out, domain.Snippet{
			ID:        newID(),
			FilePath:  f.Path,
			CodeText:  f.Content,
			CommitSHA: r.CommitSHA,
			Language:  f.Language,
			CreatedAt: now.UTC(),
		})
	}
	return out
}

type Importer struct {
	client      *Client
	log         *log.Logger
	concurrency int
}

func NewImporter(client *Client, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Importer{client: client, log: logger, concurrency: defaultConcurrency}
}

// Import walks the repository behind rawURL and fetches every wanted file
// and the issue list. Only metadata and listing failures abort the import;
// unreadable files and issues are logged and skipped.
func (im *Importer) Import(ctx context.Context, rawURL string) (*Result, error) {
	repo, err := ParseRepoURL(rawURL)
	if err != nil {
		return nil, err
	}
	meta, err := im.client.Metadata(ctx, repo)
	if err != nil {
		return nil, err
	}
	res := &Result{Repo: repo, Metadata: meta}
	logger := im.log.WithField("repo", repo.String())

	if meta.DefaultBranch != "" {
		sha, err := im.client.HeadCommit(ctx, repo, meta.DefaultBranch)
		if err != nil {
			logger.WithError(err).Warn("could not resolve head commit")
		}
		res.CommitSHA = sha
	}

	var entries []Entry
	if err := im.walk(ctx, repo, "", &entries); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)
	for _, e := range entries {
		g.Go(func() error {
			data, ok, err := im.client.FileContent(gctx, repo, e.Path)
			if err == nil && ok && !isText(data) {
				ok = false
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, context.Canceled):
				return err
			case err != nil:
				logger.WithError(err).WithField("path", e.Path).Warn("failed to fetch file content")
				res.Skipped = append(res.Skipped, e.Path)
			case !ok:
				res.Skipped = append(res.Skipped, e.Path)
			default:
				res.Files = append(res.Files, File{
					Path:     e.Path,
					Language: domain.LanguageForPath(e.Name),
					Content:  string(data),
					Size:     e.Size,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	sort.Strings(res.Skipped)

	issues, err := im.client.Issues(ctx, repo)
	if err != nil {
		logger.WithError(err).Warn("could not fetch issues")
	}
	res.Issues = issues

	logger.WithFields(log.Fields{
		"files":   len(res.Files),
		"skipped": len(res.Skipped),
		"issues":  len(res.Issues),
	}).Info("repository imported")
	return res, nil
}

func (im *Importer) walk(ctx context.Context, repo Repo, dir string, out *[]Entry) error {
	entries, err := im.client.ListDir(ctx, repo, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		switch e.Type {
		case "file":
			if Wanted(e) {
				*out = append(*out, e)
			}
		case "dir":
			if skipDir(e.Name) {
				continue
			}
			if err := im.walk(ctx, repo, e.Path, out); err != nil {
				return err
			}
		}
	}
	return nil
}
