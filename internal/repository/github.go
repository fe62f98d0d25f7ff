package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BadgerOps/jobindex/internal/ghapi"
)

const blameQuery = `query ($owner: String!, $repo: String!, $path: String!) {
  repository(owner: $owner, name: $repo) {
    defaultBranchRef {
      target {
        ... on Commit {
          blame(path: $path) {
            ranges {
              startingLine
              endingLine
              commit {
                committer {
                  date
                }
              }
            }
          }
        }
      }
    }
  }
}`

// TokenSource hands out installation tokens for a project.
type TokenSource interface {
	InstallationToken(ctx context.Context, project string, reprime bool) (string, error)
}

// GitHubEndpoints are the API roots of a GitHub (Enterprise) instance.
type GitHubEndpoints struct {
	APIURL     string
	GraphQLURL string
}

// GitHubRepository reads files through the GitHub REST and GraphQL APIs.
type GitHubRepository struct {
	name      string
	owner     string
	repo      string
	htmlURL   string
	private   bool
	endpoints GitHubEndpoints
	client    *ghapi.Client
	tokens    TokenSource
	logger    *slog.Logger

	// html_url per file path, filled by FileContents
	fileURLs sync.Map
}

type ghRepo struct {
	HTMLURL string `json:"html_url"`
	Private bool   `json:"private"`
}

type ghContent struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	HTMLURL  string `json:"html_url"`
}

// NewGitHubRepository resolves repository metadata for name ("owner/repo").
func NewGitHubRepository(ctx context.Context, name string, endpoints GitHubEndpoints, client *ghapi.Client, tokens TokenSource, logger *slog.Logger) (*GitHubRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parts := strings.Split(name, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid repo name '%s'", name)
	}

	r := &GitHubRepository{
		name:      name,
		owner:     parts[0],
		repo:      parts[1],
		endpoints: endpoints,
		client:    client,
		tokens:    tokens,
		logger:    logger,
	}

	// A repository added to an installation after the map was primed is
	// only found by priming it again.
	header, err := r.authHeader(ctx, true)
	if err != nil {
		return nil, err
	}
	var meta ghRepo
	if err := client.GetJSON(ctx, r.apiURL(), header, &meta); err != nil {
		return nil, fmt.Errorf("failed to get repository %s: %w", name, err)
	}
	r.htmlURL = meta.HTMLURL
	r.private = meta.Private
	return r, nil
}

func (r *GitHubRepository) authHeader(ctx context.Context, reprime bool) (http.Header, error) {
	token, err := r.tokens.InstallationToken(ctx, r.name, reprime)
	if err != nil {
		return nil, fmt.Errorf("failed to get installation token for %s: %w", r.name, err)
	}
	if token == "" {
		return nil, fmt.Errorf("could not find an authentication token for '%s'", r.name)
	}
	return http.Header{
		"Accept":        []string{"application/vnd.github.v3+json"},
		"Authorization": []string{"token " + token},
	}, nil
}

func (r *GitHubRepository) apiURL(parts ...string) string {
	return JoinURL(r.endpoints.APIURL, append([]string{"repos", r.owner, r.repo}, parts...)...)
}

func (r *GitHubRepository) contentsURL(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return r.apiURL("contents")
	}
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return r.apiURL("contents", strings.Join(segments, "/"))
}

// contents fetches the contents endpoint and reports whether the response was
// a directory listing.
func (r *GitHubRepository) contents(ctx context.Context, p string) (json.RawMessage, bool, error) {
	header, err := r.authHeader(ctx, false)
	if err != nil {
		return nil, false, err
	}
	resp, err := r.client.Do(ctx, ghapi.Request{URL: r.contentsURL(p), Header: header})
	if err != nil {
		return nil, false, err
	}
	body := json.RawMessage(resp.Body)
	trimmed := strings.TrimSpace(string(resp.Body))
	return body, strings.HasPrefix(trimmed, "["), nil
}

func (r *GitHubRepository) Name() string { return r.name }

func (r *GitHubRepository) FileContents(ctx context.Context, filePath string) (string, error) {
	r.logger.Debug("getting file content", "repo", r.name, "path", filePath)
	body, isDir, err := r.contents(ctx, filePath)
	if err != nil {
		if ghapi.IsNotFound(err) {
			return "", checkoutErr(filePath, "File not found.")
		}
		return "", checkoutErr(filePath, err.Error())
	}
	if isDir {
		return "", checkoutErr(filePath, "Path is not a file.")
	}

	var c ghContent
	if err := json.Unmarshal(body, &c); err != nil {
		return "", checkoutErr(filePath, err.Error())
	}
	if c.Type != "file" {
		return "", checkoutErr(filePath, "Path is not a file.")
	}
	if c.HTMLURL != "" {
		r.fileURLs.Store(strings.Trim(filePath, "/"), c.HTMLURL)
	}
	if c.Size == 0 {
		return "", checkoutErr(filePath, "File is empty.")
	}
	if c.Encoding != "base64" {
		return c.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(c.Content, "\n", ""))
	if err != nil {
		return "", checkoutErr(filePath, fmt.Sprintf("failed to decode content: %v", err))
	}
	return string(decoded), nil
}

func (r *GitHubRepository) DirectoryContents(ctx context.Context, dirPath string) (map[string]Entry, error) {
	r.logger.Debug("listing directory", "repo", r.name, "path", dirPath)
	body, isDir, err := r.contents(ctx, dirPath)
	if err != nil {
		if ghapi.IsNotFound(err) {
			return nil, checkoutErr(dirPath, "Directory not found.")
		}
		return nil, checkoutErr(dirPath, err.Error())
	}
	if !isDir {
		return nil, checkoutErr(dirPath, "Path is not a directory")
	}

	var items []ghContent
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, checkoutErr(dirPath, err.Error())
	}
	out := make(map[string]Entry, len(items))
	for _, it := range items {
		typ := TypeFile
		if it.Type == "dir" {
			typ = TypeDir
		}
		out[it.Name] = Entry{Path: it.Path, Type: typ}
		if typ == TypeFile && it.HTMLURL != "" {
			r.fileURLs.Store(it.Path, it.HTMLURL)
		}
	}
	return out, nil
}

func (r *GitHubRepository) LastChanged(ctx context.Context, p string) (time.Time, error) {
	header, err := r.authHeader(ctx, false)
	if err != nil {
		return time.Time{}, err
	}
	q := url.Values{"path": []string{strings.Trim(p, "/")}, "per_page": []string{"1"}}
	var commits []struct {
		Commit struct {
			Committer struct {
				Date time.Time `json:"date"`
			} `json:"committer"`
		} `json:"commit"`
	}
	if err := r.client.GetJSON(ctx, r.apiURL("commits")+"?"+q.Encode(), header, &commits); err != nil {
		if ghapi.IsNotFound(err) {
			return time.Time{}, checkoutErr(p, "File not found.")
		}
		return time.Time{}, checkoutErr(p, err.Error())
	}
	if len(commits) == 0 {
		return time.Time{}, nil
	}
	return commits[0].Commit.Committer.Date.UTC(), nil
}

type blameResponse struct {
	Data *struct {
		Repository *struct {
			DefaultBranchRef *struct {
				Target *struct {
					Blame *struct {
						Ranges []struct {
							StartingLine int `json:"startingLine"`
							EndingLine   int `json:"endingLine"`
							Commit       *struct {
								Committer *struct {
									Date *time.Time `json:"date"`
								} `json:"committer"`
							} `json:"commit"`
						} `json:"ranges"`
					} `json:"blame"`
				} `json:"target"`
			} `json:"defaultBranchRef"`
		} `json:"repository"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Blame is best-effort: any failure yields an empty slice and a log line.
func (r *GitHubRepository) Blame(ctx context.Context, p string) ([]BlameRange, error) {
	r.logger.Debug("getting blame info", "repo", r.name, "path", p)
	token, err := r.tokens.InstallationToken(ctx, r.name, false)
	if err != nil || token == "" {
		return []BlameRange{}, nil
	}

	resp, err := r.client.Do(ctx, ghapi.Request{
		Method: http.MethodPost,
		URL:    r.endpoints.GraphQLURL,
		Header: http.Header{"Authorization": []string{"bearer " + token}},
		Body: map[string]any{
			"query":     blameQuery,
			"variables": map[string]string{"owner": r.owner, "repo": r.repo, "path": p},
		},
	})
	if err != nil || resp.StatusCode != http.StatusOK {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return []BlameRange{}, nil
	}

	var br blameResponse
	if err := json.Unmarshal(resp.Body, &br); err != nil {
		r.logger.Warn("could not decode blame info", "repo", r.name, "path", p, "error", err)
		return []BlameRange{}, nil
	}
	if len(br.Errors) > 0 {
		for _, e := range br.Errors {
			r.logger.Warn("could not get blame info", "repo", r.name, "path", p, "message", e.Message)
		}
		return []BlameRange{}, nil
	}

	ranges := []BlameRange{}
	if br.Data == nil || br.Data.Repository == nil || br.Data.Repository.DefaultBranchRef == nil ||
		br.Data.Repository.DefaultBranchRef.Target == nil || br.Data.Repository.DefaultBranchRef.Target.Blame == nil {
		r.logger.Error("unable to retrieve blame info", "repo", r.name, "path", p)
		return ranges, nil
	}
	for _, rg := range br.Data.Repository.DefaultBranchRef.Target.Blame.Ranges {
		if rg.Commit == nil || rg.Commit.Committer == nil || rg.Commit.Committer.Date == nil {
			r.logger.Error("unable to retrieve blame info", "repo", r.name, "path", p)
			return ranges, nil
		}
		ranges = append(ranges, BlameRange{
			Start: rg.StartingLine,
			End:   rg.EndingLine,
			Date:  rg.Commit.Committer.Date.UTC(),
		})
	}
	return ranges, nil
}

func (r *GitHubRepository) URLForFile(ctx context.Context, p string, start, end int) string {
	key := strings.Trim(p, "/")
	var fileURL string
	if v, ok := r.fileURLs.Load(key); ok {
		fileURL = v.(string)
	} else if body, isDir, err := r.contents(ctx, p); err == nil && !isDir {
		var c ghContent
		if json.Unmarshal(body, &c) == nil && c.HTMLURL != "" {
			fileURL = c.HTMLURL
			r.fileURLs.Store(key, fileURL)
		}
	}
	if fileURL == "" {
		fileURL = JoinURL(r.htmlURL, "blob", DefaultBranch, p)
	}

	if start > 0 {
		fileURL += fmt.Sprintf("#L%d", start)
		if end > 0 {
			fileURL += fmt.Sprintf("-L%d", end)
		}
	}
	return fileURL
}

func (r *GitHubRepository) URLForDirectory(p string) string {
	return JoinURL(r.htmlURL, "tree/master", p)
}

func (r *GitHubRepository) Private() bool { return r.private }
