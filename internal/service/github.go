package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"smart-progress/internal/config"
	"smart-progress/internal/model"
)

// CommitSource lists commits of one repository in [since, until).
type CommitSource interface {
	FetchCommits(ctx context.Context, repo string, since, until time.Time) ([]model.Commit, error)
}

type GitHubSource struct {
	client *github.Client
}

// NewGitHubSource builds a client for the public API, or for apiURL when set
// (GitHub Enterprise or tests).
func NewGitHubSource(cfg config.VCSConfig, apiURL string) (*GitHubSource, error) {
	c := github.NewClient(nil)
	if cfg.Token != "" {
		c = c.WithAuthToken(cfg.Token)
	}
	if apiURL != "" {
		u, err := url.Parse(strings.TrimRight(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github api url: %w", err)
		}
		c.BaseURL = u
	}
	return &GitHubSource{client: c}, nil
}

func (g *GitHubSource) FetchCommits(ctx context.Context, repo string, since, until time.Time) ([]model.Commit, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("repo %q: want owner/name", repo)
	}
	opts := &github.CommitsListOptions{
		Since:       since,
		Until:       until,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []model.Commit
	for {
		commits, resp, err := g.client.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("github commits %s: %w", repo, githubError(err))
		}
		for _, rc := range commits {
			c := model.Commit{
				Repo:    repo,
				SHA:     rc.GetSHA(),
				Message: rc.GetCommit().GetMessage(),
				Author:  rc.GetAuthor().GetLogin(),
				Time:    rc.GetCommit().GetAuthor().GetDate().Time,
			}
			if c.Author == "" {
				c.Author = rc.GetCommit().GetAuthor().GetEmail()
			}
			if !c.Time.IsZero() && !c.Time.Before(until) {
				continue
			}
			out = append(out, c)
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func (g *GitHubSource) Ping(ctx context.Context) error {
	_, _, err := g.client.RateLimit.Get(ctx)
	if err != nil {
		return githubError(err)
	}
	return nil
}

func githubError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return fmt.Errorf("rate limited: %w", model.ErrTransientSource)
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch code := er.Response.StatusCode; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return fmt.Errorf("status %d: %w", code, model.ErrAuthentication)
		case code >= 500:
			return fmt.Errorf("status %d: %w", code, model.ErrTransientSource)
		default:
			return fmt.Errorf("status %d: %s", code, er.Message)
		}
	}
	return fmt.Errorf("%v: %w", err, model.ErrTransientSource)
}
