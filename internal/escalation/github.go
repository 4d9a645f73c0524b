package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v69/github"
	"github.com/nugget/switchboard/internal/config"
)

// GitHubNotifier files one issue per ticket.
type GitHubNotifier struct {
	client *gogithub.Client
	owner  string
	repo   string
	labels []string
	logger *slog.Logger
}

// NewGitHubNotifier creates a GitHubNotifier. httpClient may be nil.
func NewGitHubNotifier(cfg config.GitHubConfig, httpClient *http.Client, logger *slog.Logger) (*GitHubNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	owner, repo, err := splitRepo(cfg.Repo)
	if err != nil {
		return nil, err
	}

	client := gogithub.NewClient(httpClient).WithAuthToken(cfg.Token)
	if cfg.URL != "" {
		client, err = client.WithEnterpriseURLs(cfg.URL, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("github: enterprise url: %w", err)
		}
	}

	labels := cfg.Labels
	if len(labels) == 0 {
		labels = []string{"escalation"}
	}
	return &GitHubNotifier{
		client: client,
		owner:  owner,
		repo:   repo,
		labels: labels,
		logger: logger.With("notifier", "github"),
	}, nil
}

// splitRepo splits "owner/repo".
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// Notify implements Notifier.
func (g *GitHubNotifier) Notify(ctx context.Context, t Ticket) error {
	title := fmt.Sprintf("[%s] %s", t.ID, t.Reason.Describe())
	body := FormatNotice(t)
	labels := append([]string{}, g.labels...)
	labels = append(labels, string(t.Reason))

	issue, resp, err := g.client.Issues.Create(ctx, g.owner, g.repo, &gogithub.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	})
	if err != nil {
		return fmt.Errorf("github: create issue: %w", err)
	}
	if resp != nil && resp.Rate.Remaining > 0 && resp.Rate.Remaining < 100 {
		g.logger.Warn("github rate limit low", "remaining", resp.Rate.Remaining, "reset", resp.Rate.Reset.Time)
	}

	g.logger.Info("escalation issue opened",
		"ticket_id", t.ID,
		"number", issue.GetNumber(),
		"url", issue.GetHTMLURL(),
	)
	return nil
}
