package github

import (
	"context"
	"encoding/json"
	"fmt"
)

// ReviewThread is a normalized unresolved-review-thread view, used
// regardless of whether it came from the GraphQL thread API or the
// comment-count fallback (spec §9 "Review-thread fallback").
type ReviewThread struct {
	Path       string `json:"path"`
	Line       int    `json:"line"`
	Author     string `json:"author"`
	Body       string `json:"body"`
	IsResolved bool   `json:"is_resolved"`
}

const unresolvedThreadsQuery = `
query($owner: String!, $repo: String!, $pr: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    pullRequest(number: $pr) {
      reviewThreads(first: 50, after: $cursor) {
        pageInfo { hasNextPage endCursor }
        nodes {
          isResolved
          comments(first: 1) {
            nodes {
              path
              line
              body
              author { login }
            }
          }
        }
      }
    }
  }
}`

type threadsResponse struct {
	Data struct {
		Repository struct {
			PullRequest struct {
				ReviewThreads struct {
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
					Nodes []struct {
						IsResolved bool `json:"isResolved"`
						Comments   struct {
							Nodes []struct {
								Path   string `json:"path"`
								Line   int    `json:"line"`
								Body   string `json:"body"`
								Author struct {
									Login string `json:"login"`
								} `json:"author"`
							} `json:"nodes"`
						} `json:"comments"`
					} `json:"nodes"`
				} `json:"reviewThreads"`
			} `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
}

// GetUnresolvedThreads walks the PR's review threads via GraphQL and
// returns the unresolved ones, normalized. This is the preferred,
// higher-fidelity path of the review-thread adapter.
func (c *Client) GetUnresolvedThreads(ctx context.Context, prNumber int) ([]ReviewThread, error) {
	var threads []ReviewThread
	cursor := ""

	for {
		args := []string{
			"api", "graphql",
			"-f", fmt.Sprintf("query=%s", unresolvedThreadsQuery),
			"-f", fmt.Sprintf("owner=%s", c.owner),
			"-f", fmt.Sprintf("repo=%s", c.repo),
			"-F", fmt.Sprintf("pr=%d", prNumber),
		}
		if cursor != "" {
			args = append(args, "-f", fmt.Sprintf("cursor=%s", cursor))
		}

		output, err := c.run(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query review threads for pr %d: %w", prNumber, err)
		}

		var resp threadsResponse
		if err := json.Unmarshal(output, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse review threads response for pr %d: %w", prNumber, err)
		}

		rt := resp.Data.Repository.PullRequest.ReviewThreads
		for _, node := range rt.Nodes {
			if node.IsResolved {
				continue
			}
			if len(node.Comments.Nodes) == 0 {
				continue
			}
			head := node.Comments.Nodes[0]
			threads = append(threads, ReviewThread{
				Path:       head.Path,
				Line:       head.Line,
				Author:     head.Author.Login,
				Body:       head.Body,
				IsResolved: false,
			})
		}

		if !rt.PageInfo.HasNextPage {
			break
		}
		cursor = rt.PageInfo.EndCursor
	}

	return threads, nil
}

// GetReviewThreadsWithFallback returns the normalized unresolved-thread
// view, falling back to a single synthesized thread built from the raw
// comment count when the GraphQL path fails (e.g. threads API disabled,
// transient error).
func (c *Client) GetReviewThreadsWithFallback(ctx context.Context, prNumber int) ([]ReviewThread, bool, error) {
	threads, err := c.GetUnresolvedThreads(ctx, prNumber)
	if err == nil {
		return threads, true, nil
	}
	c.logger.Warn("unresolved-thread query failed for pr %d, falling back to comment count: %v", prNumber, err)

	comments, cerr := c.GetPRComments(ctx, prNumber)
	if cerr != nil {
		return nil, false, fmt.Errorf("thread query failed (%v) and comment fallback failed: %w", err, cerr)
	}
	if len(comments) == 0 {
		return nil, false, nil
	}
	return []ReviewThread{{
		Body:       fmt.Sprintf("%d review comment(s) (fallback: unresolved-thread detail unavailable)", len(comments)),
		IsResolved: false,
	}}, false, nil
}
