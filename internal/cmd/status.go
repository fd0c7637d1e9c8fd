package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/docrewrite/docrewrite/internal/auth"
	errwrap "github.com/docrewrite/docrewrite/internal/errors"
	"github.com/docrewrite/docrewrite/internal/jobs"
	"github.com/docrewrite/docrewrite/internal/output"
)

var (
	statusURL      string
	statusAPIKey   string
	statusToken    string
	statusOutput   string
	statusWait     bool
	statusInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job on a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(statusOutput)
		if err != nil {
			return err
		}

		client := &statusClient{
			http:    &http.Client{Timeout: 30 * time.Second},
			baseURL: statusURL,
			apiKey:  statusAPIKey,
			token:   statusToken,
		}

		ctx := cmd.Context()
		job, err := client.Get(ctx, args[0])
		for err == nil && statusWait && !job.Status.Terminal() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(statusInterval):
			}
			job, err = client.Get(ctx, args[0])
		}
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatJob(job)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

type statusClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	token   string
}

// Get fetches one job snapshot. Error bodies are decoded from the server's
// error envelope.
func (c *statusClient) Get(ctx context.Context, id string) (jobs.Job, error) {
	endpoint := strings.TrimRight(c.baseURL, "/") + "/api/v1/documents/status/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return jobs.Job{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(auth.HeaderAPIKey, c.apiKey)
	} else if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("request job status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return jobs.Job{}, fmt.Errorf("read job status: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope errwrap.HTTPErrorResponse
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != "" {
			return jobs.Job{}, fmt.Errorf("%s: %s (HTTP %d)", envelope.Error.Code, envelope.Error.Message, resp.StatusCode)
		}
		return jobs.Job{}, fmt.Errorf("unexpected HTTP %d from %s", resp.StatusCode, endpoint)
	}

	var job jobs.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return jobs.Job{}, fmt.Errorf("decode job status: %w", err)
	}
	return job, nil
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:8080", "server base URL")
	statusCmd.Flags().StringVar(&statusAPIKey, "api-key", "", "API key sent as X-API-Key")
	statusCmd.Flags().StringVar(&statusToken, "token", "", "bearer token")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", string(output.FormatTable), "Output format: table|json|markdown|text")
	statusCmd.Flags().BoolVarP(&statusWait, "wait", "w", false, "poll until the job completes or fails")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "poll interval with --wait")
}
