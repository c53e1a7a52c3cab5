package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/chisqfit/internal/server"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := strings.TrimRight(serverURL, "/")
	if len(args) == 0 {
		return listJobs(cmd.OutOrStdout(), base+"/api/v1/fits")
	}
	jobID := args[0]
	return getJobStatus(cmd.OutOrStdout(), base+"/api/v1/fits/"+jobID+"/status", jobID)
}

func fetchJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(w io.Writer, url string) error {
	var jobs []server.Job
	if _, err := fetchJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATE\tDATASET\tMODEL\tITERATIONS\tOBJECTIVE")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.6g\n",
			job.ID, job.State, job.Dataset, job.Config.Model, job.Iterations, job.Objective)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nTotal jobs: %d\n", len(jobs))
	return nil
}

func getJobStatus(w io.Writer, url, jobID string) error {
	var status server.StatusResponse
	code, err := fetchJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Job: %s\n", status.ID)
	fmt.Fprintf(w, "State: %s (%s)\n", status.State, status.Phase)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Dataset: %s (%d points)\n", status.Dataset, status.Points)
	fmt.Fprintf(w, "  Model: %s\n", status.Config.Model)
	fmt.Fprintf(w, "  Objective: %s\n", status.Config.Objective)
	fmt.Fprintf(w, "  Bounds: %v .. %v\n", status.Config.Lower, status.Config.Upper)
	fmt.Fprintf(w, "  Resolution: %d\n", status.Config.Resolution)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  Iterations: %d\n", status.Iterations)
	if status.Iterations > 0 || status.State == server.StateCompleted {
		fmt.Fprintf(w, "  Objective: %.6g\n", status.Objective)
	}
	if status.ReducedChiSquared != nil {
		fmt.Fprintf(w, "  Reduced chi-squared: %.6g\n", *status.ReducedChiSquared)
	}
	if status.FitStatus != "" {
		fmt.Fprintf(w, "  Fit status: %s\n", status.FitStatus)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(w, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if len(status.Intervals) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PARAM\tVALUE\tMINUS\tPLUS")
		for _, iv := range status.Intervals {
			fmt.Fprintf(tw, "%s\t%.6g\t%.3g\t%.3g\n", iv.Name, iv.Value, iv.Minus, iv.Plus)
		}
		tw.Flush()
	} else if len(status.Params) > 0 {
		fmt.Fprintln(w)
		for i, p := range status.Params {
			name := fmt.Sprintf("p%d", i)
			if i < len(status.ParamNames) {
				name = status.ParamNames[i]
			}
			fmt.Fprintf(w, "  %s = %.6g\n", name, p)
		}
	}

	if status.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", status.Error)
	}

	return nil
}
