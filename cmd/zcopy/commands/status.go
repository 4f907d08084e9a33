package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/marmos91/zerocopy/internal/bytesize"
	"github.com/marmos91/zerocopy/internal/cli/output"
	"github.com/marmos91/zerocopy/pkg/api"
	"github.com/spf13/cobra"
)

var (
	statusOutput  string
	statusHost    string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running producer or consumer",
	Long: `Display the state of a running zcopy producer or consumer.

This command queries the API server of the process: its health endpoint for
uptime and its status endpoint for the connection state. The port defaults
to api.port of the configuration.

Examples:
  # Check status (uses the configured API port)
  zcopy status

  # Check a consumer on another port
  zcopy status --api-port 7071

  # Output as JSON
  zcopy status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusHost, "host", "127.0.0.1", "API server host")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 0, "API server port (default: api.port from config)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ProcessStatus is the status of a running producer or consumer.
type ProcessStatus struct {
	Running   bool        `json:"running" yaml:"running"`
	Healthy   bool        `json:"healthy" yaml:"healthy"`
	Message   string      `json:"message" yaml:"message"`
	StartedAt string      `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime    string      `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Endpoint  *api.Status `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// healthResponse is the body of /health and /health/ready.
type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   struct {
		StartedAt string `json:"started_at"`
		Uptime    string `json:"uptime"`
	} `json:"data"`
}

type statusResponse struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Data   api.Status `json:"data"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	port := statusAPIPort
	if port == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		port = cfg.API.Port
	}

	status := fetchStatus(&http.Client{Timeout: 2 * time.Second}, fmt.Sprintf("http://%s:%d", statusHost, port))

	return output.Print(cmd.OutOrStdout(), format, status, func(w io.Writer) error {
		return printStatusTable(w, status)
	})
}

// fetchStatus queries the health, readiness and status endpoints at baseURL.
func fetchStatus(client *http.Client, baseURL string) ProcessStatus {
	status := ProcessStatus{Message: "No zcopy process is running"}

	var healthResp healthResponse
	if err := getJSON(client, baseURL+"/health", &healthResp); err != nil {
		return status
	}
	status.Running = true
	status.StartedAt = healthResp.Data.StartedAt
	status.Uptime = healthResp.Data.Uptime

	var ready healthResponse
	if err := getJSON(client, baseURL+"/health/ready", &ready); err != nil {
		status.Message = fmt.Sprintf("Process is running but readiness check failed: %v", err)
		return status
	}
	status.Healthy = ready.Status == "healthy"

	var st statusResponse
	if err := getJSON(client, baseURL+"/status", &st); err == nil {
		status.Endpoint = &st.Data
	}

	switch {
	case status.Healthy && status.Endpoint != nil:
		status.Message = fmt.Sprintf("%s is running and ready", status.Endpoint.Role)
	case status.Healthy:
		status.Message = "Process is running and ready"
	default:
		status.Message = fmt.Sprintf("Process is running but not ready: %s", ready.Error)
	}
	return status
}

// getJSON decodes the body of any response into v, regardless of its status
// code: the API reports unhealthy states with a JSON body.
func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid response from %s (HTTP %d): %w", url, resp.StatusCode, err)
	}
	return nil
}

func printStatusTable(w io.Writer, status ProcessStatus) error {
	pairs := [][2]string{}
	switch {
	case !status.Running:
		pairs = append(pairs, [2]string{"Status", "Stopped"})
	case status.Healthy:
		pairs = append(pairs, [2]string{"Status", "Running"})
	default:
		pairs = append(pairs, [2]string{"Status", "Running (not ready)"})
	}
	if status.StartedAt != "" {
		pairs = append(pairs, [2]string{"Started", formatTime(status.StartedAt)})
	}
	if status.Uptime != "" {
		pairs = append(pairs, [2]string{"Uptime", formatUptime(status.Uptime)})
	}

	ep := status.Endpoint
	if ep != nil {
		pairs = append(pairs, [2]string{"Role", ep.Role}, [2]string{"Instance", ep.Instance})
		if c := ep.Consumer; c != nil {
			pairs = append(pairs, [2]string{"Client", c.ClientID}, [2]string{"State", c.State})
			if c.Recorded != nil {
				pairs = append(pairs, [2]string{"Recorded", strconv.FormatUint(*c.Recorded, 10)})
			}
		}
		if p := ep.Producer; p != nil {
			pairs = append(pairs,
				[2]string{"Slots", fmt.Sprintf("%d x %s", p.Slots, bytesize.ByteSize(p.SlotSize))},
				[2]string{"Free slots", strconv.Itoa(p.FreeSlots)},
			)
		}
	}

	_, _ = fmt.Fprintln(w)
	if err := output.SimpleTable(w, pairs); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "\n  %s\n\n", status.Message)

	if ep != nil && ep.Producer != nil && len(ep.Producer.Clients) > 0 {
		if err := output.PrintTable(w, clientTable(ep.Producer)); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w)
	}
	return nil
}

// clientTable lists the clients of a producer.
func clientTable(p *api.ProducerStatus) *output.TableData {
	table := output.NewTableData("ID", "Phase", "Listening", "In flight")
	for _, c := range p.Clients {
		table.AddRow(strconv.FormatUint(c.ID, 10), c.Phase, strconv.FormatBool(c.Listening), strconv.Itoa(c.InFlight))
	}
	return table
}

// formatTime renders an RFC3339 timestamp in local time.
func formatTime(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format(time.DateTime)
}

// formatUptime rounds a duration string to whole seconds.
func formatUptime(uptime string) string {
	d, err := time.ParseDuration(uptime)
	if err != nil {
		return uptime
	}
	return d.Round(time.Second).String()
}
