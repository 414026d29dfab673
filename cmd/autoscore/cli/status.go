package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type serverStatus struct {
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	ReadyURL string `json:"ready_url,omitempty"`
	HTTP     int    `json:"http_status,omitempty"`
	State    string `json:"state"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check if the Autoscore server is running",
		Long:  "Report the server process from the PID file and its /readyz answer, which includes the audit store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := probeServer()
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func probeServer() serverStatus {
	pid, err := readPID()
	if err != nil {
		return serverStatus{State: "stopped"}
	}
	if !processAlive(pid) {
		removePID()
		return serverStatus{State: "stale"}
	}

	port := viper.GetInt("server.port")
	if port == 0 {
		port = 8000
	}
	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	st := serverStatus{
		Running:  true,
		PID:      pid,
		ReadyURL: fmt.Sprintf("http://%s:%d/readyz", host, port),
		State:    "unreachable",
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(st.ReadyURL)
	if err != nil {
		return st
	}
	resp.Body.Close()

	st.HTTP = resp.StatusCode
	st.State = "degraded"
	if resp.StatusCode == http.StatusOK {
		st.State = "ready"
	}
	return st
}

func printStatus(out io.Writer, st serverStatus) {
	switch st.State {
	case "stopped":
		fmt.Fprintln(out, "Server is not running (no PID file found).")
	case "stale":
		fmt.Fprintln(out, "Server is not running (stale PID file removed).")
	case "unreachable":
		fmt.Fprintf(out, "Server process is running (PID %d) but not responding on %s.\n", st.PID, st.ReadyURL)
	default:
		fmt.Fprintf(out, "Server is running (PID %d)\n", st.PID)
		fmt.Fprintf(out, "  Ready:    %s (%d %s)\n", st.ReadyURL, st.HTTP, st.State)
		fmt.Fprintf(out, "  PID file: %s\n", pidFile)
	}
}
