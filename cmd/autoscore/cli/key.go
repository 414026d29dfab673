package cli

import (
	"bytes"
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/autoscore/autoscore/internal/keystore"
	"github.com/autoscore/autoscore/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Inspect and extend the API key table",
		Long:    "List, check and create the API keys clients use to authenticate against the scoring API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyCheckCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		client  string
		expires string
		write   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate a new API key",
		Long: `Generate a random API key for a client. With --append the key is added to the
configured key table; a running server picks it up on restart.`,
		Example: `  autoscore key create --client "Acme Corp" --expires 2027-12-31
  autoscore key create --client Initech --expires 2027-06-30 --append`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(cmd.OutOrStdout(), client, expires, write)
		},
	}

	cmd.Flags().StringVar(&client, "client", "", "Client name the key is issued to (required)")
	cmd.Flags().StringVar(&expires, "expires", "", "Last valid day, YYYY-MM-DD (required)")
	cmd.Flags().BoolVar(&write, "append", false, "Append the key to the configured key table")
	cmd.MarkFlagRequired("client")
	cmd.MarkFlagRequired("expires")

	return cmd
}

func runKeyCreate(out io.Writer, client, expires string, write bool) error {
	if _, err := keystore.ParseExpiration(expires); err != nil {
		return fmt.Errorf("invalid --expires %q: want YYYY-MM-DD", expires)
	}

	// 16 random bytes, hex encoded, prefixed with "as_"
	randomBytes := make([]byte, 16)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Errorf("generate random key: %w", err)
	}
	rawKey := "as_" + hex.EncodeToString(randomBytes)

	if write {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := appendKey(cfg.Auth.KeysFile, rawKey, client, expires); err != nil {
			return fmt.Errorf("append to %s: %w", cfg.Auth.KeysFile, err)
		}
		fmt.Fprintf(out, "Appended to %s\n\n", cfg.Auth.KeysFile)
	}

	fmt.Fprintln(out, "API Key created:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:     %s\n", rawKey)
	fmt.Fprintf(out, "  Client:  %s\n", client)
	fmt.Fprintf(out, "  Expires: %s\n", expires)
	return nil
}

// appendKey adds one row to the key table at path, creating the file with a
// header when it does not exist. Values follow the file's own column order.
func appendKey(path, key, client, expires string) error {
	columns := []string{keystore.ColumnAPIKey, keystore.ColumnClientName, keystore.ColumnExpiration}
	needsHeader := true
	needsNewline := false

	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		header, err := csv.NewReader(bytes.NewReader(data)).Read()
		if err != nil {
			return err
		}
		columns = header
		needsHeader = false
		needsNewline = data[len(data)-1] != '\n'
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	values := map[string]string{
		keystore.ColumnAPIKey:     key,
		keystore.ColumnClientName: client,
		keystore.ColumnExpiration: expires,
	}
	row := make([]string, len(columns))
	for i, col := range columns {
		row[i] = values[col]
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if needsNewline {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(columns); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the API keys in the key table",
		Long:    "List every client in the key table with its expiration. Keys are masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type keyRow struct {
	Key        string `json:"key"`
	ClientName string `json:"client_name"`
	Expiration string `json:"expiration_date"`
	Status     string `json:"status"`
}

func runKeyList(out io.Writer, jsonOutput bool) error {
	snap, err := openKeys()
	if err != nil {
		return err
	}

	now := time.Now()
	records := snap.Records()
	rows := make([]keyRow, len(records))
	for i, rec := range records {
		status := "active"
		if rec.ExpiredAt(now) {
			status = "expired"
		}
		rows[i] = keyRow{
			Key:        maskKey(rec.Key),
			ClientName: rec.ClientName,
			Expiration: rec.ExpiresOn(),
			Status:     status,
		}
	}

	if jsonOutput || !isTerminal(out) {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No API keys configured. Use 'autoscore key create --append' to add one.")
		return nil
	}

	fmt.Fprintf(out, "%-14s %-28s %-12s %-8s\n", "KEY", "CLIENT", "EXPIRES", "STATUS")
	fmt.Fprintf(out, "%-14s %-28s %-12s %-8s\n", "---", "------", "-------", "------")
	for _, r := range rows {
		fmt.Fprintf(out, "%-14s %-28s %-12s %-8s\n", r.Key, r.ClientName, r.Expiration, r.Status)
	}
	return nil
}

// maskKey keeps the first four characters of a key.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

// ---------- key check ----------

func newKeyCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <key>",
		Short: "Check an API key the way the server would",
		Long:  "Authenticate a key against the key table and report the client it belongs to.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := openKeys()
			if err != nil {
				return err
			}
			res := service.NewGate(snap).Authenticate(args[0], true)
			if err := res.Err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Valid key for %s (expires %s)\n",
				res.ClientName, res.Expiration.UTC().Format(time.DateOnly))
			return nil
		},
	}
}

// openKeys loads the configured key table, logging skipped rows to stderr.
func openKeys() (*keystore.Snapshot, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	// Only skipped rows are worth printing here.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return loadKeys(cfg.Auth, logger, nil)
}
