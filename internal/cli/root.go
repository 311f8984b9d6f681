package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mr1hm/offline-alert-relay/internal/repository"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format    string // "json" | "text"
	DBPath    string
	RedisAddr string
	RedisPfx  string
	Server    string
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the alertctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "alertctl",
		Short: "Inspect and operate the offline alert relay",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "./data/alert-relay.db", "path to the SQLite store")
	cmd.PersistentFlags().StringVar(&opts.RedisAddr, "redis", "", "read the Redis store at this address instead of SQLite")
	cmd.PersistentFlags().StringVar(&opts.RedisPfx, "redis-prefix", "alert-relay:", "key prefix of the Redis store")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "http://localhost:8080", "base URL of a running relay")

	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewConnectivityCommand(opts))

	return cmd
}

func (o *RootOptions) openStore(ctx context.Context) (repository.KVStore, error) {
	if o.RedisAddr != "" {
		return repository.NewRedisKV(ctx, o.RedisAddr, "", 0, o.RedisPfx)
	}
	return repository.NewSQLiteDB(o.DBPath)
}

// emit writes v as indented JSON, or calls text when the format is text.
func (o *RootOptions) emit(w io.Writer, v any, text func(io.Writer) error) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}
