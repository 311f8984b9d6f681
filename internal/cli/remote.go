package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mr1hm/offline-alert-relay/internal/reconcile"
)

const requestTimeout = 30 * time.Second

// NewSyncCommand asks a running relay for an immediate reconciliation pass.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "sync",
		Short:        "Run a reconciliation pass on a running relay",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res reconcile.PassResult
			if err := opts.call(cmd.Context(), http.MethodPost, "/api/sync", nil, &res); err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), res, func(w io.Writer) error {
				if res.Skipped != "" {
					_, err := fmt.Fprintf(w, "pass skipped: %s\n", res.Skipped)
					return err
				}
				_, err := fmt.Fprintf(w, "attempted %d, delivered %d, failed %d, failed permanently %d\n",
					res.Attempted, res.Delivered, res.Failed, res.Permanent)
				return err
			})
		},
	}
}

type connectivityStatus struct {
	State    string `json:"state"`
	Changed  bool   `json:"changed,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

// NewConnectivityCommand reads or overrides the relay's connectivity state.
func NewConnectivityCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "connectivity [online|offline]",
		Short:        "Show or set the connectivity state of a running relay",
		Args:         cobra.MaximumNArgs(1),
		ValidArgs:    []string{"online", "offline"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status connectivityStatus
			var err error
			if len(args) == 0 {
				err = opts.call(cmd.Context(), http.MethodGet, "/api/connectivity", nil, &status)
			} else {
				err = opts.call(cmd.Context(), http.MethodPut, "/api/connectivity", map[string]string{"state": args[0]}, &status)
			}
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), status, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, status.State)
				return err
			})
		},
	}
}

func (o *RootOptions) call(ctx context.Context, method, path string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(o.Server, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
