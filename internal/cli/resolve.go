package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mr1hm/offline-alert-relay/internal/district"
	"github.com/mr1hm/offline-alert-relay/internal/models"
)

type ResolveOptions struct {
	*RootOptions
	File string
}

// NewResolveCommand maps a coordinate to its district without touching the
// network.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <lat> <lon>",
		Short: "Resolve a coordinate to the nearest district",
		Example: `  alertctl resolve 8.50 76.90
  alertctl resolve 9.98 76.30 --districts ./districts.yaml --format json`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid latitude %q: %w", args[0], err)
			}
			lon, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid longitude %q: %w", args[1], err)
			}

			resolver := district.Default()
			if opts.File != "" {
				if resolver, err = district.LoadFile(opts.File); err != nil {
					return err
				}
			}

			d := resolver.Resolve(lat, lon)
			return opts.emit(cmd.OutOrStdout(), d, func(w io.Writer) error {
				return writeDistrict(w, d)
			})
		},
	}

	cmd.Flags().StringVar(&opts.File, "districts", "", "YAML district file (defaults to the built-in Kerala set)")
	return cmd
}

func writeDistrict(w io.Writer, d models.District) error {
	terrain := ""
	if d.Hilly {
		terrain = " (hilly)"
	}
	_, err := fmt.Fprintf(w, "%s%s  centroid %.4f, %.4f\n", d.Name, terrain, d.Latitude, d.Longitude)
	return err
}
