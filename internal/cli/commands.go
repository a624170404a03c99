package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/tide-data-service/internal/adapter/upstream"
	"github.com/couchcryptid/tide-data-service/internal/domain"
)

func harborArg(args []string) string {
	return strings.ToUpper(args[0])
}

// viewCmd runs one refresh cycle and prints the resulting status.
func viewCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "view [harbor]",
		Short: "Run a refresh cycle and print the harbor view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.engine.Service.Coordinator(harborArg(args))
			if err != nil {
				return err
			}
			if err := c.Refresh(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c.Status())
		},
	}
}

func tidesCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "tides [harbor]",
		Short: "Print the cached tide events of a harbor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tides, err := e.engine.Service.GetTideEvents(cmd.Context(), harborArg(args))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tides)
		},
	}
}

func coefficientsCmd(e *env) *cobra.Command {
	var (
		date string
		days int
	)
	cmd := &cobra.Command{
		Use:   "coefficients [harbor]",
		Short: "Print cached tide coefficients",
		Long:  "Without flags prints every cached day. --date selects one day, --days a span starting today or at --date.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coeffs, err := e.engine.Service.GetCoefficients(cmd.Context(), harborArg(args), date, days)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), coeffs)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&days, "days", 0, "Number of days")
	return cmd
}

func waterLevelsCmd(e *env) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "water-levels [harbor]",
		Short: "Print water levels for a day, fetching on cache miss",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, err := e.engine.Service.GetWaterLevels(cmd.Context(), harborArg(args), date)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string][]domain.WaterLevelSample{date: samples})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func waterTempCmd(e *env) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "water-temp [harbor]",
		Short: "Print cached water temperature forecasts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			temps, err := e.engine.Service.GetWaterTemperature(cmd.Context(), harborArg(args), date)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), temps)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day (YYYY-MM-DD)")
	return cmd
}

func prefetchCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:       "prefetch [domain]",
		Short:     "Run the daily prefetch of one series for every harbor",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"tides", "coefficients", "water_levels", "water_temp"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			e.engine.Service.Prefetch(cmd.Context(), kind)
			fmt.Fprintf(cmd.OutOrStdout(), "prefetch %s done for %d harbors\n", kind, len(e.engine.Service.Harbors()))
			return nil
		},
	}
}

func reinitCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reinit [harbor]",
		Short: "Clear and refetch every cached series of a harbor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := harborArg(args)
			failed, err := e.engine.Service.Reinitialize(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(failed) > 0 {
				return fmt.Errorf("reinitialize %s: failed domains: %v", id, failed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reinitialized\n", id)
			return nil
		},
	}
}

// harborsCmd lists the SHOM harbor directory.
func harborsCmd(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "harbors",
		Short: "List harbors known to SHOM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := e.engine.Directory.Harbors(cmd.Context())
			if err != nil {
				return err
			}
			if len(dir) == 0 {
				return errors.New("harbor directory is empty")
			}
			harbors := upstream.SortedHarbors(dir)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), harbors)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tLAT\tLON")
			for _, h := range harbors {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.ID, h.Name, coord(h.Lat), coord(h.Lon))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func coord(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.5f", *v)
}
