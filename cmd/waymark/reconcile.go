package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run reconciliation sweeps over locations and entries",
}

// progressLine prints sweep advancement in place.
func progressLine(label string) func(current, total int) {
	return func(current, total int) {
		fmt.Printf("\r%s %d/%d", label, current, total)
		if current == total {
			fmt.Println()
		}
	}
}

var reconcileDedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Merge duplicate saved locations",
	Long: `Find alive locations sharing a normalized (name, address) pair and
collapse each group into the member with the most linked entries. Safe to
re-run: a second pass with no intervening writes merges nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		sum, err := a.engine.MergeDuplicateLocations(cmd.Context(), a.cfg.UserID, progressLine("Merging"))
		fmt.Printf("Merged %d duplicates, %d failed\n", sum.Processed, sum.Errors)
		return err
	},
}

var flagThreshold float64

var reconcileSnapCmd = &cobra.Command{
	Use:   "snap",
	Short: "Link loose GPS entries to nearby saved locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		threshold := flagThreshold
		if threshold == 0 {
			threshold = a.cfg.SnapThresholdMeters
		}

		sum, err := a.engine.SnapEntriesToLocations(cmd.Context(), a.cfg.UserID, threshold, progressLine("Snapping"))
		if err != nil {
			return err
		}
		fmt.Printf("Snapped %d entries, %d failed\n", sum.Processed, sum.Errors)
		return nil
	},
}

var reconcileEnrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fill missing address hierarchy on saved locations",
	Long: `Reverse-geocode saved locations that are missing hierarchy fields.
Only currently-empty fields are filled; user-set values are never
overwritten. Calls the external provider sequentially with a rate-limit
delay.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		sum, err := a.engine.EnrichLocationHierarchy(cmd.Context(), a.cfg.UserID, progressLine("Enriching"))
		if err != nil {
			return err
		}
		fmt.Printf("Enriched %d locations, %d failed\n", sum.Processed, sum.Errors)
		return nil
	},
}

var reconcileGeocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Reverse-geocode entries with missing or failed geocoding",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		sum, err := a.engine.GeocodeEntries(cmd.Context(), a.cfg.UserID, progressLine("Geocoding"))
		if err != nil {
			return err
		}
		fmt.Printf("Geocoded %d entries, %d no data, %d failed\n", sum.Processed, sum.NoData, sum.Errors)
		return nil
	},
}

var reconcileSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "List nearby location pairs that might be duplicates",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		pairs, err := a.engine.SimilarPairs(cmd.Context(), a.cfg.UserID, 100)
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			fmt.Println("No merge suggestions")
			return nil
		}
		for _, p := range pairs {
			fmt.Printf("%s (%s)  <->  %s (%s)  %.0fm apart\n",
				p.A.Name, p.A.ID, p.B.Name, p.B.ID, p.DistanceMeters)
		}
		return nil
	},
}

func init() {
	reconcileSnapCmd.Flags().Float64Var(&flagThreshold, "threshold", 0, "snap distance in meters (default from config)")

	reconcileCmd.AddCommand(reconcileDedupeCmd)
	reconcileCmd.AddCommand(reconcileSnapCmd)
	reconcileCmd.AddCommand(reconcileEnrichCmd)
	reconcileCmd.AddCommand(reconcileGeocodeCmd)
	reconcileCmd.AddCommand(reconcileSuggestCmd)
}
