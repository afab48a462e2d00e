package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/waymark-app/waymark/internal/geocode"
	"github.com/waymark-app/waymark/internal/location"
	"github.com/waymark-app/waymark/internal/model"
)

var locationCmd = &cobra.Command{
	Use:     "location",
	Aliases: []string{"loc"},
	Short:   "Manage saved locations",
}

var (
	flagAddress string
	flagCity    string
	flagNearby  bool
)

var locationAddCmd = &cobra.Command{
	Use:   "add <name> <lat> <lng>",
	Short: "Save a location",
	Long: `Save a named location. Saving the same (name, address) pair twice
returns the existing location instead of creating a duplicate.

With --nearby, the POI provider is searched around the coordinates and the
closest match supplies provenance (address, external IDs).`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		lat, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid latitude: %w", err)
		}
		lng, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid longitude: %w", err)
		}

		input := location.CreateInput{
			Name:      args[0],
			Latitude:  lat,
			Longitude: lng,
		}
		if flagAddress != "" {
			input.Address = model.StrPtr(flagAddress)
		}
		if flagCity != "" {
			input.City = model.StrPtr(flagCity)
		}

		if flagNearby {
			geocoder := geocode.NewHTTPClient(a.cfg.MapboxToken, a.cfg.FoursquareKey)
			pois, err := geocoder.SearchNearby(cmd.Context(), geocode.Point{Lat: lat, Lng: lng}, 100)
			if err != nil {
				a.log.Warn().Err(err).Msg("nearby search failed; saving without provenance")
			} else if len(pois) > 0 {
				poi := pois[0]
				input.Source = model.SourcePOI
				input.FoursquareFsqID = poi.FoursquareFsqID
				if input.Address == nil {
					input.Address = poi.Address
				}
				if input.City == nil {
					input.City = poi.City
				}
			}
		}

		loc, err := a.repo.Create(cmd.Context(), a.cfg.UserID, input)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %q (%s)\n", loc.Name, loc.ID)
		return nil
	},
}

var locationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		locs, err := a.store.ListAliveLocations(cmd.Context(), a.cfg.UserID)
		if err != nil {
			return err
		}
		for _, loc := range locs {
			addr := ""
			if loc.Address != nil {
				addr = ", " + *loc.Address
			}
			fmt.Printf("%s  %s%s  (%.5f, %.5f)\n", loc.ID, loc.Name, addr, loc.Latitude, loc.Longitude)
		}
		return nil
	},
}

var locationRmCmd = &cobra.Command{
	Use:   "rm <location-id>",
	Short: "Delete a saved location",
	Long: `Tombstone a saved location and unlink its entries. Entries keep their
display fields, shown afterwards as an unlinked dropped pin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		linked, err := location.CountLinkedEntries(cmd.Context(), a.store.DB(), a.cfg.UserID, args[0])
		if err != nil {
			return err
		}

		if err := a.repo.SoftDelete(cmd.Context(), a.cfg.UserID, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s, %d entries unlinked\n", args[0], linked)
		return nil
	},
}

var locationMergeCmd = &cobra.Command{
	Use:   "merge <winner-id> <loser-id>",
	Short: "Merge two saved locations, keeping the winner's details",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		moved, err := a.engine.MergeTwoSavedLocations(cmd.Context(), a.cfg.UserID, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Merged: %d entries moved\n", moved)
		return nil
	},
}

var locationDismissCmd = &cobra.Command{
	Use:   "dismiss <id-a> <id-b>",
	Short: "Stop suggesting a merge for this pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.engine.DismissMergeSuggestion(cmd.Context(), a.cfg.UserID, args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Dismissed")
		return nil
	},
}

func init() {
	locationAddCmd.Flags().StringVar(&flagAddress, "address", "", "street address")
	locationAddCmd.Flags().StringVar(&flagCity, "city", "", "city")
	locationAddCmd.Flags().BoolVar(&flagNearby, "nearby", false, "look up POI provenance near the coordinates")

	locationCmd.AddCommand(locationAddCmd)
	locationCmd.AddCommand(locationListCmd)
	locationCmd.AddCommand(locationRmCmd)
	locationCmd.AddCommand(locationMergeCmd)
	locationCmd.AddCommand(locationDismissCmd)
}
