package kv

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/skv/cmd/util"
	"github.com/ValentinKolb/skv/lib/types"
	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [bin=value]...",
		Short: "Writes one or more bins to a record",
		Long: util.WrapString("Writes bins to the record identified by key. " +
			"Values are stored as integers when they parse as one, as floats when they parse as one, " +
			"and as strings otherwise."),
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}
			bins, err := parseBins(args[1:])
			if err != nil {
				return err
			}
			if err := kvClient.Put(nil, key, bins...); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key] [bin]...",
		Short: "Reads a record, optionally restricted to the given bins",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}
			record, err := kvClient.Get(nil, key, args[1:]...)
			if err != nil {
				return err
			}
			printRecord(args[0], record)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}
			existed, err := kvClient.Delete(nil, key)
			if err != nil {
				return err
			}
			if existed {
				fmt.Println("deleted successfully")
			} else {
				fmt.Println("record did not exist")
			}
			return nil
		},
	}
	existsCmd = &cobra.Command{
		Use:   "exists [key]",
		Short: "Checks if a record exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}
			found, err := kvClient.Exists(nil, key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[0], found)
			return nil
		},
	}
	touchCmd = &cobra.Command{
		Use:   "touch [key]",
		Short: "Resets the expiration of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}
			if err := kvClient.Touch(nil, key); err != nil {
				return err
			}
			fmt.Println("touched successfully")
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [bin]...",
		Short: "Streams all records of the configured namespace and set",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := kvClient.Scan(nil, util.GetNamespace(), util.GetSet(), args...)
			if err != nil {
				return err
			}
			defer rs.Close()

			count := 0
			for result := range rs.Results() {
				if result.Err != nil {
					return result.Err
				}
				fmt.Println(result.Record.String())
				count++
			}
			fmt.Printf("%d records\n", count)
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info [command]...",
		Short: "Runs text info commands on a random cluster node",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := kvClient.RequestInfo(args...)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(values))
			for name := range values {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s\t%s\n", name, values[name])
			}
			return nil
		},
	}
)

// parseKey builds a key in the configured namespace and set
func parseKey(userKey string) (*types.Key, error) {
	return types.NewKey(util.GetNamespace(), util.GetSet(), userKey)
}

// parseBins converts "name=value" arguments into bins
func parseBins(args []string) ([]*types.Bin, error) {
	bins := make([]*types.Bin, 0, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("bin %q must have the form name=value", arg)
		}

		var value interface{} = raw
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			value = i
		} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
			value = f
		}

		bin, err := types.NewBin(name, value)
		if err != nil {
			return nil, err
		}
		bins = append(bins, &bin)
	}
	return bins, nil
}

// printRecord prints a record in a human readable form
func printRecord(userKey string, record *types.Record) {
	fmt.Printf("key=%s, gen=%d, exp=%d\n", userKey, record.Generation, record.Expiration)
	names := make([]string, 0, len(record.Bins))
	for name := range record.Bins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s=%v\n", name, record.Bins[name].Object())
	}
}
