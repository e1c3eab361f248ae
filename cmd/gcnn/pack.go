package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/yuchanpei/gcnn/pkg/disjoint"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
)

var (
	flagProperty   string
	flagConvention string
	flagNumGraphs  int
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Print the disjoint packing of the first graphs of the dataset",
	Long: "pack concatenates --property of the first --num_graphs graphs and prints the row lengths. " +
		"If the property is an edge index property, its indices are also printed in the batch convention, " +
		"that is, shifted to point into the concatenated nodes.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		convention, err := disjoint.ParseIndexConvention(flagConvention)
		if err != nil {
			return err
		}
		ds, err := openDataset()
		if err != nil {
			return err
		}
		list, err := ds.Load(context.Background())
		if err != nil {
			return err
		}
		if flagNumGraphs <= 0 {
			return errors.Errorf("--num_graphs must be > 0, got %d", flagNumGraphs)
		}
		list = list.Slice(0, min(flagNumGraphs, list.Len()))
		ragged, err := disjoint.PackRagged(list, flagProperty)
		if err != nil {
			return err
		}
		fmt.Printf("%s lengths: %v\n", flagProperty, ragged.RowLengths)
		fmt.Printf("%s values: %s\n", flagProperty, ragged.Values)
		if graphdata.KindOf(flagProperty) != graphdata.AxisEdge || !strings.HasSuffix(flagProperty, "_indices") {
			return nil
		}
		nodeLengths := make([]int, list.Len())
		for ii, r := range list.Records() {
			nodeLengths[ii] = r.NumNodes()
		}
		shifted, err := disjoint.ShiftIndices(ragged.Values, nodeLengths, ragged.RowLengths, convention)
		if err != nil {
			return err
		}
		fmt.Printf("node lengths: %v\n", nodeLengths)
		fmt.Printf("%s (batch convention): %s\n", flagProperty, shifted)
		return nil
	},
}

func init() {
	packCmd.Flags().StringVar(&flagProperty, "property", graphdata.EdgeIndices, "Property to pack.")
	packCmd.Flags().StringVar(&flagConvention, "convention", disjoint.ConventionSample.String(),
		"Index convention of the stored edge indices: \"sample\" (local to each graph) or \"batch\".")
	packCmd.Flags().IntVar(&flagNumGraphs, "num_graphs", 3, "Number of graphs to pack.")
	rootCmd.AddCommand(packCmd)
}
