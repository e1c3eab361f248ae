package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
)

var (
	flagRequire    []string
	flagOperations []string
	flagInputs     string
	flagFill       float64
	flagWeight     float64
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Transform, clean and validate the dataset, and save it back to its cache",
	Long: "clean applies the operations given in --ops to every graph, removes the graphs missing any of the " +
		"--require properties, checks the remaining graphs against the input specs in --inputs (a YAML list " +
		"of {name, ragged, shape, dtype}) and saves the result to the dataset cache.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := openDataset()
		if err != nil {
			return err
		}
		list, err := ds.Load(context.Background())
		if err != nil {
			return err
		}
		numGraphs := list.Len()
		params := graphdata.Params{"fill": flagFill, "value": flagWeight}
		for _, op := range flagOperations {
			if err := list.MapOperation(op, params, nil); err != nil {
				return err
			}
		}
		removed := list.Clean(flagRequire...)
		if flagInputs != "" {
			specs, err := graphdata.LoadInputSpecs(flagInputs)
			if err != nil {
				return err
			}
			if err := list.AssertValidModelInput(specs); err != nil {
				return errors.WithMessagef(err, "dataset %q", ds.Name)
			}
		}
		if list.Len() == 0 {
			return errors.Errorf("dataset %q: no graphs left after cleaning, cache not updated", ds.Name)
		}
		if err := list.Save(ds.CachePath()); err != nil {
			return err
		}

		t := newTable(nil)
		t.Add(false, "graphs", humanize.Comma(int64(numGraphs)))
		t.Add(len(removed) > 0, "removed", humanize.Comma(int64(len(removed))))
		t.Add(false, "operations", fmt.Sprint(flagOperations))
		t.Add(false, "cache", ds.CachePath())
		fmt.Println(t.Render())
		return nil
	},
}

func init() {
	cleanCmd.Flags().StringSliceVar(&flagRequire, "require", nil,
		"Properties every graph must have (non-empty), graphs missing any are removed.")
	cleanCmd.Flags().StringSliceVar(&flagOperations, "ops", nil,
		fmt.Sprintf("Operations applied to every graph, in order. One of %v.", graphdata.OperationValues()))
	cleanCmd.Flags().StringVar(&flagInputs, "inputs", "", "YAML file with the model input specs to validate against.")
	cleanCmd.Flags().Float64Var(&flagFill, "fill", 0, "Value of the edge properties of added self loops.")
	cleanCmd.Flags().Float64Var(&flagWeight, "weight", 1, "Value used by set_edge_weights_uniform.")
	rootCmd.AddCommand(cleanCmd)
}
