package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
	"github.com/yuchanpei/gcnn/pkg/scaler"
)

var (
	flagTarget  string
	flagForces  string
	flagNumbers string
	flagOutput  string
	flagAlpha   float64
)

var scaleCmd = &cobra.Command{
	Use:   "scale",
	Short: "Fit an extensive scaler to a graph level target and save it",
	Long: "scale fits the per-element (--numbers) contributions of the graph level --target by ridge " +
		"regression, plus the scale of the residuals. If --forces is given, an energy-force scaler is " +
		"fitted, that also scales the node level forces. The scaler is saved to --output (.json and .npz).",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagOutput == "" {
			return errors.New("--output is required")
		}
		ds, err := openDataset()
		if err != nil {
			return err
		}
		list, err := ds.Load(context.Background())
		if err != nil {
			return err
		}
		required := []string{flagTarget, flagNumbers}
		if flagForces != "" {
			required = append(required, flagForces)
		}
		if removed := list.Clean(required...); len(removed) > 0 {
			fmt.Printf("ignoring %d graphs missing one of %s\n", len(removed), strings.Join(required, ", "))
		}
		if list.Len() == 0 {
			return errors.Errorf("dataset %q has no graphs with %s", ds.Name, strings.Join(required, ", "))
		}
		y, err := tensorutil.Stack(list.Get(flagTarget))
		if err != nil {
			return errors.WithMessagef(err, "stacking %q", flagTarget)
		}
		numbers := list.Get(flagNumbers)

		var elements []int
		var scale []float64
		if flagForces != "" {
			s := scaler.NewEnergyForceScaler()
			s.Alpha = flagAlpha
			if err := s.Fit(y, list.Get(flagForces), numbers); err != nil {
				return err
			}
			if err := s.Save(flagOutput); err != nil {
				return err
			}
			elements, scale = s.Elements(), s.Scale()
		} else {
			s := scaler.NewExtensiveScaler()
			s.Alpha = flagAlpha
			if err := s.Fit(y, numbers); err != nil {
				return err
			}
			if err := s.Save(flagOutput); err != nil {
				return err
			}
			elements, scale = s.Elements(), s.Scale()
		}

		t := newTable(nil)
		t.Add(false, "graphs", fmt.Sprint(list.Len()))
		t.Add(false, "elements", fmt.Sprint(elements))
		t.Add(false, "scale", fmt.Sprint(scale))
		t.Add(false, "saved", flagOutput)
		fmt.Println(t.Render())
		return nil
	},
}

func init() {
	scaleCmd.Flags().StringVar(&flagTarget, "target", "graph_energy", "Graph level property to scale.")
	scaleCmd.Flags().StringVar(&flagForces, "forces", "", "Node level forces, if set an energy-force scaler is fitted.")
	scaleCmd.Flags().StringVar(&flagNumbers, "numbers", "node_number", "Node level atomic numbers.")
	scaleCmd.Flags().StringVar(&flagOutput, "output", "", "Base path of the saved scaler.")
	scaleCmd.Flags().Float64Var(&flagAlpha, "alpha", scaler.DefaultAlpha, "Ridge regularization.")
	rootCmd.AddCommand(scaleCmd)
}
