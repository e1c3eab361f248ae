package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download and materialize the dataset, saving its cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := openDataset()
		if err != nil {
			return err
		}
		list, err := ds.Load(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s graphs cached in %s\n", ds.Name, humanize.Comma(int64(list.Len())), ds.CachePath())
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the properties of the dataset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := openDataset()
		if err != nil {
			return err
		}
		list, err := ds.Load(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render(fmt.Sprintf("%s: %s graphs", ds.Name, humanize.Comma(int64(list.Len())))))
		t := newTable([]string{"Property", "DType", "Shape", "Records", "Bytes"},
			lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
		for _, s := range summarize(list) {
			t.Add(s.Present < list.Len() || s.Inconsistent, s.Name, s.DType, s.Shape,
				humanize.Comma(int64(s.Present)), humanize.IBytes(uint64(s.Bytes)))
		}
		fmt.Println(t.Render())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd, infoCmd)
}

// propertySummary describes one property across the records of a list.
type propertySummary struct {
	Name, DType string

	// Shape shows the dimensions of the property, with the range "min..max" for axes that
	// vary across records.
	Shape string

	// Present is the number of records holding the property.
	Present int

	// Inconsistent is set if records disagree on dtype or rank.
	Inconsistent bool

	Bytes uintptr
}

// summarize returns one summary per property name found in list, sorted by name.
func summarize(list *graphdata.List) []propertySummary {
	type accumulator struct {
		summary  propertySummary
		min, max []int
	}
	byName := make(map[string]*accumulator)
	for _, r := range list.Records() {
		for _, name := range r.Names() {
			t := r.Get(name)
			if t == nil {
				continue
			}
			shape := t.Shape()
			acc, found := byName[name]
			if !found {
				acc = &accumulator{
					summary: propertySummary{Name: name, DType: shape.DType.String()},
					min:     slices.Clone(shape.Dimensions),
					max:     slices.Clone(shape.Dimensions),
				}
				byName[name] = acc
			}
			acc.summary.Present++
			acc.summary.Bytes += shape.Memory()
			if shape.DType.String() != acc.summary.DType || shape.Rank() != len(acc.min) {
				acc.summary.Inconsistent = true
				continue
			}
			for axis, dim := range shape.Dimensions {
				acc.min[axis] = min(acc.min[axis], dim)
				acc.max[axis] = max(acc.max[axis], dim)
			}
		}
	}

	summaries := make([]propertySummary, 0, len(byName))
	for _, acc := range byName {
		dims := make([]string, len(acc.min))
		for axis := range dims {
			if acc.min[axis] == acc.max[axis] {
				dims[axis] = fmt.Sprint(acc.min[axis])
			} else {
				dims[axis] = fmt.Sprintf("%d..%d", acc.min[axis], acc.max[axis])
			}
		}
		acc.summary.Shape = "[" + strings.Join(dims, ", ") + "]"
		summaries = append(summaries, acc.summary)
	}
	slices.SortFunc(summaries, func(a, b propertySummary) int { return strings.Compare(a.Name, b.Name) })
	return summaries
}
