// gcnn downloads, inspects and prepares graph datasets for training.
//
// Examples:
//
//	gcnn download --dataset MUTAG --data ~/work/gcnn
//	gcnn info --dataset MUTAG
//	gcnn clean --dataset MUTAG --require edge_indices,node_labels --ops sort_edge_indices
//	gcnn pack --dataset MUTAG --property edge_indices --convention sample --num_graphs 2
//	gcnn scale --dataset MD17_aspirin_dft --target graph_energy --forces node_forces --output ~/work/scaler
package main

import (
	goflag "flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yuchanpei/gcnn/pkg/datasets"
	"k8s.io/klog/v2"
)

var (
	flagDataDir string
	flagDataset string
	flagLocal   string
	flagReload  bool
)

var rootCmd = &cobra.Command{
	Use:   "gcnn",
	Short: "Download, inspect and prepare graph datasets",
	Long: "gcnn manages graph datasets stored under --data. Known datasets are: " +
		strings.Join(datasets.KnownNames(), ", ") + ".",
	SilenceUsage: true,
}

func init() {
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data", "~/work/gcnn", "Base directory of the datasets.")
	rootCmd.PersistentFlags().StringVar(&flagDataset, "dataset", "MUTAG", "Name of the dataset.")
	rootCmd.PersistentFlags().StringVar(&flagLocal, "local", "",
		"Directory with the raw files of a TU formatted dataset, used instead of downloading --dataset.")
	rootCmd.PersistentFlags().BoolVar(&flagReload, "reload", false, "Ignore the cache and read the raw files again.")
}

// openDataset returns the dataset selected by the flags.
func openDataset() (*datasets.Dataset, error) {
	config := datasets.Config{DataDir: flagDataDir, Reload: flagReload}
	if flagLocal != "" {
		return datasets.New(flagDataset, datasets.LocalDir(flagLocal), &datasets.TUDataset{Name: flagDataset}, config), nil
	}
	return datasets.Known(flagDataset, config)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		klog.Errorf("%+v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
