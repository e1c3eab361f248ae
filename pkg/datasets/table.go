package datasets

import (
	"os"
	"regexp"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
)

// removeSpaceAroundCommas normalizes files written as "1, 2".
var removeSpaceAroundCommas = regexp.MustCompile(`[ \t]*,[ \t]*`)

// ReadTable reads a CSV file with a header into a DataFrame. Column types are detected.
func ReadTable(filePath string) (dataframe.DataFrame, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "reading table")
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f, dataframe.HasHeader(true))
	if df.Err != nil {
		return df, errors.Wrapf(df.Err, "parsing table %q", filePath)
	}
	return df, nil
}

// AssignColumns sets the property name of each record of list to the values of the given
// columns of the corresponding row of df, as a float32 vector shaped `[len(columns)]`.
// df must have one row per record.
func AssignColumns(list *graphdata.List, df dataframe.DataFrame, columns []string, name string) error {
	if df.Nrow() != list.Len() {
		return errors.Wrapf(graphdata.ErrLengthMismatch, "table has %d rows, but list has %d records", df.Nrow(), list.Len())
	}
	if len(columns) == 0 {
		return errors.Errorf("AssignColumns(%q): no columns given", name)
	}
	selected := df.Select(columns)
	if selected.Err != nil {
		return errors.Wrapf(selected.Err, "AssignColumns(%q)", name)
	}
	values := make([][]float64, len(columns))
	for ii, column := range columns {
		col := selected.Col(column)
		if col.Type() != series.Float && col.Type() != series.Int && col.Type() != series.Bool {
			return errors.Errorf("AssignColumns(%q): column %q is not numeric (%s)", name, column, col.Type())
		}
		values[ii] = col.Float()
	}
	rows := make([]*tensors.Tensor, list.Len())
	for row := range rows {
		flat := make([]float32, len(columns))
		for ii := range columns {
			flat[ii] = float32(values[ii][row])
		}
		rows[row] = tensors.FromFlatDataAndDimensions(flat, len(columns))
	}
	return list.Set(name, rows)
}

// readNumbers reads a headerless, comma separated file of numbers, one row per line. It returns
// the values column by column. Spaces around the commas are ignored.
func readNumbers(filePath string, colType series.Type) ([]series.Series, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "reading table")
	}
	text := removeSpaceAroundCommas.ReplaceAllString(string(contents), ",")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.Errorf("file %q is empty", filePath)
	}
	df := dataframe.ReadCSV(strings.NewReader(text), dataframe.HasHeader(false),
		dataframe.DetectTypes(false), dataframe.DefaultType(colType))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "parsing %q", filePath)
	}
	columns := make([]series.Series, df.Ncol())
	for ii, name := range df.Names() {
		columns[ii] = df.Col(name)
		if columns[ii].HasNaN() {
			return nil, errors.Errorf("file %q, column #%d: invalid numbers", filePath, ii)
		}
	}
	return columns, nil
}

// readInts reads a headerless table of integers, returning it column by column.
func readInts(filePath string) ([][]int, error) {
	columns, err := readNumbers(filePath, series.Int)
	if err != nil {
		return nil, err
	}
	ints := make([][]int, len(columns))
	for ii, col := range columns {
		ints[ii], err = col.Int()
		if err != nil {
			return nil, errors.Wrapf(err, "file %q, column #%d", filePath, ii)
		}
	}
	return ints, nil
}

// readFloatRows reads a headerless table of floats, returning the rows as float32 vectors.
func readFloatRows(filePath string) ([][]float32, error) {
	columns, err := readNumbers(filePath, series.Float)
	if err != nil {
		return nil, err
	}
	numRows := columns[0].Len()
	rows := make([][]float32, numRows)
	for row := range rows {
		rows[row] = make([]float32, len(columns))
	}
	for col, values := range columns {
		for row, v := range values.Float() {
			rows[row][col] = float32(v)
		}
	}
	return rows, nil
}
