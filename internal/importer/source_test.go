package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dining-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// writeWorkbook builds an XLSX file with one sheet per entry, first row as headers
func writeWorkbook(t *testing.T, sheets map[string][][]any, order ...string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	path := filepath.Join(t.TempDir(), "menus.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestFileSource_XLSX(t *testing.T) {
	path := writeWorkbook(t, map[string][][]any{
		"Fall": {
			{"Vendor *", "Item Name *", "Calories", "Last Updated"},
			{"Cafe A", "Chicken Bowl", 450, 45536},
			{nil, nil, nil, nil},
			{"Cafe A", "Veggie Wrap", "380 kcal", "2024-09-02"},
		},
		"Notes": {
			{"Remarks"},
			{"menus rotate weekly"},
		},
	}, "Fall", "Notes")

	sheets, err := NewFileSource().Open(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, sheets, 2)

	fall := sheets[0]
	assert.Equal(t, "Fall", fall.Name)
	assert.Equal(t, []string{"Vendor", "Item Name", "Calories", "Last Updated"}, fall.Headers)
	require.Len(t, fall.Rows, 2)
	assert.Equal(t, 450.0, fall.Rows[0].Cells["Calories"])
	assert.Equal(t, 45536.0, fall.Rows[0].Cells["Last Updated"])
	assert.Equal(t, "380 kcal", fall.Rows[1].Cells["Calories"])
	assert.Equal(t, 4, fall.Rows[1].Line)

	assert.Equal(t, "Notes", sheets[1].Name)
}

func TestFileSource_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "west_campus.csv")
	content := "\ufeffRestaurant,Dish,Protein,Restaurant\n" +
		"Grill,Burger,25g,ignored\n" +
		",,,\n" +
		"Grill,\"Fries, Large\",3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sheets, err := NewFileSource().Open(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, sheets, 1)

	sheet := sheets[0]
	assert.Equal(t, "west_campus", sheet.Name)
	assert.Equal(t, "Restaurant", sheet.Headers[0])
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, "Grill", sheet.Rows[0].Cells["Restaurant"])
	assert.Equal(t, "25g", sheet.Rows[0].Cells["Protein"])
	assert.Equal(t, "Fries, Large", sheet.Rows[1].Cells["Dish"])
	assert.Equal(t, 4, sheet.Rows[1].Line)
}

func TestFileSource_Errors(t *testing.T) {
	_, err := NewFileSource().Open(context.Background(), "/nonexistent/menu.xlsx")
	assert.ErrorIs(t, err, ErrSourceUnreadable)

	_, err = NewFileSource().Open(context.Background(), "menu.json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	corrupt := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a zip"), 0o644))
	_, err = NewFileSource().Open(context.Background(), corrupt)
	assert.ErrorIs(t, err, ErrSourceUnreadable)
}

func TestReadWorkbook_EmptyCSV(t *testing.T) {
	sheets, err := ReadWorkbook(context.Background(), strings.NewReader(""), models.ImportFormatCSV, "empty")
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	assert.Empty(t, sheets[0].Rows)
}

func TestFormatFromFilename(t *testing.T) {
	format, err := FormatFromFilename("Menus.XLSX")
	require.NoError(t, err)
	assert.Equal(t, models.ImportFormatXLSX, format)

	format, err = FormatFromFilename("menus.csv")
	require.NoError(t, err)
	assert.Equal(t, models.ImportFormatCSV, format)

	_, err = FormatFromFilename("menus.xls")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
