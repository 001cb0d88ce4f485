package excel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestLoadEntriesFromExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.xlsx")
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"id", "lemma", "level", "rank", "register", "ipa", "forms", "collections"},
		{"de:gehen:1", "gehen (ging, gegangen)", "a1", 12, "", "[ˈɡeːən]", "ging!; gegangen!; geht", "verbs"},
		{"", "Haus", "A1", 3},
		{"", ""},
		{"de:bad:1", "schlecht", "A2", "many"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	cfg := DefaultImportConfig()
	cfg.FilePath = path
	cfg.Lang = "de"
	res, err := LoadEntriesFromFile(cfg)
	require.NoError(t, err)
	require.Equal(t, 3, res.TotalProcessed)
	require.Len(t, res.Entries, 2)
	require.Len(t, res.Errors, 1)

	gehen := res.Entries[0]
	require.Equal(t, "gehen", gehen.Lemma)
	require.Equal(t, "A1", gehen.Level)
	require.Equal(t, 12, *gehen.FrequencyRank)
	require.Equal(t, "ˈɡeːən", gehen.Transcription)
	require.Len(t, gehen.Forms, 3)
	require.True(t, gehen.Forms[0].Irregular)
	require.False(t, gehen.Forms[2].Irregular)
	require.Equal(t, []string{"verbs"}, gehen.Collections)

	require.Equal(t, "de:haus:1", res.Entries[1].ID)
}

func TestLoadEntriesFromCSVWithCollectionHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.csv")
	data := "id,lemma,level\n" +
		"Bewegung,,\n" +
		"de:laufen:1,laufen,A1\n" +
		"de:rennen:1,rennen,B1\n" +
		"Haus,,\n" +
		"de:tuer:1,Tür,A1\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg := DefaultImportConfig()
	cfg.FilePath = path
	cfg.Lang = "de"
	res, err := LoadEntriesFromFile(cfg)
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)
	require.Equal(t, []string{"Bewegung"}, res.Entries[0].Collections)
	require.Equal(t, []string{"Bewegung"}, res.Entries[1].Collections)
	require.Equal(t, []string{"Haus"}, res.Entries[2].Collections)
}

func TestLoadEntriesRequiresLang(t *testing.T) {
	_, err := LoadEntriesFromFile(ImportConfig{FilePath: "x.csv"})
	require.Error(t, err)
}

func TestColumnToIndex(t *testing.T) {
	require.Equal(t, 0, columnToIndex("A"))
	require.Equal(t, 7, columnToIndex("h"))
	require.Equal(t, 26, columnToIndex("AA"))
}
