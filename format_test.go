package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"ID", "TITLE", "ROLE"}
	rows := [][]string{
		{"1", "Chrome Syncable FileSystem", "sync-root"},
		{"2", "app-a", "app-root"},
	}

	printTable(&buf, headers, rows)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")

	require.Len(t, lines, 3)
	assert.Equal(t, "ID  TITLE                       ROLE", lines[0])
	assert.Equal(t, "2   app-a                       app-root", lines[2])
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]int{"files": 3}))
	assert.Equal(t, "{\n  \"files\": 3\n}\n", buf.String())
}

func TestPrintJSON_Unencodable(t *testing.T) {
	var buf bytes.Buffer

	assert.Error(t, printJSON(&buf, make(chan int)))
}

func TestYesNo(t *testing.T) {
	assert.Equal(t, "yes", yesNo(true))
	assert.Equal(t, "no", yesNo(false))
}
