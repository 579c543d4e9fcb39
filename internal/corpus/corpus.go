// Package corpus loads the dialogue/note datasets the pipeline trains on.
package corpus

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Column names fixed by dataset convention.
const (
	ColumnDialogue = "dialogue"
	ColumnNote     = "note"
)

// Pair is one immutable dialogue/note example.
type Pair struct {
	Dialogue string
	Note     string
}

// Split names used throughout the pipeline.
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
)

// Corpus holds the three dataset splits. Splits are read-only after loading.
type Corpus struct {
	Train      []Pair
	Validation []Pair
	Test       []Pair
}

// Paths names the CSV file for each split.
type Paths struct {
	Train      string
	Validation string
	Test       string
}

// Load reads all three splits. Every file must have exactly the two
// conventional columns and no empty cells.
func Load(paths Paths) (*Corpus, error) {
	train, err := LoadSplit(paths.Train)
	if err != nil {
		return nil, fmt.Errorf("loading train split: %w", err)
	}
	validation, err := LoadSplit(paths.Validation)
	if err != nil {
		return nil, fmt.Errorf("loading validation split: %w", err)
	}
	test, err := LoadSplit(paths.Test)
	if err != nil {
		return nil, fmt.Errorf("loading test split: %w", err)
	}
	return &Corpus{Train: train, Validation: validation, Test: test}, nil
}

// LoadSplit reads one CSV split, preserving row order.
func LoadSplit(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	pairs, err := ReadSplit(f, path)
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// ReadSplit parses CSV content from r. The path is used for error reporting
// only.
func ReadSplit(r io.Reader, path string) ([]Pair, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &SchemaError{Path: path, Message: "file is empty"}
	}
	if err != nil {
		return nil, &SchemaError{Path: path, Message: fmt.Sprintf("failed to read header: %v", err)}
	}
	dialogueCol, noteCol, err := resolveColumns(header, path)
	if err != nil {
		return nil, err
	}

	var pairs []Pair
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, &SchemaError{Path: path, Row: row, Message: fmt.Sprintf("malformed record: %v", err)}
		}
		pair := Pair{Dialogue: record[dialogueCol], Note: record[noteCol]}
		if strings.TrimSpace(pair.Dialogue) == "" {
			return nil, &SchemaError{Path: path, Row: row, Message: "empty dialogue text"}
		}
		if strings.TrimSpace(pair.Note) == "" {
			return nil, &SchemaError{Path: path, Row: row, Message: "empty note text"}
		}
		pairs = append(pairs, pair)
	}
	if len(pairs) == 0 {
		return nil, &SchemaError{Path: path, Message: "no data rows"}
	}
	return pairs, nil
}

// resolveColumns checks the header carries exactly the two conventional
// columns, in either order.
func resolveColumns(header []string, path string) (dialogueCol, noteCol int, err error) {
	dialogueCol, noteCol = -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case ColumnDialogue:
			dialogueCol = i
		case ColumnNote:
			noteCol = i
		default:
			return 0, 0, &SchemaError{Path: path, Message: fmt.Sprintf("unexpected column %q, want exactly %q and %q", name, ColumnDialogue, ColumnNote)}
		}
	}
	if dialogueCol == -1 || noteCol == -1 {
		return 0, 0, &SchemaError{Path: path, Message: fmt.Sprintf("header must contain %q and %q columns", ColumnDialogue, ColumnNote)}
	}
	return dialogueCol, noteCol, nil
}

// Dialogues returns the dialogue texts of pairs, in order.
func Dialogues(pairs []Pair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Dialogue
	}
	return out
}

// Notes returns the note texts of pairs, in order.
func Notes(pairs []Pair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Note
	}
	return out
}
