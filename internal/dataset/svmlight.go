package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// maxLineSize bounds one svmlight line.
const maxLineSize = 4 << 20

type sparseEntry struct {
	idx int
	val float64
}

// ReadSVMLight parses the svmlight / LETOR text format:
//
//	<label> qid:<id> <index>:<value> ... [# comment]
//
// Rows of one query must be contiguous. Feature indices are one-based
// unless a zero index appears, in which case the file is read as
// zero-based. nFeatures fixes the width of the feature matrix so that
// several files share one layout; 0 infers it from the largest index.
// A file without any qid is a single query; mixing rows with and without
// qid is an error.
func ReadSVMLight(name string, r io.Reader, nFeatures int) (*Dataset, error) {
	var (
		labels  []float64
		qids    []string
		rows    [][]sparseEntry
		minIdx  = -1
		maxIdx  = -1
		withQID int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line, _, _ := strings.Cut(sc.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		label, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, svmlightError(name, lineNo, fmt.Sprintf("invalid label %q", fields[0]))
		}

		qid := ""
		row := make([]sparseEntry, 0, len(fields)-1)
		for _, f := range fields[1:] {
			key, value, ok := strings.Cut(f, ":")
			if !ok {
				return nil, svmlightError(name, lineNo, fmt.Sprintf("malformed pair %q", f))
			}
			if key == "qid" {
				qid = value
				continue
			}
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 {
				return nil, svmlightError(name, lineNo, fmt.Sprintf("invalid feature index %q", key))
			}
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, svmlightError(name, lineNo, fmt.Sprintf("invalid feature value %q", value))
			}
			if minIdx < 0 || idx < minIdx {
				minIdx = idx
			}
			maxIdx = max(maxIdx, idx)
			row = append(row, sparseEntry{idx: idx, val: v})
		}

		if qid != "" {
			withQID++
		}
		labels = append(labels, label)
		qids = append(qids, qid)
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeValidation, fmt.Sprintf("read svmlight dataset %s", name), err)
	}
	if withQID != 0 && withQID != len(labels) {
		return nil, errors.ValidationError(
			fmt.Sprintf("dataset %s: %d of %d rows have a qid", name, withQID, len(labels)))
	}

	shift := 1
	if minIdx == 0 {
		shift = 0
	}
	width := maxIdx + 1 - shift
	if nFeatures > 0 {
		if width > nFeatures {
			return nil, errors.ValidationError(
				fmt.Sprintf("dataset %s: feature index %d exceeds n_features %d", name, maxIdx, nFeatures))
		}
		width = nFeatures
	}
	width = max(width, 0)

	features := make([][]float64, len(rows))
	for i, row := range rows {
		dense := make([]float64, width)
		for _, e := range row {
			dense[e.idx-shift] = e.val
		}
		features[i] = dense
	}

	if withQID == 0 {
		offsets := []int{0}
		if len(labels) > 0 {
			offsets = append(offsets, len(labels))
		}
		return New(name, labels, offsets, features)
	}
	return FromQueryIDs(name, labels, qids, features)
}

// LoadSVMLight reads an svmlight file from disk.
func LoadSVMLight(name, path string, nFeatures int) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError(fmt.Sprintf("file %s", path))
		}
		return nil, errors.Wrap(errors.CodeInternal, "open "+path, err)
	}
	defer f.Close()
	return ReadSVMLight(name, f, nFeatures)
}

func svmlightError(name string, line int, msg string) error {
	return errors.ValidationError(fmt.Sprintf("dataset %s line %d: %s", name, line, msg))
}
