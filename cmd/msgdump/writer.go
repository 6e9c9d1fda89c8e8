package main

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"
)

type writer struct {
	format string
	buf    *bufio.Writer
	csv    *csv.Writer
}

func newWriter(format string, out io.Writer) *writer {
	w := &writer{format: format, buf: bufio.NewWriter(out)}
	if format == "csv" {
		w.csv = csv.NewWriter(w.buf)
	}
	return w
}

func (w *writer) header() error {
	if w.format == "raw" {
		return nil
	}
	return w.write(fieldNames)
}

func (w *writer) row(row map[string]string) error {
	cells := make([]string, len(fieldNames))
	for i, name := range fieldNames {
		cells[i] = row[name]
	}
	return w.write(cells)
}

func (w *writer) raw(line []byte) error {
	if _, err := w.buf.Write(line); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

func (w *writer) write(cells []string) error {
	if w.csv != nil {
		return w.csv.Write(cells)
	}
	_, err := w.buf.WriteString(strings.Join(cells, "\t") + "\n")
	return err
}

func (w *writer) flush() error {
	if w.csv != nil {
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			return err
		}
	}
	return w.buf.Flush()
}
