package main

import (
	"fmt"
	"io"

	"github.com/tinyrange/eic/internal/trace"
)

func dumpTrace(w io.Writer, filename, kind string) error {
	reader, closer, err := trace.NewReaderFromFile(filename)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	defer closer.Close()

	var filter trace.Kind
	if kind != "" {
		filter, err = trace.ParseKind(kind)
		if err != nil {
			return err
		}
	}

	return reader.Each(func(rec trace.Record) error {
		if filter != trace.KindInvalid && rec.Kind != filter {
			return nil
		}
		_, err := fmt.Fprintln(w, rec)
		return err
	})
}
