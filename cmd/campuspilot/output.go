package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// printer writes command output; colors follow color.NoColor.
type printer struct {
	out io.Writer
	err io.Writer
}

func newPrinter(out io.Writer, err io.Writer) *printer {
	return &printer{out: out, err: err}
}

func (p *printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Warning(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(p.err, format+"\n", args...)
}

func (p *printer) Failure(format string, args ...any) {
	color.New(color.FgRed).Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Header(title string) {
	color.New(color.Bold).Fprintf(p.out, "\n%s\n", title)
	fmt.Fprintln(p.out, strings.Repeat("-", len(title)))
}

func (p *printer) Table(header []string, rows [][]string) error {
	table := tablewriter.NewTable(p.out,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)
	table.Header(header)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
