package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"cluetracker.ai/internal/sim/catalogs"
	"cluetracker.ai/internal/sim/tracking/engine"
	"cluetracker.ai/internal/sim/tracking/model"
)

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	cfgs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, col := range rightAligned {
		cfgs = append(cfgs, table.ColumnConfig{Number: col + 1, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(cfgs)
	return tw.Render()
}

func recordRows(recs []engine.Record, contents catalogs.ContentCatalog) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		ids := make([]string, 0, len(r.ContentIDs))
		for _, id := range r.ContentIDs {
			ids = append(ids, fmt.Sprint(int(id)))
		}
		desc := contents.Describe(r.ContentIDs)
		if desc == "" {
			desc = "-"
		}
		rows = append(rows, []string{
			fmt.Sprint(int(r.TypeID)),
			fmt.Sprintf("%d,%d,%d", r.Location[0], r.Location[1], r.Location[2]),
			strings.Join(ids, " "),
			fmt.Sprint(r.DespawnTicksRemaining),
			desc,
		})
	}
	return rows
}

var recordHeaders = []string{"Type", "Location", "Contents", "Remaining", "Text"}

func contentIDs(ids []int) []model.ContentID {
	out := make([]model.ContentID, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.ContentID(id))
	}
	return out
}
