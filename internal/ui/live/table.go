package live

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// defaultColumns returns the sample table layout for an 80-column terminal.
func defaultColumns() []table.Column {
	return columnsForWidth(80)
}

// columnsForWidth spreads the free width across the text columns.
func columnsForWidth(width int) []table.Column {
	const fixed = 6 + 20
	free := max(width-fixed-2*5, 30)
	prompt := free / 2
	expected := free / 4
	response := free - prompt - expected
	return []table.Column{
		{Title: "#", Width: 6},
		{Title: "Prompt", Width: prompt},
		{Title: "Expected", Width: expected},
		{Title: "Response", Width: response},
		{Title: "Verdict", Width: 20},
	}
}

// tableStyles returns table styles for the UI.
func tableStyles(noColor bool) table.Styles {
	if noColor {
		return table.DefaultStyles()
	}
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(lipgloss.Color("252"))
	return styles
}

// rowsForState converts recent samples into table rows, newest first.
func rowsForState(state State, columns []table.Column, noColor bool) []table.Row {
	rows := make([]table.Row, 0, len(state.Samples))
	for i := len(state.Samples) - 1; i >= 0; i-- {
		sample := state.Samples[i]
		rows = append(rows, table.Row{
			formatIndex(sample.Index),
			formatText(sample.Prompt, columns[1].Width),
			formatText(sample.ExpectedAnswer, columns[2].Width),
			formatText(sample.ModelResponse, columns[3].Width),
			formatVerdict(sample, noColor),
		})
	}
	return rows
}
