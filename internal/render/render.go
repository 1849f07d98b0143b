// Package render draws distance reports for terminals.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// Box renders one report as a titled panel around its plain text form.
func Box(r gossip.Report) string {
	var body strings.Builder
	for d := 1; d < len(r.Hops); d++ {
		body.WriteString(r.HopLine(d))
		body.WriteByte('\n')
	}
	fmt.Fprintf(&body, "%d rounds in %s", r.Rounds, r.Elapsed)
	title := pterm.LightCyan(fmt.Sprintf("| node%d |", r.Node))
	return pterm.DefaultBox.
		WithHorizontalPadding(2).
		WithTitle(title).
		WithTitleTopCenter().
		Sprint(body.String())
}

// Table summarizes many reports, one row per node. verified marks which
// nodes matched a reference computation; nil hides the column.
func Table(reports []gossip.Report, verified map[gossip.NodeID]bool) (string, error) {
	header := []string{"Node", "Rounds", "Known", "Max hops", "Elapsed"}
	if verified != nil {
		header = append(header, "BFS")
	}
	data := pterm.TableData{header}
	for _, r := range reports {
		row := []string{
			strconv.Itoa(int(r.Node)),
			strconv.Itoa(r.Rounds),
			strconv.Itoa(len(r.Distances())),
			strconv.Itoa(r.MaxHops()),
			r.Elapsed.String(),
		}
		if verified != nil {
			mark := pterm.LightGreen("ok")
			if !verified[r.Node] {
				mark = pterm.LightRed("MISMATCH")
			}
			row = append(row, mark)
		}
		data = append(data, row)
	}
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
}
