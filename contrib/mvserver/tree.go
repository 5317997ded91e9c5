package mvserver

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/revtree"
)

// treeColors paints revisions by their role in the selected workspace.
type treeColors struct {
	winner    *color.Color
	conflict  *color.Color
	tombstone *color.Color
	compacted *color.Color
}

func newTreeColors(enabled bool) treeColors {
	c := treeColors{
		winner:    color.New(color.FgGreen, color.Bold),
		conflict:  color.New(color.FgYellow),
		tombstone: color.New(color.FgRed),
		compacted: color.New(color.Faint),
	}
	for _, col := range []*color.Color{c.winner, c.conflict, c.tombstone, c.compacted} {
		if enabled {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

// Tree prints the revision tree of cmd.Record as seen from the default
// workspace. Colours are used only when w is a terminal.
func (a *App) Tree(_ context.Context, cmd *TreeCommand, w io.Writer) error {
	t, err := a.manager.Tree(cmd.Record)
	if err != nil {
		return err
	}
	colored := false
	if f, ok := w.(*os.File); ok {
		colored = isatty.IsTerminal(f.Fd())
	}
	sel, _ := t.Selection(a.manager.DefaultWorkspace())
	return printTree(w, t, sel, newTreeColors(colored))
}

func printTree(w io.Writer, t *revtree.Tree, sel revtree.Selection, colors treeColors) error {
	if _, err := fmt.Fprintf(w, "record %s (%d revisions)\n", t.Record, t.Len()); err != nil {
		return err
	}
	if t.Root.IsZero() {
		return nil
	}
	conflicts := make(map[models.RevisionID]bool, len(sel.Conflicts))
	for _, id := range sel.Conflicts {
		conflicts[id] = true
	}

	var walk func(id models.RevisionID, depth int) error
	walk = func(id models.RevisionID, depth int) error {
		n, _ := t.Node(id)
		label := id.String()
		var tags []string
		switch {
		case id == sel.Winner:
			label = colors.winner.Sprint(label)
			tags = append(tags, "winner")
		case conflicts[id]:
			label = colors.conflict.Sprint(label)
			tags = append(tags, "conflict")
		case n.Deleted:
			label = colors.tombstone.Sprint(label)
		case n.Compacted:
			label = colors.compacted.Sprint(label)
		}
		if n.Deleted {
			tags = append(tags, "deleted")
		}
		if n.Compacted {
			tags = append(tags, "compacted")
		}
		line := strings.Repeat("  ", depth) + label
		if len(tags) > 0 {
			line += " [" + strings.Join(tags, ", ") + "]"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		for _, child := range n.Children {
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(t.Root, 0)
}
