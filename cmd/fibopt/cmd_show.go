package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/newtron-network/fibopt/pkg/cli"
	"github.com/newtron-network/fibopt/pkg/prefixlist"
)

var showCmd = &cobra.Command{
	Use:       "show [lem|lpm]",
	Short:     "Print the stored prefix lists",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"lem", "lpm"},
	RunE: func(cmd *cobra.Command, args []string) error {
		classes := prefixlist.Classes
		if len(args) == 1 {
			class, err := prefixlist.ParseClass(args[0])
			if err != nil {
				return err
			}
			classes = []prefixlist.Class{class}
		}

		store := prefixlist.NewStore(cfg.Path)
		lists := make(map[prefixlist.Class]prefixlist.List, len(classes))
		for _, class := range classes {
			l, err := store.Load(class)
			if err != nil {
				return err
			}
			lists[class] = l
		}

		if jsonOutput {
			out := make(map[string][]prefixlist.Entry, len(lists))
			for class, l := range lists {
				out[class.String()] = l.Entries()
			}
			return json.NewEncoder(os.Stdout).Encode(out)
		}
		printLists(os.Stdout, classes, lists, cfg.Capacity)
		return nil
	},
}

func printLists(w io.Writer, classes []prefixlist.Class, lists map[prefixlist.Class]prefixlist.List, capacity func(prefixlist.Class) int) {
	for i, class := range classes {
		if i > 0 {
			fmt.Fprintln(w)
		}
		l := lists[class]
		fmt.Fprintf(w, "%s: %d/%d entries\n", cli.Bold(class.ListName()), len(l), capacity(class))
		t := cli.NewTableTo(w, "SEQ", "ACTION", "PREFIX").WithPrefix("  ")
		for _, e := range l.Entries() {
			t.Row(strconv.Itoa(e.Sequence), e.Action, e.Prefix)
		}
		t.Flush()
	}
}
