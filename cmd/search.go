/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/seckatie/librarian/internal/core/page"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the catalogue, interactively when no query is given",
	Long: `Search submits the page's search form. With a query it searches once and
prints the results. Without one, on a terminal, it opens a search box that
searches as you type once the input settles. Enter or Ctrl-C leaves it.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSearch(cmd, args); err != nil {
			log.Fatalf("Search failed: %v", err)
		}
	},
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := len(args) == 0
	if interactive && !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("no query given and stdin is not a terminal")
	}

	s, err := openSession(ctx, cmd, "")
	if err != nil {
		return err
	}
	defer s.Close()

	if !interactive {
		results, err := s.ctrl.Search(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printResults(cmd.OutOrStdout(), results)
		return nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	out := crlfWriter{w: cmd.OutOrStdout()}
	var mu sync.Mutex
	box := s.ctrl.NewSearchBox(ctx, s.cfg.Search.Debounce, s.cfg.Search.MinLength, func(query string, results *page.Page, err error) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprint(out, "\r\x1b[J\n")
		if err != nil {
			fmt.Fprintf(out, "Search for %q failed: %v\n", query, err)
			return
		}
		printResults(out, results)
	})
	defer box.Close()

	return readQuery(bufio.NewReader(os.Stdin), out, &mu, box.Input)
}

// readQuery edits a one-line query from raw terminal input, echoing it to w
// and passing every new value to input. It returns on Enter, Ctrl-C, Ctrl-D
// or end of input.
func readQuery(r io.RuneReader, w io.Writer, mu sync.Locker, input func(string)) error {
	var query []rune
	redraw := func() {
		mu.Lock()
		fmt.Fprintf(w, "\r\x1b[KSearch: %s", string(query))
		mu.Unlock()
	}
	redraw()
	for {
		ch, _, err := r.ReadRune()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch {
		case ch == '\r' || ch == '\n' || ch == 3 || ch == 4:
			mu.Lock()
			fmt.Fprint(w, "\n")
			mu.Unlock()
			return nil
		case ch == 127 || ch == 8:
			if len(query) == 0 {
				continue
			}
			query = query[:len(query)-1]
		case ch < 32:
			continue
		default:
			query = append(query, ch)
		}
		redraw()
		input(string(query))
	}
}

func printResults(w io.Writer, results *page.Page) {
	fmt.Fprintf(w, "%s (%s)\n", results.Title(), results.URL().RequestURI())
	rows := results.TableRows("table")
	if len(rows) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "  %s\n", strings.Join(row, " | "))
	}
}

// crlfWriter translates \n to \r\n for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(c.w, strings.ReplaceAll(string(p), "\n", "\r\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}

func init() {
	rootCmd.AddCommand(searchCmd)
	addSessionFlags(searchCmd, "/books")
}
