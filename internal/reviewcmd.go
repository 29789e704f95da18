package internal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/starford/vault/internal/highlightservice"
	"github.com/starford/vault/internal/models"
	"github.com/starford/vault/internal/review"
)

const reviewHelp = "commands: n(ext) p(rev) c(opy) d(elete) l(ink) /<query> u <url> q(uit)"

// RunReview is a line-driven carousel over the collection. It reads commands
// from in and prints the highlight under the cursor to out after each one.
func RunReview(ctx context.Context, in io.Reader, out io.Writer, opts ...Option) error {
	c, err := setup(ctx, append(opts, WithLogOutput(io.Discard)))
	if err != nil {
		return err
	}
	defer c.Close()

	hs, err := c.svc.List(ctx, highlightservice.Query{})
	if err != nil {
		return err
	}
	st := review.NewState(hs)

	fmt.Fprintln(out, reviewHelp)
	printCard(out, st)

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "q" || line == "quit":
			return nil
		case line == "n" || line == "next":
			st.Next()
		case line == "p" || line == "prev":
			st.Prev()
		case line == "c" || line == "copy":
			// Raw text only, so the output can be piped to a clipboard tool.
			if cur, ok := st.Current(); ok {
				fmt.Fprintln(out, cur.Text)
			}
			continue
		case line == "l" || line == "link":
			if cur, ok := st.Current(); ok {
				fmt.Fprintln(out, models.DeepLink(cur.URL, cur.Text))
			}
			continue
		case line == "d" || line == "delete":
			sel, ok := st.RemoveCurrent()
			if !ok {
				break
			}
			if _, err := c.svc.Delete(ctx, sel); err != nil {
				fmt.Fprintf(out, "delete failed: %v\n", err)
				if fresh, lerr := c.svc.List(ctx, highlightservice.Query{}); lerr == nil {
					st.Reset(fresh)
				}
			}
		case strings.HasPrefix(line, "/"):
			st.SetQuery(strings.TrimPrefix(line, "/"))
		case strings.HasPrefix(line, "u "), line == "u":
			st.SetPage(strings.TrimSpace(strings.TrimPrefix(line, "u")))
		default:
			fmt.Fprintln(out, reviewHelp)
			continue
		}
		printCard(out, st)
	}
	return sc.Err()
}

func printCard(out io.Writer, st *review.State) {
	cur, ok := st.Current()
	if !ok {
		fmt.Fprintln(out, "(no highlights)")
		return
	}
	i, n := st.Position()
	title := review.DisplayTitle(cur.Title)
	if title == "" {
		title = cur.URL
	}
	fmt.Fprintf(out, "[%d/%d] %s\n\"%s\"\n%s\n", i+1, n, title, cur.Text, cur.URL)
}
