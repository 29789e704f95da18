package mcpserver

// HighlightFormat describes how highlights are stored and linked, for LLM
// consumers that save or cite them.
const HighlightFormat = `# Vault Highlight Format

A highlight is a piece of visible page text saved together with where it came from.

## Fields

| field | meaning |
|-------|---------|
| ` + "`id`" + `    | generated on save; ` + "`<unix-millis>-<random>`" + ` |
| ` + "`text`" + `  | the exact selected text, whitespace preserved |
| ` + "`url`" + `   | the page URL without its ` + "`#fragment`" + `; http or https only |
| ` + "`title`" + ` | the page title at save time |

## Rules

1. **Text must match the page verbatim.** Re-anchoring searches the page's visible
   text for an exact substring; paraphrased text will never be found again.
2. **Blank text is rejected.**
3. **Duplicates are allowed in storage** but a page shows each text at most once.
4. Deleting by id removes exactly one record.

## Deep links

` + "`get_highlight_link`" + ` returns ` + "`<url>#highlight-<percent-encoded text>`" + `.
Opening that link re-highlights the text and scrolls to it.

## Export formats

- ` + "`txt`" + `: one block per highlight (the text in double quotes, then title,
  then url, each on its own line), blocks separated by a ` + "`---`" + ` line.
- ` + "`json`" + `: ` + "`{\"highlights\": [...]}`" + `.
- ` + "`md`" + `: a Markdown list of blockquotes with links back to the page.
`
