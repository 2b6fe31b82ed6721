package mcpserver

// NoteFormatContract describes the on-disk note format that LLM consumers
// should know about when creating or updating notes.
const NoteFormatContract = `# Blink Note Format Contract

Every note is one Markdown file in the notes directory. Blink writes the
files itself; tools create and edit notes through ` + "`" + `create_note` + "`" + ` and
` + "`" + `update_note` + "`" + `, never by writing files directly.

## Structure

` + "```" + `markdown
---
id: 3f1c0a5e-8a4f-4a40-9d39-0f1e2c3b4a5d   # stable identity, never changes
title: Groceries                            # display title, may be empty
created_at: 2025-01-15T09:30:00Z            # RFC 3339, set once
updated_at: 2025-01-16T18:02:11Z            # RFC 3339, refreshed on every change
tags:                                       # YAML list, may be empty
  - home
position: 3                                 # manual sort rank, optional
---

Body text in standard Markdown.
` + "```" + `

## Rules

1. **Identity is the ` + "`" + `id` + "`" + `.** Tools address notes by id, not by file name.
   Two files never share an id; Blink assigns a fresh one to a duplicate.
2. **File names** are derived from the title when a note is created
   (` + "`" + `Groceries` + "`" + ` becomes ` + "`" + `groceries.md` + "`" + `) and do not change when the title does.
3. **Positions** are unique non-negative integers. Notes with a position
   are listed first, in ascending order; the rest follow, oldest first.
   Use ` + "`" + `reorder_notes` + "`" + ` to change the order.
4. **Tags** are trimmed and de-duplicated, first occurrence wins.
5. **Optimistic concurrency.** ` + "`" + `read_note` + "`" + ` returns a ` + "`" + `checksum` + "`" + ` (SHA-256 of
   the body). Pass it as ` + "`" + `if_match` + "`" + ` to ` + "`" + `update_note` + "`" + ` to reject the write
   when someone else changed the note in the meantime.
6. **Encoding** is UTF-8. The frontmatter block must be the first thing in
   the file.

## Windows

A note may be shown in one detached window at a time. Deleting a note
closes its window. ` + "`" + `list_windows` + "`" + ` shows the recorded windows and
` + "`" + `reconcile_windows` + "`" + ` aligns the records with the windows actually open.
`
