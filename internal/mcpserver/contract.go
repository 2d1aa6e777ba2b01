package mcpserver

// NoteFormatURI is the resource URI of NoteFormatContract.
const NoteFormatURI = "gitnote://note-format"

// NoteFormatContract describes the note format that LLM consumers should
// follow when creating or updating notes.
const NoteFormatContract = `# Note Format

Notes are plain text files in a git repository. Every write is committed and
pushed to the remote when one is configured.

## Structure

` + "```" + `markdown
---
title: Weekly groceries     # OPTIONAL, otherwise the first "# " heading is the title
completed?: no              # OPTIONAL, marks the note as a task (yes / no)
updated: 2025-01-15 09:30:00Z
---

Body text in standard Markdown.
` + "```" + `

## Rules

1. **Frontmatter is optional.** When present, the ` + "`---`" + ` fences must be the
   first line of the file.
2. **Paths** are relative to the repository root and use forward slashes.
   A path without an extension gets ` + "`.md`" + `. Only ` + "`.md`" + ` and ` + "`.txt`" + ` files are listed.
3. **Names** must not contain ` + "`" + `? * : | < > " \` + "`" + ` or control characters,
   and ` + "`.`" + ` or ` + "`..`" + ` are not valid path elements.
4. **Folders** starting with a dot are ignored.
5. **Encoding** is UTF-8.
`
