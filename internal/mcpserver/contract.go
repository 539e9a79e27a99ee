package mcpserver

// NoteFormatContract describes how sangmemo notes are shaped so that LLM
// consumers create and edit them consistently.
const NoteFormatContract = `# sangmemo Note Format Contract

A note is a short Markdown memo plus metadata. Notes are created with the
` + "`" + `create_note` + "`" + ` tool; the server owns ids, timestamps, view counters and lock state.

## Fields

| field        | type                                   | notes                                   |
|--------------|----------------------------------------|-----------------------------------------|
| title        | string                                 | optional; empty titles display the first line of content |
| content      | Markdown                               | the memo body                           |
| tags         | list of strings                        | trimmed, duplicates dropped, order kept |
| importance   | low, medium, high                      | defaults to medium                      |
| color        | red, orange, yellow, green, blue, purple | optional; empty means uncolored       |
| category     | string                                 | optional free-form grouping             |
| reminderDate | RFC 3339 timestamp                     | optional; fires a reminder notification once due |

## Rules

1. **Content is plain Markdown.** Headings, lists and emphasis render as usual.
2. **Keep the writer's language.** Do not translate notes.
3. **Tags are short labels** (at most 64 characters each, five suggested at a time).
4. **Locked notes** hide their content. Pass the password to ` + "`" + `read_note` + "`" + ` to open one.
5. **Organized notes** were restructured by the assistant; saving new content clears the flag.

## Images

- Images are embedded inline as data URIs: ` + "`" + `![alt](data:image/png;base64,...)` + "`" + `.
- Use the ` + "`" + `attach_image` + "`" + ` tool with either ` + "`" + `data_uri` + "`" + ` or an http(s) ` + "`" + `url` + "`" + `; it appends the token
  to the end of the note.
- Supported formats: png, jpeg, gif, webp, svg. Maximum size 10 MB.

## Example

` + "```" + `markdown
# Groceries

- milk
- eggs

![receipt](data:image/png;base64,iVBORw0KGgo...)
` + "```" + `
`
