package mcpserver

// BundleFormatContract describes the backup bundle and document rules that
// LLM consumers should follow when saving documents or importing bundles.
const BundleFormatContract = `# agencydesk Bundle Format Contract

agencydesk stores named JSON documents. A bundle is a snapshot of every document.

## Documents

- A document is any JSON value stored under a key. Saving replaces the whole value.
- Keys are 1-128 characters of ` + "`" + `A-Z a-z 0-9 . _ -` + "`" + ` and must not start with ` + "`" + `_` + "`" + `
  (keys starting with an underscore are reserved for bookkeeping).
- Well-known keys: ` + "`" + `clients` + "`" + `, ` + "`" + `invoices` + "`" + `, ` + "`" + `tasks` + "`" + `, ` + "`" + `notifications` + "`" + `,
  ` + "`" + `strikes` + "`" + `, ` + "`" + `displayTitles` + "`" + `, ` + "`" + `calendar-events` + "`" + `.

## Bundle

` + "```" + `json
{
  "clients": [{"id": "c1", "name": "Acme"}],
  "tasks": [],
  "_meta": {
    "exportedAt": "2026-10-18T09:30:00Z",
    "version": 1,
    "app": "agencydesk"
  }
}
` + "```" + `

## Rules

1. The top level MUST be a JSON object.
2. Every key other than ` + "`" + `_meta` + "`" + ` is a document key and follows the key rules above.
3. ` + "`" + `_meta` + "`" + ` is optional on import. ` + "`" + `version` + "`" + ` greater than 1 is rejected.
4. Import is all-or-nothing: if any key is invalid nothing is written.
5. Keys not present in the bundle are left unchanged by an import.
`
