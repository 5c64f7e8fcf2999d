package mcpserver

// QuerySyntax describes the search query language accepted by
// search_entities and by bulk delete jobs.
const QuerySyntax = `# Entity Search Query Syntax

A query selects entities of one type. An empty query matches every entity.

## Grammar

` + "```" + `
query   := orExpr
orExpr  := andExpr ("or" andExpr)*
andExpr := term ("and"? term)*
term    := name op value | name "=" "[" value "," value "]" | "@" link "=" entityId | word
op      := "=" | "!=" | "~" | ">" | "<" | ">=" | "<="
` + "```" + `

- Keywords ` + "`and`" + ` and ` + "`or`" + ` are case-insensitive. Adjacent terms without a
  keyword are joined with ` + "`and`" + `.
- Values are bare words or quoted with ` + "`'`" + ` or ` + "`\"`" + `; backslash escapes the next character.
- Comparisons use the property's type: integers and doubles compare numerically,
  datetimes chronologically (RFC 3339 or YYYY-MM-DD), strings lexicographically.
- ` + "`~`" + ` is a case-insensitive substring match.
- ` + "`name=[a,b]`" + ` is an inclusive range.
- ` + "`@link=1-4`" + ` matches entities whose link named ` + "`link`" + ` points at entity ` + "`1-4`" + `.
- A bare word matches entities having any string property containing it.
- A missing property only satisfies ` + "`!=`" + `.

## Examples

` + "```" + `
login=bob
age>=18 and age<65
name~"john smith" or email~smith
created=[2024-01-01,2024-12-31]
@group=2-1 active=true
admin
` + "```" + `
`
