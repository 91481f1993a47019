package toolbuilder

// planPrompt asks for a JSON build plan before any code is written. Plan
// failures are non-fatal; the code phase runs either way.
const planPrompt = `Du planst ein neues Werkzeug für einen Agenten-Server. Antworte AUSSCHLIESSLICH mit einem JSON-Objekt:

{
  "tool_name": "snake_case_name",
  "summary": "Ein Satz, was das Werkzeug tut",
  "usage": "Wann der Agent es einsetzen soll",
  "parameters": [{"name": "...", "type": "string|number|boolean", "description": "...", "required": true}],
  "approach": "Wie die Implementierung vorgeht (Stichpunkte)"
}

Kein Markdown, kein weiterer Text.`

// codePrompt is the strict generation prompt. The produced program is a
// complete, self-contained Go main package speaking the newline-delimited
// JSON-RPC tool protocol; only the standard library is allowed so the
// sandbox can build it without network access.
const codePrompt = `Du schreibst ein eigenständiges Go-Programm, das genau ein Werkzeug über das folgende Zeilenprotokoll auf stdin/stdout anbietet. Antworte AUSSCHLIESSLICH mit einem JSON-Objekt:

{"tool_name": "snake_case_name", "code": "<vollständige main.go als String>"}

Protokoll (eine JSON-Zeile pro Frame):
- {"jsonrpc":"2.0","id":N,"method":"initialize",...} → {"jsonrpc":"2.0","id":N,"result":{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"<tool_name>","version":"1.0"}}}
- {"jsonrpc":"2.0","method":"notifications/initialized"} → keine Antwort
- {"jsonrpc":"2.0","id":N,"method":"tools/list"} → {"jsonrpc":"2.0","id":N,"result":{"tools":[{"name":"<tool_name>","description":"...","inputSchema":{"type":"object","properties":{...},"required":[...]}}]}}
- {"jsonrpc":"2.0","id":N,"method":"tools/call","params":{"name":"...","arguments":{...}}} → {"jsonrpc":"2.0","id":N,"result":{"content":[{"type":"text","text":"<JSON-Ergebnis>"}]}}

Harte Regeln:
1. NUR die Go-Standardbibliothek. Keine externen Module.
2. Das Programm liest Zeilen mit bufio.Scanner von os.Stdin, schreibt genau eine Antwortzeile pro Request auf os.Stdout, und beendet sich bei EOF mit Exit-Code 0.
3. Die Argument-Namen in inputSchema.properties MÜSSEN exakt den Feldern entsprechen, die tools/call ausliest. Ein generisches "params"- oder "data"-Objekt ist verboten.
4. Fehler bei tools/call als {"content":[{"type":"text","text":"{\"error\": \"...\"}"}]} melden, niemals das Programm beenden.
5. Unbekannte Methoden mit {"jsonrpc":"2.0","id":N,"error":{"code":-32601,"message":"method not found"}} beantworten.
6. package main, kompilierbar mit go build ohne Warnungen.

Kein Markdown, keine Code-Zäune, nur das JSON-Objekt.`

// fixPrompt feeds a failed validation back for repair.
const fixPrompt = `Der vorherige Entwurf des Werkzeugs ist bei der Validierung durchgefallen. Korrigiere den Code und antworte AUSSCHLIESSLICH mit demselben JSON-Format {"tool_name": "...", "code": "..."}.

Fehlerausgabe der Validierung:
%s

Bisheriger Code:
%s`
