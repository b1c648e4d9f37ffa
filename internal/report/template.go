package report

import "html/template"

var digestTemplate = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<head>
<style>
body { text-align: center; margin: 0; padding: 0; }
h3 { font-weight: bold; }
.header { text-align: center; }
.content { text-align: center; }
.footer { font-style: italic; }
</style>
</head>
<body>
<div class="header">
<h3>REGISTRO DE APARELHOS INATIVOS</h3>
</div>
<div class="content">
<p>Abaixo está o registro de aparelhos identificados como inativos:</p>
<ul>
{{- range .}}
<li>{{.}}</li>
{{- end}}
</ul>
</div>
<div class="content">
<p>Anexo: Arquivo Excel com detalhes dos aparelhos inativos</p>
</div>
<div class="footer">
Mensagem de envio automático, por favor não responda a mesma.
</div>
</body>
</html>
`))
