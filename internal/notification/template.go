package notification

import "html/template"

type messageData struct {
	DeviceID string
	Owner    string
	Logo     bool
	LogoSrc  template.URL
}

// cid: is not on html/template's safe scheme list.
var logoSrc = template.URL("cid:" + LogoContentID)

var messageTemplate = template.Must(template.New("inactive-device").Parse(`<!DOCTYPE html>
<html>
<head>
<style>
body { text-align: center; margin: 0; padding: 0; }
h3 { font-weight: bold; }
.header { text-align: center; }
.header img { width: 100px; height: 100px; display: block; margin: 0 auto; }
.content { text-align: center; }
.footer { font-style: italic; }
</style>
</head>
<body>
<div class="header">
{{- if .Logo}}
<img src="{{.LogoSrc}}" alt="Urmobo">
{{- end}}
<h3>APARELHO INATIVO IDENTIFICADO NO SISTEMA</h3>
</div>
<div class="content">
<p>SEGUE ABAIXO OS DADOS PARA VERIFICAÇÃO:</p>
<p><strong>ID:</strong> {{.DeviceID}}</p>
<p><strong>RESPONSAVEL:</strong> {{.Owner}}</p>
</div>
<div class="footer">
Mensagem de envio automático, por favor não responda a mesma.
</div>
</body>
</html>
`))
