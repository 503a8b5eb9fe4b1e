package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

var verificationTemplate = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html lang="es">
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>Verificación de correo</h2>
  <p>Hola,</p>
  <p>Tu código de verificación es:</p>
  <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
  <p>Ingresa este código en la página de verificación para activar tu cuenta.</p>
  <p>Si no solicitaste este registro, ignora este mensaje.</p>
</body>
</html>`))

// VerificationMessage builds the email carrying a one-time code.
func VerificationMessage(to, code string) (Message, error) {
	var buf bytes.Buffer
	if err := verificationTemplate.Execute(&buf, struct{ Code string }{code}); err != nil {
		return Message{}, fmt.Errorf("render verification mail: %w", err)
	}
	return Message{
		To:      to,
		Subject: "Código de verificación",
		HTML:    buf.String(),
	}, nil
}
