package toolregistry

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/rakunlabs/flowlane/internal/blocks"
)

// SMTPConfig is the fixed outgoing-mail server configuration a send_email
// tool instance sends through. Grounded on the teacher's nodes/email.go
// smtpConfig, but supplied once at registration instead of looked up per
// block by a config_id, since spec.md's environment layer carries secrets
// as plain decrypted variables rather than a NodeConfig table.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	TLS                bool
	NoTLS              bool
	InsecureSkipVerify bool
}

// SendEmailTool sends mail via SMTP, grounded on the teacher's
// nodes/email.go emailNode and its use of wneessen/go-mail.
type SendEmailTool struct {
	Config SMTPConfig
}

func (t SendEmailTool) Execute(ctx context.Context, params map[string]any, _ blocks.ToolContext) (blocks.ToolResult, error) {
	to, _ := params["to"].(string)
	subject, _ := params["subject"].(string)
	body, _ := params["body"].(string)
	if to == "" || subject == "" || body == "" {
		return blocks.ToolResult{Success: false, Error: "send_email: 'to', 'subject', and 'body' are required"}, nil
	}
	contentType, _ := params["content_type"].(string)
	if contentType == "" {
		contentType = "text/plain"
	}
	from, _ := params["from"].(string)
	if from == "" {
		from = t.Config.From
	}
	if from == "" {
		return blocks.ToolResult{Success: false, Error: "send_email: no 'from' address configured"}, nil
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return blocks.ToolResult{}, fmt.Errorf("send_email: set from: %w", err)
	}
	if err := m.To(splitAddresses(to)...); err != nil {
		return blocks.ToolResult{}, fmt.Errorf("send_email: set to: %w", err)
	}
	if cc, _ := params["cc"].(string); cc != "" {
		if err := m.Cc(splitAddresses(cc)...); err != nil {
			return blocks.ToolResult{}, fmt.Errorf("send_email: set cc: %w", err)
		}
	}
	if bcc, _ := params["bcc"].(string); bcc != "" {
		if err := m.Bcc(splitAddresses(bcc)...); err != nil {
			return blocks.ToolResult{}, fmt.Errorf("send_email: set bcc: %w", err)
		}
	}
	m.Subject(subject)
	m.SetBodyString(mail.ContentType(contentType), body)
	if replyTo, _ := params["reply_to"].(string); replyTo != "" {
		if err := m.ReplyTo(replyTo); err != nil {
			return blocks.ToolResult{}, fmt.Errorf("send_email: set reply-to: %w", err)
		}
	}

	opts := []mail.Option{
		mail.WithPort(t.Config.Port),
		mail.WithTimeout(30 * time.Second),
	}
	if t.Config.Username != "" || t.Config.Password != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.Config.Username), mail.WithPassword(t.Config.Password))
	}
	if t.Config.NoTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	} else {
		opts = append(opts, mail.WithTLSConfig(&tls.Config{
			ServerName:         t.Config.Host,
			InsecureSkipVerify: t.Config.InsecureSkipVerify,
		}))
		if t.Config.TLS {
			opts = append(opts, mail.WithSSL(), mail.WithTLSPolicy(mail.TLSMandatory))
		} else {
			opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
		}
	}

	client, err := mail.NewClient(t.Config.Host, opts...)
	if err != nil {
		return blocks.ToolResult{}, fmt.Errorf("send_email: create client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return blocks.ToolResult{Success: false, Error: err.Error(), Output: map[string]any{"status": "failed"}}, nil
	}

	return blocks.ToolResult{Success: true, Output: map[string]any{"status": "sent"}}, nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
